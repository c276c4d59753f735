package relay

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/prathdotexe/CodeSphere/shared"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults when
// the file is absent.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env, err := shared.Getenv(shared.GetenvString, "CONFIG_ENV", false, "dev")
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(fmt.Sprintf("config/config.%s.yaml", env))
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8001)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("allowed_origins", []string{"*"})

	// Missing file is fine; defaults carry a dev setup.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	// PORT wins over the file for container setups.
	port, err := shared.Getenv(shared.GetenvInt, "PORT", false, cfg.Port)
	if err != nil {
		return nil, err
	}
	cfg.Port = port
	return &cfg, nil
}
