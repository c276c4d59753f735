package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prathdotexe/CodeSphere/relay"
	"github.com/prathdotexe/CodeSphere/shared"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := shared.NewStdLogger().With(
				zap.String("component", "relay"),
				zap.String("version", shared.Version),
			)
			cfg, err := relay.Load()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Port = port
			}
			srv, err := relay.NewServer(logger, cfg)
			if err != nil {
				return err
			}
			logger.Info("relay listening", zap.Int("port", cfg.Port))
			return srv.Serve()
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}
