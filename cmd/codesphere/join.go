package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	codesphere "github.com/prathdotexe/CodeSphere"
	"github.com/prathdotexe/CodeSphere/audio"
	"github.com/prathdotexe/CodeSphere/shared"
)

// printerEditor is a minimal Editor for a terminal: each entered line
// replaces the document, remote applies are printed indented.
type printerEditor struct {
	printer *shared.Printer

	mu   sync.Mutex
	text string
}

func (e *printerEditor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

func (e *printerEditor) SetText(text string) {
	e.mu.Lock()
	e.text = text
	e.mu.Unlock()
	_ = e.printer.Writeln("document updated:", 0)
	_ = e.printer.Writeln(text, 1)
}

func newJoinCmd() *cobra.Command {
	var (
		server    string
		session   string
		name      string
		withAudio bool
		logFile   string
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a collaboration session from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var logger shared.LoggerAdapter
			if logFile != "" {
				logger = shared.NewFileLogger(logFile, 10, 2, 3, false)
			} else {
				logger = shared.NewNopLogger()
			}
			logger = logger.With(
				zap.String("component", "join"),
				zap.String("version", shared.Version),
			)
			printer, err := shared.NewPrinter("  ", os.Stdout)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			api := codesphere.NewAPIClient(server)
			var info *codesphere.SessionInfo
			if session == "" {
				info, err = api.CreateSession(ctx, codesphere.DefaultLanguage)
			} else {
				info, err = api.GetSession(ctx, session)
			}
			if err != nil {
				return err
			}
			infoYAML, err := yaml.Marshal(map[string]string{
				"session":  info.SessionID,
				"language": string(info.Language),
				"created":  info.CreatedAt,
			})
			if err != nil {
				return err
			}
			_ = printer.Writeln("joined session:", 0)
			_ = printer.Writeln(string(infoYAML), 1)

			cfg := codesphere.Config{BaseURL: server}
			if withAudio {
				opusParams, err := opus.NewParams()
				if err != nil {
					return fmt.Errorf("creating opus params: %w", err)
				}
				cfg.Source = &codesphere.MediaDevicesSource{
					Selector: mediadevices.NewCodecSelector(
						mediadevices.WithAudioEncoders(&opusParams),
					),
					Audio: func(c *mediadevices.MediaTrackConstraints) {
						c.SampleRate = prop.Int(48000)
						c.ChannelCount = prop.Int(1)
						c.SampleSize = prop.Int(16)
					},
				}
			}

			editor := &printerEditor{printer: printer}
			self := codesphere.Participant{
				UserID:   uuid.NewString()[:8],
				Username: name,
			}
			sess, err := codesphere.NewSession(logger, cfg, info.SessionID, self, editor)
			if err != nil {
				return err
			}
			sess.RegisterNotifier(func(n codesphere.Notice) {
				switch n.Kind {
				case codesphere.NoticeUserJoined:
					_ = printer.Writeln("* "+n.Username+" joined", 0)
				case codesphere.NoticeUserLeft:
					_ = printer.Writeln("* "+n.Username+" left", 0)
				case codesphere.NoticeDisconnected:
					_ = printer.Writeln(fmt.Sprintf("* disconnected: %v", n.Err), 0)
					cancel()
				default:
					_ = printer.Writeln(fmt.Sprintf("* %v", n.Err), 0)
				}
			})
			if withAudio {
				sess.RegisterRemoteTrackHandler(func(track *webrtc.TrackRemote) {
					if err := audio.PlayTrack(ctx, logger, track, audio.SpeakerOptions{}); err != nil {
						logger.Warn("remote playback stopped", zap.Error(err))
					}
				})
			}
			if err := sess.Join(ctx); err != nil {
				return err
			}
			defer sess.Leave()

			if withAudio {
				sess.ToggleAudio()
			}

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					sess.LocalEdit(scanner.Text())
				}
				cancel()
			}()

			<-ctx.Done()
			_ = printer.Writeln("leaving session", 0)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8001", "relay base URL")
	cmd.Flags().StringVar(&session, "session", "", "session key (empty creates a new session)")
	cmd.Flags().StringVar(&name, "name", "anonymous", "display name")
	cmd.Flags().BoolVar(&withAudio, "audio", false, "enable microphone capture and remote playback")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write debug logs to this file")
	return cmd
}
