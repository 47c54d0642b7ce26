package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reclabs/recbridge/internal/events"
	"github.com/reclabs/recbridge/internal/logging"
	"github.com/reclabs/recbridge/internal/server"
)

// shutdownTimeout bounds the connection drain on SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the RecBridge REST service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !verbose {
				if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
					logging.SetGlobalLevel(level)
				}
			}

			log := logging.NewServerLogger("service")
			bus := events.NewBus(0)
			svc := server.New(cfg, bus, log)

			errCh := make(chan error, 1)
			go func() {
				errCh <- svc.Start()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := svc.Shutdown(ctx); err != nil {
					log.Warn().Err(err).Msg("drain failed, closing")
					svc.Close()
				}
				bus.Close()
				return nil
			}
		},
	}
}
