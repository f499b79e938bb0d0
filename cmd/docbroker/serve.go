package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/docbroker/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		requestTimeout time.Duration
		shutdownGrace  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP conversion API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := server.Options{
				Broker:         rt.broker,
				Health:         rt.health,
				MaxBodyBytes:   int64(cfg.Server.MaxBodyMB) << 20,
				RequestTimeout: requestTimeout,
			}
			if rt.storage != nil {
				opts.Storage = rt.storage
			}

			addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(opts).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Msg("HTTP server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown incomplete")
			}
			log.Info().Msg("shutdown complete")
			return nil
		},
	}

	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 15*time.Minute, "deadline for a single conversion request (0 disables)")
	cmd.Flags().DurationVar(&shutdownGrace, "shutdown-grace", 30*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}
