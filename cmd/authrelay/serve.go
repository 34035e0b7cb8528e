package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/authrelay/authrelay"
)

func serveCmd() *cobra.Command {
	var (
		addr       string
		configPath string
		jsonLogs   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authrelay server",
		Long: `Load the configuration, assemble the auth layer, and serve HTTP.

Configuration is read from authrelay.json (or --config), with
AUTHRELAY_* environment variables taking precedence.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(jsonLogs)
			slog.SetDefault(logger)

			cfg, err := authrelay.LoadConfig(configPath)
			if err != nil {
				return err
			}

			app, err := authrelay.New(*cfg, authrelay.WithLogger(logger))
			if err != nil {
				return err
			}
			defer app.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           app,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("authrelay listening",
					"addr", addr,
					"prefix", cfg.Prefix,
					"sync_path", cfg.SyncPath,
					"upstream", cfg.UpstreamURL)
				errCh <- srv.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case sig := <-stop:
				logger.Info("shutting down", "signal", sig.String())
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Listen address")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to authrelay.json")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")

	return cmd
}

func checkCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := authrelay.LoadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("configuration ok (%s -> %s)\n", cfg.Prefix, cfg.UpstreamURL)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to authrelay.json")

	return cmd
}

func newLogger(jsonLogs bool) *slog.Logger {
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
