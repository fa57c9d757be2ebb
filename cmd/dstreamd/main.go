// Command dstreamd runs the Durable Streams server: an in-memory,
// append-only log addressed entirely over HTTP (spec §1, component L).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/durable-streams/dstreamd/durablestreams"
	"github.com/durable-streams/dstreamd/internal/config"
	"github.com/durable-streams/dstreamd/internal/metrics"
	"github.com/durable-streams/dstreamd/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		host           string
		port           int
		timeoutMs      int64
		noCompression  bool
		configPath     string
		dotenvPath     string
	)

	cmd := &cobra.Command{
		Use:   "dstreamd",
		Short: "Durable Streams server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()

			if err := config.LoadDotEnv(&cfg, dotenvPath); err != nil {
				return err
			}
			if configPath != "" {
				if err := config.LoadYAML(&cfg, configPath); err != nil {
					return err
				}
			}

			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("timeout") {
				cfg.LongPollTimeout = time.Duration(timeoutMs) * time.Millisecond
			}
			cfg.Compress = !noCompression

			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "listen host")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	cmd.Flags().Int64Var(&timeoutMs, "timeout", 30000, "long-poll timeout, in milliseconds")
	cmd.Flags().BoolVar(&noCompression, "no-compression", false, "disable gzip response compression")
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file")
	cmd.Flags().StringVar(&dotenvPath, "env-file", ".env", "optional .env file overlay")

	return cmd
}

func run(cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	st := store.NewStore()
	defer st.Close()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
		stopGauge := startStreamGaugeLoop(st, m)
		defer close(stopGauge)
	}

	handler := durablestreams.New(st, logger, m, durablestreams.Options{
		LongPollTimeout:      cfg.LongPollTimeout,
		SSEReconnectInterval: cfg.SSEReconnectInterval,
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: durablestreams.NewRouter(handler, cfg.Compress),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-sig:
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// startStreamGaugeLoop periodically refreshes the durablestreams_streams
// gauge, since the store doesn't push change notifications for something as
// cheap to poll as its own entry count.
func startStreamGaugeLoop(st *store.Store, m *metrics.Metrics) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Streams.Set(float64(st.Count()))
			case <-stop:
				return
			}
		}
	}()
	return stop
}
