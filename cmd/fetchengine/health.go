package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/fetchengine/internal/config"
	"github.com/oriys/fetchengine/internal/logging"
	"github.com/oriys/fetchengine/internal/metrics"
)

func healthCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Serve /health, /status, /heartbeat and /metrics for this fetchengine deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			config.LoadFromEnv(cfg)
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
			logging.SetLevelFromString(cfg.Logging.Level)

			if addr == "" {
				addr = cfg.Daemon.HTTPAddr
			}

			if cfg.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Metrics.Namespace, cfg.Metrics.HistogramBuckets)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			w, err := wire(ctx, cfg)
			if err != nil {
				return fmt.Errorf("wire dependencies: %w", err)
			}
			defer w.KVStore.Close()
			if w.CheckpointDB != nil {
				defer w.CheckpointDB.Close()
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.PrometheusHandler())
			mux.Handle("/status", metrics.Global().JSONHandler())
			mux.Handle("/timeseries", metrics.Global().TimeSeriesHandler())
			mux.HandleFunc("/heartbeat", func(rw http.ResponseWriter, r *http.Request) {
				rw.WriteHeader(http.StatusOK)
				rw.Write([]byte(`{"status":"alive"}`))
			})
			mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
				if err := probeKVStore(r.Context(), w); err != nil {
					rw.WriteHeader(http.StatusServiceUnavailable)
					json.NewEncoder(rw).Encode(map[string]string{"status": "error", "error": err.Error()})
					return
				}
				rw.WriteHeader(http.StatusOK)
				json.NewEncoder(rw).Encode(map[string]string{"status": "ok", "service": "fetchengine"})
			})

			httpServer := &http.Server{Addr: addr, Handler: mux}
			serveErr := make(chan error, 1)
			go func() {
				logging.Op().Info("fetchengine health endpoint started", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
					return
				}
				serveErr <- nil
			}()

			select {
			case <-ctx.Done():
				logging.Op().Info("shutdown signal received")
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("health http server: %w", err)
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address for /health, /status, /heartbeat and /metrics (defaults to config)")
	return cmd
}

// probeKVStore confirms the KV store backing this deployment is reachable by
// round-tripping a throwaway key.
func probeKVStore(ctx context.Context, w *wired) error {
	const probeKey = "fetchengine:health:probe"
	if err := w.KVStore.Put(ctx, probeKey, []byte("ok"), time.Minute); err != nil {
		return fmt.Errorf("kv store put: %w", err)
	}
	if _, err := w.KVStore.Get(ctx, probeKey); err != nil {
		return fmt.Errorf("kv store get: %w", err)
	}
	return w.KVStore.Delete(ctx, probeKey)
}
