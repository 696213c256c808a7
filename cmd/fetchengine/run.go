package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriys/fetchengine/internal/config"
	"github.com/oriys/fetchengine/internal/fetcher"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/logging"
	"github.com/oriys/fetchengine/internal/metrics"
	"github.com/oriys/fetchengine/internal/recipe"
	"github.com/oriys/fetchengine/internal/tracing"
	"github.com/oriys/fetchengine/internal/workqueue"
)

func runCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "run <recipeId>",
		Short: "Run one recipe to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipeID := args[0]

			cfg := config.DefaultConfig()
			config.LoadFromEnv(cfg)
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
			logging.SetLevelFromString(cfg.Logging.Level)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := tracing.Init(ctx, tracing.Config{
				Enabled:     cfg.Tracing.Enabled,
				Exporter:    cfg.Tracing.Exporter,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer tracing.Shutdown(context.Background())

			if cfg.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Metrics.Namespace, cfg.Metrics.HistogramBuckets)
			}

			w, err := wire(ctx, cfg)
			if err != nil {
				return fmt.Errorf("wire dependencies: %w", err)
			}
			defer w.KVStore.Close()
			if w.CheckpointDB != nil {
				defer w.CheckpointDB.Close()
			}

			path := filepath.Join(recipeDir, recipeID+".yaml")
			file, err := recipe.LoadFile(path)
			if err != nil {
				return fmt.Errorf("load recipe %q: %w", path, err)
			}

			locators := recipe.NewLocatorRegistry(w.Deps)
			loaders := recipe.NewLoaderRegistry(w.Deps)
			built, err := recipe.Build(file, locators, loaders)
			if err != nil {
				return fmt.Errorf("build recipe %q: %w", recipeID, err)
			}

			if runID == "" {
				runID = recipeID
			}
			runCtx := fetchmodel.NewFetchRunContext(runID, cfg)
			plan := fetchmodel.FetchPlan{
				Recipe:      built,
				Context:     runCtx,
				Concurrency: file.Concurrency,
			}

			sched := fetcher.New(w.Deps.KVStore, workqueue.NewNoopNotifier())
			logging.Op().Info("starting fetch run", "recipe", recipeID, "run_id", runID)

			result, err := sched.Run(ctx, plan)
			if err != nil {
				return fmt.Errorf("run recipe %q: %w", recipeID, err)
			}

			logging.Op().Info("fetch run finished",
				"recipe", recipeID,
				"processed", result.ProcessedCount,
				"errors", len(result.Errors),
				"duration", result.FinishedAt.Sub(result.StartedAt).String(),
			)
			if len(result.Errors) > 0 {
				return fmt.Errorf("run %q finished with %d error(s); first: %w", recipeID, len(result.Errors), result.Errors[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier; defaults to the recipe id")
	return cmd
}
