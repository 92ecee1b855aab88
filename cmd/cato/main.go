// Command cato runs one task instance to completion. A process supervisor
// (or a human, during task development) submits an instance row and hands its
// id to `cato run`; the process exits 0 only when the instance completed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudsidekick/cato/engine/infra/store"
	"github.com/cloudsidekick/cato/engine/runtime"
	"github.com/cloudsidekick/cato/pkg/config"
	"github.com/cloudsidekick/cato/pkg/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cato",
		Short:         "Cato task engine",
		Long:          "Executes Cato task instances: loads a task definition, interprets its steps, and records the run.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file (environment still wins)")
	root.AddCommand(runCmd(), migrateCmd())
	return root
}

// setup loads config and attaches the process logger to the context.
func setup(cmd *cobra.Command) (context.Context, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewLogger(&logger.Config{
		Level: logger.LogLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	_ = stop // released at process exit
	return logger.ContextWith(ctx, log), cfg, nil
}

func runCmd() *cobra.Command {
	var instanceID int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one task instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			if instanceID <= 0 {
				return fmt.Errorf("--instance is required")
			}
			db, err := store.NewDB(ctx, &cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close(ctx)

			repos := runtime.Repos{
				Tasks:     store.NewTaskRepo(db),
				Instances: store.NewInstanceRepo(db),
				Logs:      store.NewLogRepo(db),
				Assets:    store.NewAssetRepo(db),
			}
			rt, err := runtime.New(ctx, cfg, repos, instanceID)
			if err != nil {
				return err
			}
			return rt.Run(ctx)
		},
	}
	cmd.Flags().Int64Var(&instanceID, "instance", 0, "task instance id to execute")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			db, err := store.OpenStd(&cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.RunMigrations(ctx, db); err != nil {
				return err
			}
			logger.FromContext(ctx).Info("schema is up to date")
			return nil
		},
	}
}
