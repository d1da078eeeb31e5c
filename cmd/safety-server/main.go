package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/safety/internal/config"
	"github.com/ehr/safety/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "safety-server",
		Short: "Clinical safety monitoring API and background checks",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server with the periodic evaluation and cleanup tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one rule evaluation cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				tenants := a.cfg.TenantsOrUnscoped()
				if tenant != "" {
					tenants = []string{tenant}
				}
				for _, tid := range tenants {
					res := a.evaluator.Run(ctx, tid)
					fmt.Printf("tenant=%q created=%d skipped=%d escalated=%d warnings=%d\n",
						tid, res.AlertsCreated, res.AlertsSkipped, res.AlertsEscalated, len(res.Errors))
					for _, w := range res.Errors {
						fmt.Printf("  warning: %s\n", w)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().String("tenant", "", "Evaluate a single tenant instead of TENANTS")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one alert cleanup pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.runCleanup(ctx)
				if res != nil {
					fmt.Printf("expired=%d duplicates=%d matched=%d aborted=%t\n",
						res.ExpiredDeleted, res.DuplicateDeleted, res.Matched, res.Aborted)
				}
				return err
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(ctx context.Context, dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, dir, logger))
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}
}
