package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/safety/internal/config"
	"github.com/ehr/safety/internal/domain/alert"
	"github.com/ehr/safety/internal/domain/bcma"
	"github.com/ehr/safety/internal/domain/clinical"
	"github.com/ehr/safety/internal/domain/rules"
	"github.com/ehr/safety/internal/platform/db"
	"github.com/ehr/safety/internal/platform/lock"
	"github.com/ehr/safety/internal/platform/websocket"
)

// app holds the wired components shared by serve, evaluate and cleanup.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client

	notifier  *alert.Notifier
	alertSvc  *alert.Service
	cleaner   *alert.Cleaner
	evaluator *rules.Evaluator
	bcmaSvc   *bcma.Service
	hub       *websocket.Hub
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, pool: pool}

	locker, err := a.newLocker(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	alerts := alert.NewRepoPG(pool)
	patients := clinical.NewPatientRepoPG(pool)
	medications := clinical.NewMedicationRepoPG(pool)
	vitals := clinical.NewVitalsRepoPG(pool)

	a.hub = websocket.NewHub(logger)
	a.notifier = alert.NewNotifier(alerts, logger)
	a.notifier.AddSink(alert.NewTopicSink(a.hub))
	a.alertSvc = alert.NewService(alerts, a.notifier, logger)

	a.cleaner = alert.NewCleaner(alerts, logger)
	a.cleaner.Retention = cfg.Retention()
	a.cleaner.BatchSize = cfg.BatchSize
	a.cleaner.MaxPerRun = cfg.MaxAlertsPerCleanupRun

	dedup := alert.NewDeduplicator(alerts, locker, logger)
	a.evaluator = rules.NewEvaluator(patients, medications, vitals, dedup, a.notifier, logger)
	a.evaluator.DueWindow = cfg.MedicationDueWindow()

	a.bcmaSvc = bcma.NewService(patients, medications, bcma.NewAdministrationRepoPG(pool), locker, logger)
	a.bcmaSvc.InTx = db.InTx(pool)

	return a, nil
}

// newLocker uses Redis when REDIS_URL is set so several instances share
// the per-key critical sections.
func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.RedisURL == "" {
		a.logger.Info().Msg("REDIS_URL not set, using in-process locks")
		return lock.NewLocal(), nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.redis = client
	a.logger.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return lock.NewRedis(client, a.cfg.RedisLockPrefix, a.logger), nil
}

// evaluateAll runs one cycle per configured tenant. Degraded cycles are
// reported as a combined error.
func (a *app) evaluateAll(ctx context.Context) error {
	var result *multierror.Error
	for _, tid := range a.cfg.TenantsOrUnscoped() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res := a.evaluator.Run(ctx, tid)
		if res.Degraded() {
			result = multierror.Append(result, fmt.Errorf("tenant %q: %d warning(s)", tid, len(res.Errors)))
		}
	}
	return result.ErrorOrNil()
}

func (a *app) runCleanup(ctx context.Context) (*alert.CleanupResult, error) {
	res, err := a.cleaner.Run(ctx)
	if res != nil && len(res.Tenants) > 0 {
		if nerr := a.notifier.Notify(ctx, res.Tenants...); nerr != nil {
			a.logger.Warn().Err(nerr).Msg("cleanup change notification failed")
		}
	}
	return res, err
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.pool.Close()
}
