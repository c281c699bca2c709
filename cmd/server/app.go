package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/warp/tenancy-engine/api"
	"github.com/warp/tenancy-engine/config"
	"github.com/warp/tenancy-engine/deposit"
	"github.com/warp/tenancy-engine/jobs"
	"github.com/warp/tenancy-engine/logging"
	"github.com/warp/tenancy-engine/notify"
	"github.com/warp/tenancy-engine/rent"
	"github.com/warp/tenancy-engine/store/sqlite"
	"go.uber.org/zap"
)

// app is everything a command needs, wired from config.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *sqlite.Store
	redis     *redis.Client
	handler   *api.Handler
	scheduler *jobs.Scheduler
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: store}

	notifier := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		notifier = append(notifier, notify.NewRedisNotifier(a.redis, cfg.NotificationQueue))
	}

	schedules := rent.NewScheduleService(store,
		rent.WithRollingLeadDays(cfg.RollingLeadDays),
		rent.WithLogger(logger),
	)
	ledger := rent.NewLedger(store, nil, logger)
	deposits := deposit.NewService(store,
		deposit.WithNotifier(notifier),
		deposit.WithLogger(logger),
	)

	a.scheduler = jobs.NewScheduler(store, ledger, deposits, schedules, jobs.Specs{
		Overdue:      cfg.OverdueCron,
		Reservations: cfg.ReservationSweepCron,
		Rolling:      cfg.RollingCron,
	}, logger)

	a.handler = api.NewHandler(store, api.Services{
		Schedules: schedules,
		Ledger:    ledger,
		Deposits:  deposits,
		Jobs:      a.scheduler,
	}, logger)

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
