package scheduler

import (
	"context"
	"fmt"
	"time"

	"FinSeries/internal/domain/models"
	"FinSeries/pkg/cache"
	applogger "FinSeries/pkg/logger"
	"FinSeries/pkg/queue"

	"github.com/robfig/cron/v3"
)

// WatchItem is one series revalidated on every tick.
type WatchItem struct {
	Symbol string
	Freq   string
}

// Config drives the revalidation schedule.
type Config struct {
	Spec         string
	LockTTL      time.Duration
	LookbackDays int
	MsgType      string
	Watchlist    []WatchItem
}

// Scheduler enqueues a revalidation job per watchlist entry on a cron
// schedule. A shared lock keeps concurrent replicas from enqueueing the same
// tick twice.
type Scheduler struct {
	cfg   Config
	cron  *cron.Cron
	queue queue.QueueService
	lock  cache.Service
	log   *applogger.Logger
}

func New(cfg Config, q queue.QueueService, lock cache.Service, l *applogger.Logger) (*Scheduler, error) {
	if l == nil {
		l = applogger.Nop()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	s := &Scheduler{
		cfg:   cfg,
		cron:  cron.New(),
		queue: q,
		lock:  lock,
		log:   l,
	}
	if _, err := s.cron.AddFunc(cfg.Spec, func() { s.Tick(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", cfg.Spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("revalidation scheduler started",
		applogger.String("spec", s.cfg.Spec),
		applogger.Int("watchlist", len(s.cfg.Watchlist)))
}

// Stop halts the schedule and waits for a running tick until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick enqueues one job per watchlist entry and returns how many were queued.
// It does nothing when another instance holds the tick lock.
func (s *Scheduler) Tick(ctx context.Context) int {
	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx, "scheduler:revalidate", s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("scheduler lock failed", applogger.Error(err))
			return 0
		}
		if !ok {
			s.log.Debug("scheduler tick held by another instance")
			return 0
		}
	}

	queued := 0
	for _, w := range s.cfg.Watchlist {
		payload := models.RevalidatePayload{Symbol: w.Symbol, Freq: w.Freq, LookbackDays: s.cfg.LookbackDays}
		if err := s.queue.PublishMessage(ctx, s.cfg.MsgType, payload); err != nil {
			s.log.Error("enqueue revalidation failed",
				applogger.String("symbol", w.Symbol),
				applogger.Error(err))
			continue
		}
		queued++
	}
	s.log.Info("revalidation tick",
		applogger.Int("queued", queued),
		applogger.Int("watchlist", len(s.cfg.Watchlist)))
	return queued
}
