package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor runs the periodic garbage collection for the expiring stores.
// Dedupe rows expire hourly, rate events every five minutes, and audit
// rows once a day.
type Janitor struct {
	dedupe *DedupeStore
	rate   *RateLimitStore
	audit  *AuditStore
	logger *slog.Logger
	cron   *cron.Cron

	DedupeTTL      time.Duration
	RateWindow     time.Duration
	AuditRetention time.Duration
}

// NewJanitor wires the cleanup schedule for the given stores. Any store
// may be nil; its job is skipped.
func NewJanitor(dedupe *DedupeStore, rate *RateLimitStore, audit *AuditStore, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		dedupe:         dedupe,
		rate:           rate,
		audit:          audit,
		logger:         logger.With("component", "janitor"),
		cron:           cron.New(),
		DedupeTTL:      DefaultDedupeTTL,
		RateWindow:     DefaultRateWindow,
		AuditRetention: DefaultAuditRetention,
	}
}

// Start schedules the cleanup jobs and begins the cron loop.
func (j *Janitor) Start() error {
	if j.dedupe != nil {
		if _, err := j.cron.AddFunc("@every 1h", j.cleanDedupe); err != nil {
			return err
		}
	}
	if j.rate != nil {
		if _, err := j.cron.AddFunc("@every 5m", j.cleanRate); err != nil {
			return err
		}
	}
	if j.audit != nil {
		if _, err := j.cron.AddFunc("@daily", j.cleanAudit); err != nil {
			return err
		}
	}
	j.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) cleanDedupe() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	deleted, err := j.dedupe.CleanupOldEntries(ctx, j.DedupeTTL)
	if err != nil {
		j.logger.Warn("dedupe cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		j.logger.Debug("dedupe cleanup", "deleted", deleted)
	}
}

func (j *Janitor) cleanRate() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	deleted, err := j.rate.CleanupOldEvents(ctx, j.RateWindow)
	if err != nil {
		j.logger.Warn("rate limit cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		j.logger.Debug("rate limit cleanup", "deleted", deleted)
	}
}

func (j *Janitor) cleanAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	deleted, err := j.audit.CleanupOldEntries(ctx, j.AuditRetention)
	if err != nil {
		j.logger.Warn("audit cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		j.logger.Info("audit cleanup", "deleted", deleted)
	}
}
