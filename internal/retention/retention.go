// Package retention purges old channel messages on a cron schedule.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"agentrelay/pkg/config"
	"agentrelay/pkg/logger"
)

// Purger is the slice of the channel store retention needs.
type Purger interface {
	PurgeMessagesBefore(ctx context.Context, cutoff int64, dryRun bool) (int, error)
}

type Manager struct {
	cfg    config.RetentionConfig
	purger Purger
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

func New(cfg config.RetentionConfig, purger Purger, log *slog.Logger) *Manager {
	return &Manager{cfg: cfg, purger: purger, log: logger.Or(log), now: time.Now}
}

// Start launches the schedule loop. The returned cancel stops it; with
// retention disabled it is a no-op.
func (m *Manager) Start(ctx context.Context) (context.CancelFunc, error) {
	if !m.cfg.Enabled {
		m.log.Info("retention_disabled")
		return func() {}, nil
	}
	if !gronx.New().IsValid(m.cfg.Cron) {
		return nil, errors.New("invalid retention cron expression: " + m.cfg.Cron)
	}
	ctx, cancel := context.WithCancel(ctx)

	m.log.Info("retention_enabled", "cron", m.cfg.Cron, "period", m.cfg.Period.Duration(), "dry_run", m.cfg.DryRun)
	go m.scheduleLoop(ctx)
	return cancel, nil
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(m.cfg.Cron, m.now(), false)
		if err != nil {
			m.log.Error("retention_nexttick_failed", "cron", m.cfg.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := next.Sub(m.now())
		if wait <= 0 {
			m.runJob(ctx)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			m.runJob(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runJob skips the tick when the previous run is still going.
func (m *Manager) runJob(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Warn("retention_run_skipped", "reason", "previous_run_active")
		return
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if _, err := m.RunOnce(ctx); err != nil {
		m.log.Error("retention_run_error", "error", err)
	}
}
