package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Result summarizes one retention run.
type Result struct {
	RunID  string
	Cutoff time.Time
	Purged int
	DryRun bool
}

// RunOnce purges every message older than the configured period. The purge
// is store-only; nothing is announced on the bus or to sockets.
func (m *Manager) RunOnce(ctx context.Context) (Result, error) {
	res := Result{
		RunID:  uuid.NewString(),
		Cutoff: m.now().Add(-m.cfg.Period.Duration()),
		DryRun: m.cfg.DryRun,
	}
	if m.cfg.Period.Duration() <= 0 {
		return res, fmt.Errorf("invalid retention period: %s", m.cfg.Period.Duration())
	}

	m.log.Info("retention_run_start", "run_id", res.RunID, "cutoff", res.Cutoff.Format(time.RFC3339), "dry_run", res.DryRun)
	n, err := m.purger.PurgeMessagesBefore(ctx, res.Cutoff.UnixMilli(), res.DryRun)
	if err != nil {
		return res, fmt.Errorf("purge messages: %w", err)
	}
	res.Purged = n
	if res.DryRun {
		m.log.Info("retention_run_complete", "run_id", res.RunID, "eligible", n, "dry_run", true)
	} else {
		m.log.Info("retention_run_complete", "run_id", res.RunID, "purged", n)
	}
	return res, nil
}
