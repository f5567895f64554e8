package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/pkg/config"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
	"agentrelay/pkg/store"
)

type fakePurger struct {
	cutoff int64
	dryRun bool
	calls  int
	err    error
}

func (f *fakePurger) PurgeMessagesBefore(_ context.Context, cutoff int64, dryRun bool) (int, error) {
	f.calls++
	f.cutoff, f.dryRun = cutoff, dryRun
	return 3, f.err
}

func retentionCfg(dryRun bool) config.RetentionConfig {
	return config.RetentionConfig{
		Enabled: true,
		Cron:    "0 2 * * *",
		Period:  config.Duration(24 * time.Hour),
		DryRun:  dryRun,
	}
}

func TestRunOnceUsesPeriodCutoff(t *testing.T) {
	p := &fakePurger{}
	m := New(retentionCfg(true), p, logger.Discard())
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	res, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour).UnixMilli(), p.cutoff)
	assert.True(t, p.dryRun)
	assert.Equal(t, 3, res.Purged)
	assert.NotEmpty(t, res.RunID)
}

func TestRunOnceWrapsStoreError(t *testing.T) {
	boom := errors.New("disk gone")
	m := New(retentionCfg(false), &fakePurger{err: boom}, logger.Discard())
	_, err := m.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRunOncePurgesStore(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	ch, err := s.CreateChannel(ctx, models.Channel{ID: ids.New(), ServerID: ids.DefaultServerID, Name: "c", Type: models.ChannelTypeGroup})
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	_, err = s.CreateMessage(ctx, models.Message{ChannelID: ch.ID, AuthorID: ids.New(), Content: "old", CreatedAt: old})
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, models.Message{ChannelID: ch.ID, AuthorID: ids.New(), Content: "new"})
	require.NoError(t, err)

	dry := New(retentionCfg(true), s, logger.Discard())
	res, err := dry.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)
	msgs, err := s.ListMessages(ctx, ch.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	res, err = New(retentionCfg(false), s, logger.Discard()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)
	msgs, err = s.ListMessages(ctx, ch.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Content)
}

func TestStartDisabledIsNoop(t *testing.T) {
	cfg := retentionCfg(false)
	cfg.Enabled = false
	p := &fakePurger{}
	m := New(cfg, p, logger.Discard())
	cancel, err := m.Start(context.Background())
	require.NoError(t, err)
	cancel()
	assert.Zero(t, p.calls)
}

func TestStartRejectsBadCron(t *testing.T) {
	cfg := retentionCfg(false)
	cfg.Cron = "not a cron"
	_, err := New(cfg, &fakePurger{}, logger.Discard()).Start(context.Background())
	assert.Error(t, err)
}

func TestRunJobSkipsWhileRunning(t *testing.T) {
	p := &fakePurger{}
	m := New(retentionCfg(false), p, logger.Discard())
	m.running = true
	m.runJob(context.Background())
	assert.Zero(t, p.calls)

	m.running = false
	m.runJob(context.Background())
	assert.Equal(t, 1, p.calls)
	assert.False(t, m.running)
}
