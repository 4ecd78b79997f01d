package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWarmer struct {
	calls int
	err   error
}

func (f *fakeWarmer) WarmStats(context.Context) error {
	f.calls++
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatsWarmupWarmsEveryResource(t *testing.T) {
	a := &fakeWarmer{}
	b := &fakeWarmer{}
	job := NewStatsWarmupJob(map[string]StatsWarmer{"items": a, "races": b}, testLogger(), nil)

	err := job.Handle(context.Background(), NewStatsWarmupTask())
	require.NoError(t, err)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
}

func TestStatsWarmupContinuesPastFailures(t *testing.T) {
	broken := &fakeWarmer{err: errors.New("boom")}
	healthy := &fakeWarmer{}
	job := NewStatsWarmupJob(map[string]StatsWarmer{"items": broken, "races": healthy}, testLogger(), nil)

	err := job.Handle(context.Background(), NewStatsWarmupTask())
	require.Error(t, err)
	require.Contains(t, err.Error(), "items")
	require.Equal(t, 1, healthy.calls)
}
