package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSweeper_SweepOnce(t *testing.T) {
	h := newHarness(t)
	queuePackage(t, h)
	sweeper := NewSweeper(h.packages, h.conflicts, time.Minute)

	overdue, purged, err := sweeper.SweepOnce(h.ctx)
	require.NoError(t, err)
	require.Zero(t, overdue)
	require.Zero(t, purged)

	h.deps.Clock = func() time.Time { return testNow.Add(25 * time.Hour) }
	overdue, _, err = sweeper.SweepOnce(h.ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), overdue)
}

func TestSweeper_Run(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, NewSweeper(h.packages, h.conflicts, 0).Run(h.ctx))

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	err := NewSweeper(h.packages, h.conflicts, time.Hour).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
