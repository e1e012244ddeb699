package importpackage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newPackage() ImportPackage {
	return New(uuid.New(), Source{ExternalID: "pkg-1", DeclaredCounts: map[string]int{"person": 2}}, uuid.New(), time.Now())
}

func TestTransitionTo_FollowsLifecycle(t *testing.T) {
	at := time.Now()
	p := newPackage()
	require.Equal(t, StatusReceived, p.Status())

	var err error
	for _, next := range []Status{StatusStaging, StatusValidating, StatusReviewingConflicts, StatusReviewingConflicts, StatusReadyToCommit, StatusCommitting, StatusCompleted} {
		p, err = p.TransitionTo(next, "", at)
		require.NoError(t, err)
	}
	require.True(t, p.IsTerminal())
	require.NotNil(t, p.CommittedAt())
}

func TestTransitionTo_RejectsSkips(t *testing.T) {
	p := newPackage()
	p, err := p.TransitionTo(StatusStaging, "", time.Now())
	require.NoError(t, err)

	_, err = p.TransitionTo(StatusCommitting, "", time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, StatusStaging, te.From)
	require.Equal(t, StatusStaging, p.Status())
}

func TestTransitionTo_TerminalIsFinal(t *testing.T) {
	p := newPackage()
	p, err := p.TransitionTo(StatusCancelled, "operator request", time.Now())
	require.NoError(t, err)
	require.NotNil(t, p.CancelledAt())

	for _, s := range []Status{StatusStaging, StatusCancelled, StatusQuarantined} {
		_, err = p.TransitionTo(s, "", time.Now())
		require.ErrorIs(t, err, ErrInvalidTransition)
	}
}

func TestQuarantineOnlyBeforeValidation(t *testing.T) {
	p := newPackage()
	_, err := p.TransitionTo(StatusQuarantined, "hash mismatch", time.Now())
	require.NoError(t, err)

	p, _ = p.TransitionTo(StatusStaging, "", time.Now())
	p, _ = p.TransitionTo(StatusValidating, "", time.Now())
	_, err = p.TransitionTo(StatusQuarantined, "", time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResetFailedCommit(t *testing.T) {
	at := time.Now()
	p := newPackage()
	failed, err := p.Fail(StageUpload, "bad manifest", at)
	require.NoError(t, err)
	_, err = failed.ResetFailedCommit(at)
	require.ErrorIs(t, err, ErrInvalidTransition)

	for _, s := range []Status{StatusStaging, StatusValidating, StatusReadyToCommit, StatusCommitting} {
		p, err = p.TransitionTo(s, "", at)
		require.NoError(t, err)
	}
	p, err = p.Fail(StageCommit, "unresolved reference", at)
	require.NoError(t, err)
	require.Equal(t, StageCommit, p.FailureStage())

	p, err = p.ResetFailedCommit(at)
	require.NoError(t, err)
	require.Equal(t, StatusReadyToCommit, p.Status())
	require.Empty(t, p.FailureStage())
}

func TestDeclaredCountsAreCopied(t *testing.T) {
	counts := map[string]int{"person": 1}
	p := New(uuid.New(), Source{DeclaredCounts: counts}, uuid.New(), time.Now())
	counts["person"] = 5
	got := p.DeclaredCounts()
	require.Equal(t, 1, got["person"])
	got["person"] = 9
	require.Equal(t, 1, p.DeclaredCounts()["person"])
}
