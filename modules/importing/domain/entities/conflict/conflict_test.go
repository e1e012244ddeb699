package conflict

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newConflict(at time.Time) *Conflict {
	pkg := uuid.New()
	return New(uuid.New(), NewParams{
		Number:                NumberFor(at, 7),
		Type:                  TypePersonDuplicate,
		EntityType:            "person",
		First:                 EntityRef{ID: uuid.New(), Kind: RefStaging, Display: "Rana Haddad"},
		Second:                EntityRef{ID: uuid.New(), Kind: RefProduction, Display: "Rana Hadad"},
		SimilarityScore:       0.82,
		ConfidenceLevel:       ConfidenceMedium,
		TargetResolutionHours: 24,
		ImportPackageID:       &pkg,
		DetectedAt:            at,
	})
}

func TestNumberFor(t *testing.T) {
	require.Equal(t, "CNF-2026-000042", NumberFor(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 42))
}

func TestBucket(t *testing.T) {
	require.Equal(t, ConfidenceHigh, Bucket(0.9, 0.9, 0.7))
	require.Equal(t, ConfidenceMedium, Bucket(0.75, 0.9, 0.7))
	require.Equal(t, ConfidenceLow, Bucket(0.55, 0.9, 0.7))
}

func TestNew_Defaults(t *testing.T) {
	c := newConflict(time.Now())
	require.Equal(t, StatusPendingReview, c.Status)
	require.Equal(t, PriorityNormal, c.Priority)
	require.True(t, c.IsAutoDetected)
	require.False(t, c.IsWithinBatch())
}

func TestEscalate_OnlyOnceAndOnlyPending(t *testing.T) {
	at := time.Now()
	actor := uuid.New()
	c := newConflict(at)

	require.NoError(t, c.Escalate(actor, "needs a supervisor", at))
	require.True(t, c.IsEscalated)
	require.Equal(t, PriorityHigh, c.Priority)
	require.ErrorIs(t, c.Escalate(actor, "again", at), ErrAlreadyEscalated)

	resolved := newConflict(at)
	require.NoError(t, resolved.Resolve(actor, Resolution{Action: ActionKeepBoth}, at))
	require.ErrorIs(t, resolved.Escalate(actor, "late", at), ErrNotPending)
}

func TestRecordReviewAttempt_AppendsHistory(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	actor := uuid.New()
	c := newConflict(at)

	require.NoError(t, c.RecordReviewAttempt(actor, "called the collector", at))
	require.NoError(t, c.RecordReviewAttempt(actor, "", at.Add(time.Hour)))
	require.Equal(t, 2, c.ReviewAttempts)

	lines := strings.Split(c.ReviewNotes, "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "2026-03-01T10:00:00Z ["+actor.String()+"] review attempt 1: called the collector", lines[0])
}

func TestAddReviewNote_AllowedAfterResolution(t *testing.T) {
	at := time.Now()
	actor := uuid.New()
	c := newConflict(at)
	require.NoError(t, c.Resolve(actor, Resolution{Action: ActionIgnore}, at))
	require.Equal(t, StatusIgnored, c.Status)

	require.NoError(t, c.AddReviewNote(actor, "confirmed with field team", at))
	require.Contains(t, c.ReviewNotes, "confirmed with field team")
	require.ErrorIs(t, c.AddReviewNote(actor, "  ", at), ErrEmptyNote)
	require.ErrorIs(t, c.Assign(actor, uuid.New(), at), ErrNotPending)
}

func TestResolve_MergeValidation(t *testing.T) {
	at := time.Now()
	actor := uuid.New()
	c := newConflict(at)
	first, second := c.First.ID, c.Second.ID
	stranger := uuid.New()

	cases := []struct {
		name string
		res  Resolution
	}{
		{"missing ids", Resolution{Action: ActionMerge, MergeMapping: json.RawMessage(`{}`)}},
		{"foreign id", Resolution{Action: ActionMerge, MergedEntityID: &first, DiscardedEntityID: &stranger, MergeMapping: json.RawMessage(`{}`)}},
		{"same id twice", Resolution{Action: ActionMerge, MergedEntityID: &first, DiscardedEntityID: &first, MergeMapping: json.RawMessage(`{}`)}},
		{"array mapping", Resolution{Action: ActionMerge, MergedEntityID: &first, DiscardedEntityID: &second, MergeMapping: json.RawMessage(`[]`)}},
		{"unknown action", Resolution{Action: "shred"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, c.Resolve(actor, tc.res, at), ErrInvalidResolution)
			require.Equal(t, StatusPendingReview, c.Status)
		})
	}

	ok := Resolution{
		Action:            ActionMerge,
		MergedEntityID:    &second,
		DiscardedEntityID: &first,
		MergeMapping:      json.RawMessage(`{"phone":"+963115550101"}`),
	}
	require.NoError(t, c.Resolve(actor, ok, at))
	require.Equal(t, StatusResolved, c.Status)
	require.Equal(t, actor, *c.Resolution.ResolvedBy)
}

func TestOverdue(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newConflict(at)

	require.False(t, c.CheckIfOverdue(at.Add(23*time.Hour)))
	require.True(t, c.CheckIfOverdue(at.Add(25*time.Hour)))
	require.False(t, c.IsOverdue)

	require.True(t, c.RefreshOverdue(at.Add(25*time.Hour)))
	require.True(t, c.IsOverdue)
	require.False(t, c.RefreshOverdue(at.Add(26*time.Hour)))

	require.NoError(t, c.Resolve(uuid.New(), Resolution{Action: ActionKeepBoth}, at.Add(27*time.Hour)))
	require.False(t, c.IsOverdue)
	require.False(t, c.CheckIfOverdue(at.Add(48*time.Hour)))
}

func TestAutoResolve(t *testing.T) {
	at := time.Now()
	c := newConflict(at)
	require.ErrorIs(t, c.AutoResolve("exact", ActionMerge, at), ErrInvalidResolution)

	require.NoError(t, c.AutoResolve("exact", ActionKeepSecond, at))
	require.True(t, c.IsAutoResolved)
	require.Equal(t, StatusResolved, c.Status)
	require.Nil(t, c.Resolution.ResolvedBy)
	require.ErrorIs(t, c.AutoResolve("exact", ActionKeepSecond, at), ErrNotPending)
}
