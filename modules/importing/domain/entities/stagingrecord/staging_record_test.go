package stagingrecord

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestIDFor_IsDeterministic(t *testing.T) {
	pkg := uuid.New()
	require.Equal(t, IDFor(pkg, EntityPerson, "p-1"), IDFor(pkg, EntityPerson, "p-1"))
	require.NotEqual(t, IDFor(pkg, EntityPerson, "p-1"), IDFor(pkg, EntityClaim, "p-1"))
	require.NotEqual(t, IDFor(pkg, EntityPerson, "p-1"), IDFor(uuid.New(), EntityPerson, "p-1"))
}

func TestEligible(t *testing.T) {
	r := New(uuid.New(), 0, EntityPerson, "p-1", nil)
	require.False(t, r.Eligible())

	r.Outcome = OutcomeWarning
	require.True(t, r.Eligible())

	r.Outcome = OutcomeInvalid
	require.False(t, r.Eligible())

	r.Outcome = OutcomeValid
	survivor := uuid.New()
	r.Approved = true
	r.Discard(&survivor, nil)
	require.False(t, r.Eligible())
	require.False(t, r.Approved)

	r.ClearDisposition()
	now := time.Now()
	r.PurgedAt = &now
	require.False(t, r.Eligible())
}

func TestCommitOrder(t *testing.T) {
	require.Less(t, EntityPerson.Rank(), EntityRelation.Rank())
	require.Less(t, EntityPropertyUnit.Rank(), EntityClaim.Rank())
	require.Less(t, EntityClaim.Rank(), EntityEvidence.Rank())
	require.False(t, EntityType("household").Valid())
}
