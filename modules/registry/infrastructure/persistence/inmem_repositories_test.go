package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/claim"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

func TestInmemStore_PersonUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewInmemStore(inmem.NewDB())
	persons := store.Persons()

	_, err := persons.Create(ctx, person.New(uuid.New(), person.Details{NationalID: "11111111111", FirstName: "A", LastName: "B"}, uuid.Nil))
	require.NoError(t, err)
	_, err = persons.Create(ctx, person.New(uuid.New(), person.Details{NationalID: "11111111111", FirstName: "C", LastName: "D"}, uuid.Nil))
	require.ErrorIs(t, err, person.ErrNationalIDTaken)

	found, err := persons.FindCandidates(ctx, person.CandidateParams{LastName: "b"})
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestInmemStore_ClaimRequiresReferences(t *testing.T) {
	ctx := context.Background()
	store := NewInmemStore(inmem.NewDB())

	c := claim.New(uuid.New(), "CLM-2026-AAAA0000", uuid.New(), uuid.New(), claim.TypeOwnership, decimal.NewFromInt(50))
	err := store.Claims().Create(ctx, c)
	require.ErrorIs(t, err, ErrMissingReference)
}

func TestInmemStore_RollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := inmem.NewDB()
	store := NewInmemStore(db)
	boom := errors.New("boom")

	err := db.InTx(ctx, func(ctx context.Context) error {
		_, err := store.PropertyUnits().Create(ctx, propertyunit.New(uuid.New(), propertyunit.Details{
			BuildingCode:   "01020304050607080",
			UnitIdentifier: "1",
			UnitType:       "apartment",
		}, uuid.Nil))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, total, err := store.PropertyUnits().GetPaginated(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, total)
}
