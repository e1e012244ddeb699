package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/internal/pgstub"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/pkg/constants"
)

func TestPropertyUnitRepository_GetByKey_ScansNumericText(t *testing.T) {
	id := uuid.New()
	src := uuid.New()
	now := time.Now().UTC()
	var gotArgs []any
	tx := &pgstub.Tx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			gotArgs = args
			return pgstub.Row{Values: []any{
				id, "01020304050607080", "3B", "apartment", "occupied", 2, "84.50",
				pgtype.UUID{Bytes: src, Valid: true}, now, now,
			}}
		},
	}
	ctx := context.WithValue(context.Background(), constants.TxKey, tx)

	u, err := NewPropertyUnitRepository().GetByKey(ctx, propertyunit.Key{BuildingCode: "01020304050607080", UnitIdentifier: "3-b"})
	require.NoError(t, err)
	require.Equal(t, []any{"01020304050607080", "3B"}, gotArgs)
	require.Equal(t, id, u.ID())
	require.Equal(t, src, u.SourcePackageID())
	require.True(t, u.Details().AreaSqm.Valid)
	require.True(t, decimal.RequireFromString("84.5").Equal(u.Details().AreaSqm.Decimal))
	require.NotNil(t, u.Details().Floor)
	require.Equal(t, 2, *u.Details().Floor)
}

func TestPropertyUnitRepository_Create_MapsKeyConflict(t *testing.T) {
	tx := &pgstub.Tx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return pgstub.Row{Err: &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "registry_property_units_key"}}
		},
	}
	ctx := context.WithValue(context.Background(), constants.TxKey, tx)

	u := propertyunit.New(uuid.New(), propertyunit.Details{BuildingCode: "01020304050607080", UnitIdentifier: "1", UnitType: "shop"}, uuid.Nil)
	_, err := NewPropertyUnitRepository().Create(ctx, u)
	require.ErrorIs(t, err, propertyunit.ErrKeyTaken)
}

func TestNumericArg(t *testing.T) {
	require.Nil(t, numericArg(decimal.NullDecimal{}))
	v := numericArg(decimal.NewNullDecimal(decimal.RequireFromString("12.25")))
	require.NotNil(t, v)
	require.Equal(t, "12.25", *v)
}
