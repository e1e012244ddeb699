package persistence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/internal/pgstub"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/pkg/constants"
)

func personRowValues(id uuid.UUID, nationalID, first, last string) []any {
	now := time.Unix(1700000000, 0).UTC()
	return []any{
		id,
		pgtype.Text{String: nationalID, Valid: nationalID != ""},
		first,
		"",
		last,
		nil,
		"female",
		"",
		pgtype.UUID{},
		now,
		now,
	}
}

func TestBuildPersonCandidateFilters(t *testing.T) {
	dob := time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC)
	where, args := buildPersonCandidateFilters(person.CandidateParams{
		NationalID:  " 12345678901 ",
		LastName:    "Haddad",
		Phone:       "+963 (944) 12-34-56",
		DateOfBirth: &dob,
	})
	require.Equal(t, []string{
		"national_id = $1",
		"lower(last_name) = lower($2)",
		"phone = $3",
		"date_of_birth = $4",
	}, where)
	require.Equal(t, []any{"12345678901", "Haddad", person.NormalizePhone("+963 (944) 12-34-56"), dob}, args)
}

func TestBuildPersonCandidateFilters_Empty(t *testing.T) {
	where, args := buildPersonCandidateFilters(person.CandidateParams{LastName: "  "})
	require.Empty(t, where)
	require.Empty(t, args)
}

func TestPersonRepository_FindCandidates(t *testing.T) {
	id := uuid.New()
	var gotSQL string
	var gotArgs []any
	tx := &pgstub.Tx{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotSQL = sql
			gotArgs = args
			return &pgstub.Rows{Data: [][]any{personRowValues(id, "12345678901", "Rana", "Haddad")}}, nil
		},
	}
	ctx := context.WithValue(context.Background(), constants.TxKey, tx)

	repo := NewPersonRepository()
	found, err := repo.FindCandidates(ctx, person.CandidateParams{NationalID: "12345678901", LastName: "Haddad", Limit: 10})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, id, found[0].ID())
	require.Equal(t, "12345678901", found[0].NationalID())
	require.Equal(t, person.GenderFemale, found[0].Details().Gender)
	require.Contains(t, gotSQL, "national_id = $1 OR lower(last_name) = lower($2)")
	require.Contains(t, gotSQL, "LIMIT 10")
	require.Len(t, gotArgs, 2)
}

func TestPersonRepository_FindCandidates_NoFiltersSkipsQuery(t *testing.T) {
	tx := &pgstub.Tx{}
	ctx := context.WithValue(context.Background(), constants.TxKey, tx)

	found, err := NewPersonRepository().FindCandidates(ctx, person.CandidateParams{})
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestPersonRepository_GetByID_NotFound(t *testing.T) {
	tx := &pgstub.Tx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return pgstub.Row{Err: pgx.ErrNoRows}
		},
	}
	ctx := context.WithValue(context.Background(), constants.TxKey, tx)

	_, err := NewPersonRepository().GetByID(ctx, uuid.New())
	require.ErrorIs(t, err, person.ErrNotFound)
}

func TestPersonRepository_Create_MapsUniqueViolation(t *testing.T) {
	tx := &pgstub.Tx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			require.True(t, strings.Contains(sql, "INSERT INTO registry_persons"))
			return pgstub.Row{Err: &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "registry_persons_national_id_key"}}
		},
	}
	ctx := context.WithValue(context.Background(), constants.TxKey, tx)

	p := person.New(uuid.New(), person.Details{NationalID: "12345678901", FirstName: "Rana", LastName: "Haddad"}, uuid.Nil)
	_, err := NewPersonRepository().Create(ctx, p)
	require.ErrorIs(t, err, person.ErrNationalIDTaken)
}

func TestPersonRepository_Create_ReturnsRow(t *testing.T) {
	id := uuid.New()
	var gotArgs []any
	tx := &pgstub.Tx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			gotArgs = args
			return pgstub.Row{Values: personRowValues(id, "", "Rana", "Haddad")}
		},
	}
	ctx := context.WithValue(context.Background(), constants.TxKey, tx)

	p := person.New(id, person.Details{FirstName: "Rana", LastName: "Haddad"}, uuid.Nil)
	created, err := NewPersonRepository().Create(ctx, p)
	require.NoError(t, err)
	require.Equal(t, id, created.ID())
	require.Equal(t, pgtype.Text{}, gotArgs[1])
	require.Equal(t, pgtype.UUID{}, gotArgs[8])
}
