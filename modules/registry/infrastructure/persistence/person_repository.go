package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/repo"
)

const personColumns = `id, national_id, first_name, father_name, last_name, date_of_birth, gender, phone,
	source_package_id, created_at, updated_at`

type PersonRepository struct{}

func NewPersonRepository() person.Repository {
	return &PersonRepository{}
}

type personRow struct {
	ID              uuid.UUID
	NationalID      pgtype.Text
	FirstName       string
	FatherName      string
	LastName        string
	DateOfBirth     *time.Time
	Gender          string
	Phone           string
	SourcePackageID pgtype.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func scanPerson(row pgx.Row) (person.Person, error) {
	var r personRow
	if err := row.Scan(
		&r.ID,
		&r.NationalID,
		&r.FirstName,
		&r.FatherName,
		&r.LastName,
		&r.DateOfBirth,
		&r.Gender,
		&r.Phone,
		&r.SourcePackageID,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return person.Person{}, err
	}
	return person.Hydrate(
		r.ID,
		person.Details{
			NationalID:  r.NationalID.String,
			FirstName:   r.FirstName,
			FatherName:  r.FatherName,
			LastName:    r.LastName,
			DateOfBirth: r.DateOfBirth,
			Gender:      person.Gender(r.Gender),
			Phone:       r.Phone,
		},
		uuidFromPg(r.SourcePackageID),
		r.CreatedAt,
		r.UpdatedAt,
	), nil
}

func (r *PersonRepository) queryPersons(ctx context.Context, query string, args ...any) ([]person.Person, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]person.Person, 0)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PersonRepository) getOne(ctx context.Context, where string, arg any) (person.Person, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return person.Person{}, err
	}
	p, err := scanPerson(tx.QueryRow(ctx, `SELECT `+personColumns+` FROM registry_persons WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return person.Person{}, person.ErrNotFound
		}
		return person.Person{}, err
	}
	return p, nil
}

func (r *PersonRepository) GetPaginated(ctx context.Context, params *person.FindParams) ([]person.Person, int64, error) {
	if params == nil {
		params = &person.FindParams{}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	where, args := "TRUE", []any{}
	if q := strings.TrimSpace(params.Q); q != "" {
		where = `(national_id = $1 OR first_name ILIKE $2 OR last_name ILIKE $2)`
		args = append(args, q, "%"+q+"%")
	}

	items, err := r.queryPersons(ctx,
		`SELECT `+personColumns+` FROM registry_persons WHERE `+where+
			` ORDER BY last_name, first_name, id `+repo.FormatLimitOffset(limit, params.Offset),
		args...,
	)
	if err != nil {
		return nil, 0, err
	}

	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM registry_persons WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PersonRepository) GetByID(ctx context.Context, id uuid.UUID) (person.Person, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *PersonRepository) GetByNationalID(ctx context.Context, nationalID string) (person.Person, error) {
	nationalID = strings.TrimSpace(nationalID)
	if nationalID == "" {
		return person.Person{}, person.ErrNotFound
	}
	return r.getOne(ctx, "national_id = $1", nationalID)
}

func (r *PersonRepository) FindCandidates(ctx context.Context, params person.CandidateParams) ([]person.Person, error) {
	where, args := buildPersonCandidateFilters(params)
	if len(where) == 0 {
		return nil, nil
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	return r.queryPersons(ctx,
		`SELECT `+personColumns+` FROM registry_persons WHERE `+strings.Join(where, " OR ")+
			` ORDER BY id `+repo.FormatLimitOffset(limit, 0),
		args...,
	)
}

func buildPersonCandidateFilters(params person.CandidateParams) ([]string, []any) {
	var where []string
	var args []any
	argPos := 1
	if v := strings.TrimSpace(params.NationalID); v != "" {
		where = append(where, fmt.Sprintf("national_id = $%d", argPos))
		args = append(args, v)
		argPos++
	}
	if v := strings.TrimSpace(params.LastName); v != "" {
		where = append(where, fmt.Sprintf("lower(last_name) = lower($%d)", argPos))
		args = append(args, v)
		argPos++
	}
	if v := person.NormalizePhone(params.Phone); v != "" {
		where = append(where, fmt.Sprintf("phone = $%d", argPos))
		args = append(args, v)
		argPos++
	}
	if params.DateOfBirth != nil {
		where = append(where, fmt.Sprintf("date_of_birth = $%d", argPos))
		args = append(args, *params.DateOfBirth)
	}
	return where, args
}

func (r *PersonRepository) Create(ctx context.Context, p person.Person) (person.Person, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return person.Person{}, err
	}
	d := p.Details()
	created, err := scanPerson(tx.QueryRow(ctx, `
		INSERT INTO registry_persons (id, national_id, first_name, father_name, last_name, date_of_birth, gender, phone, source_package_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+personColumns,
		p.ID(), pgText(d.NationalID), d.FirstName, d.FatherName, d.LastName, d.DateOfBirth, string(d.Gender), d.Phone,
		pgNullUUID(p.SourcePackageID()),
	))
	if err != nil {
		if code, _, ok := pgErrorCode(err); ok && code == pgUniqueViolation {
			return person.Person{}, person.ErrNationalIDTaken
		}
		return person.Person{}, gerrors.Wrap(err, "create person")
	}
	return created, nil
}

func (r *PersonRepository) Update(ctx context.Context, p person.Person) (person.Person, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return person.Person{}, err
	}
	d := p.Details()
	updated, err := scanPerson(tx.QueryRow(ctx, `
		UPDATE registry_persons
		SET national_id = $2, first_name = $3, father_name = $4, last_name = $5, date_of_birth = $6,
		    gender = $7, phone = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+personColumns,
		p.ID(), pgText(d.NationalID), d.FirstName, d.FatherName, d.LastName, d.DateOfBirth, string(d.Gender), d.Phone,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return person.Person{}, person.ErrNotFound
		}
		if code, _, ok := pgErrorCode(err); ok && code == pgUniqueViolation {
			return person.Person{}, person.ErrNationalIDTaken
		}
		return person.Person{}, gerrors.Wrap(err, "update person")
	}
	return updated, nil
}
