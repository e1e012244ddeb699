package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/repo"
)

const propertyUnitColumns = `id, building_code, unit_identifier, unit_type, status, floor, area_sqm::text,
	source_package_id, created_at, updated_at`

type PropertyUnitRepository struct{}

func NewPropertyUnitRepository() propertyunit.Repository {
	return &PropertyUnitRepository{}
}

func scanPropertyUnit(row pgx.Row) (propertyunit.PropertyUnit, error) {
	var (
		id              uuid.UUID
		d               propertyunit.Details
		status          string
		area            *string
		sourcePackageID pgtype.UUID
		createdAt       time.Time
		updatedAt       time.Time
	)
	if err := row.Scan(
		&id,
		&d.BuildingCode,
		&d.UnitIdentifier,
		&d.UnitType,
		&status,
		&d.Floor,
		&area,
		&sourcePackageID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return propertyunit.PropertyUnit{}, err
	}
	d.Status = propertyunit.Status(status)
	a, err := numericFromText(area)
	if err != nil {
		return propertyunit.PropertyUnit{}, err
	}
	d.AreaSqm = a
	return propertyunit.Hydrate(id, d, uuidFromPg(sourcePackageID), createdAt, updatedAt), nil
}

func (r *PropertyUnitRepository) query(ctx context.Context, query string, args ...any) ([]propertyunit.PropertyUnit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]propertyunit.PropertyUnit, 0)
	for rows.Next() {
		u, err := scanPropertyUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *PropertyUnitRepository) getOne(ctx context.Context, where string, args ...any) (propertyunit.PropertyUnit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return propertyunit.PropertyUnit{}, err
	}
	u, err := scanPropertyUnit(tx.QueryRow(ctx, `SELECT `+propertyUnitColumns+` FROM registry_property_units WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return propertyunit.PropertyUnit{}, propertyunit.ErrNotFound
		}
		return propertyunit.PropertyUnit{}, err
	}
	return u, nil
}

func (r *PropertyUnitRepository) GetPaginated(ctx context.Context, params *propertyunit.FindParams) ([]propertyunit.PropertyUnit, int64, error) {
	if params == nil {
		params = &propertyunit.FindParams{}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	where, args := "TRUE", []any{}
	if code := strings.TrimSpace(params.BuildingCode); code != "" {
		where, args = "building_code = $1", append(args, code)
	}
	items, err := r.query(ctx,
		`SELECT `+propertyUnitColumns+` FROM registry_property_units WHERE `+where+
			` ORDER BY building_code, unit_identifier `+repo.FormatLimitOffset(limit, params.Offset),
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
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM registry_property_units WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PropertyUnitRepository) GetByID(ctx context.Context, id uuid.UUID) (propertyunit.PropertyUnit, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *PropertyUnitRepository) GetByKey(ctx context.Context, key propertyunit.Key) (propertyunit.PropertyUnit, error) {
	return r.getOne(ctx, "building_code = $1 AND unit_identifier = $2",
		strings.TrimSpace(key.BuildingCode), propertyunit.NormalizeUnitIdentifier(key.UnitIdentifier))
}

func (r *PropertyUnitRepository) ListByBuilding(ctx context.Context, buildingCode string, limit int) ([]propertyunit.PropertyUnit, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx,
		`SELECT `+propertyUnitColumns+` FROM registry_property_units WHERE building_code = $1
		 ORDER BY unit_identifier `+repo.FormatLimitOffset(limit, 0),
		strings.TrimSpace(buildingCode),
	)
}

func (r *PropertyUnitRepository) Create(ctx context.Context, u propertyunit.PropertyUnit) (propertyunit.PropertyUnit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return propertyunit.PropertyUnit{}, err
	}
	d := u.Details()
	created, err := scanPropertyUnit(tx.QueryRow(ctx, `
		INSERT INTO registry_property_units (id, building_code, unit_identifier, unit_type, status, floor, area_sqm, source_package_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
		RETURNING `+propertyUnitColumns,
		u.ID(), d.BuildingCode, d.UnitIdentifier, d.UnitType, string(d.Status), d.Floor, numericArg(d.AreaSqm),
		pgNullUUID(u.SourcePackageID()),
	))
	if err != nil {
		if code, _, ok := pgErrorCode(err); ok && code == pgUniqueViolation {
			return propertyunit.PropertyUnit{}, propertyunit.ErrKeyTaken
		}
		return propertyunit.PropertyUnit{}, gerrors.Wrap(err, "create property unit")
	}
	return created, nil
}

func (r *PropertyUnitRepository) Update(ctx context.Context, u propertyunit.PropertyUnit) (propertyunit.PropertyUnit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return propertyunit.PropertyUnit{}, err
	}
	d := u.Details()
	updated, err := scanPropertyUnit(tx.QueryRow(ctx, `
		UPDATE registry_property_units
		SET building_code = $2, unit_identifier = $3, unit_type = $4, status = $5, floor = $6,
		    area_sqm = $7::numeric, updated_at = now()
		WHERE id = $1
		RETURNING `+propertyUnitColumns,
		u.ID(), d.BuildingCode, d.UnitIdentifier, d.UnitType, string(d.Status), d.Floor, numericArg(d.AreaSqm),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return propertyunit.PropertyUnit{}, propertyunit.ErrNotFound
		}
		if code, _, ok := pgErrorCode(err); ok && code == pgUniqueViolation {
			return propertyunit.PropertyUnit{}, propertyunit.ErrKeyTaken
		}
		return propertyunit.PropertyUnit{}, gerrors.Wrap(err, "update property unit")
	}
	return updated, nil
}
