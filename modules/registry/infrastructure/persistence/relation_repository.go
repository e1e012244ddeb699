package persistence

import (
	"context"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/field-registry/modules/registry/domain/entities/relation"
	"github.com/iota-uz/field-registry/pkg/composables"
)

type RelationRepository struct{}

func NewRelationRepository() relation.Repository {
	return &RelationRepository{}
}

func (r *RelationRepository) Create(ctx context.Context, rel *relation.Relation) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO registry_relations (id, person_id, property_unit_id, relation_type, share, started_at, source_package_id)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		RETURNING created_at`,
		rel.ID, rel.PersonID, rel.PropertyUnitID, rel.RelationType, numericArg(rel.Share), rel.StartedAt,
		pgNullUUID(rel.SourcePackageID),
	).Scan(&rel.CreatedAt)
	if err != nil {
		if code, _, ok := pgErrorCode(err); ok && code == pgUniqueViolation {
			return relation.ErrDuplicate
		}
		return gerrors.Wrap(err, "create relation")
	}
	return nil
}

func (r *RelationRepository) ListByPropertyUnit(ctx context.Context, propertyUnitID uuid.UUID) ([]*relation.Relation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT id, person_id, property_unit_id, relation_type, share::text, started_at, source_package_id, created_at
		FROM registry_relations WHERE property_unit_id = $1 ORDER BY created_at, id`, propertyUnitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*relation.Relation
	for rows.Next() {
		var (
			rel   relation.Relation
			share *string
			src   pgtype.UUID
		)
		if err := rows.Scan(&rel.ID, &rel.PersonID, &rel.PropertyUnitID, &rel.RelationType, &share, &rel.StartedAt, &src, &rel.CreatedAt); err != nil {
			return nil, err
		}
		if rel.Share, err = numericFromText(share); err != nil {
			return nil, err
		}
		rel.SourcePackageID = uuidFromPg(src)
		out = append(out, &rel)
	}
	return out, rows.Err()
}
