package persistence

import (
	"context"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/field-registry/modules/registry/domain/entities/evidence"
	"github.com/iota-uz/field-registry/pkg/composables"
)

type EvidenceRepository struct{}

func NewEvidenceRepository() evidence.Repository {
	return &EvidenceRepository{}
}

func (r *EvidenceRepository) Create(ctx context.Context, e *evidence.Evidence) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO registry_evidence (id, claim_id, relation_id, person_id, evidence_type, content_hash, file_name, mime_type, size_bytes, source_package_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		e.ID, pgNullUUIDPtr(e.ClaimID), pgNullUUIDPtr(e.RelationID), pgNullUUIDPtr(e.PersonID), e.EvidenceType,
		e.ContentHash, e.FileName, e.MimeType, e.SizeBytes, pgNullUUID(e.SourcePackageID),
	).Scan(&e.CreatedAt)
	if err != nil {
		return gerrors.Wrap(err, "create evidence")
	}
	return nil
}

func (r *EvidenceRepository) CountByContentHash(ctx context.Context, hash string) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM registry_evidence WHERE content_hash = $1`, hash).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *EvidenceRepository) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*evidence.Evidence, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT id, claim_id, relation_id, person_id, evidence_type, content_hash, file_name, mime_type, size_bytes, source_package_id, created_at
		FROM registry_evidence WHERE claim_id = $1 ORDER BY created_at, id`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*evidence.Evidence
	for rows.Next() {
		var (
			e                         evidence.Evidence
			claimRef, relRef, persRef pgtype.UUID
			src                       pgtype.UUID
		)
		if err := rows.Scan(&e.ID, &claimRef, &relRef, &persRef, &e.EvidenceType, &e.ContentHash, &e.FileName,
			&e.MimeType, &e.SizeBytes, &src, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ClaimID = uuidPtrFromPg(claimRef)
		e.RelationID = uuidPtrFromPg(relRef)
		e.PersonID = uuidPtrFromPg(persRef)
		e.SourcePackageID = uuidFromPg(src)
		out = append(out, &e)
	}
	return out, rows.Err()
}
