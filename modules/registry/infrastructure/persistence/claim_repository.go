package persistence

import (
	"context"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/field-registry/modules/registry/domain/entities/claim"
	"github.com/iota-uz/field-registry/pkg/composables"
)

const claimColumns = `id, reference_code, claimant_id, property_unit_id, claim_type, share::text, claimed_at,
	status, notes, source_package_id, created_at`

type ClaimRepository struct{}

func NewClaimRepository() claim.Repository {
	return &ClaimRepository{}
}

func scanClaim(row pgx.Row) (*claim.Claim, error) {
	var (
		c      claim.Claim
		share  string
		status string
		src    pgtype.UUID
	)
	if err := row.Scan(&c.ID, &c.ReferenceCode, &c.ClaimantID, &c.PropertyUnitID, &c.ClaimType, &share,
		&c.ClaimedAt, &status, &c.Notes, &src, &c.CreatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(share)
	if err != nil {
		return nil, err
	}
	c.Share = d
	c.Status = claim.Status(status)
	c.SourcePackageID = uuidFromPg(src)
	return &c, nil
}

func (r *ClaimRepository) GetByID(ctx context.Context, id uuid.UUID) (*claim.Claim, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	c, err := scanClaim(tx.QueryRow(ctx, `SELECT `+claimColumns+` FROM registry_claims WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, claim.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *ClaimRepository) ListByPropertyUnit(ctx context.Context, propertyUnitID uuid.UUID) ([]*claim.Claim, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+claimColumns+` FROM registry_claims WHERE property_unit_id = $1 ORDER BY created_at, id`, propertyUnitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*claim.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ClaimRepository) Create(ctx context.Context, c *claim.Claim) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO registry_claims (id, reference_code, claimant_id, property_unit_id, claim_type, share, claimed_at, status, notes, source_package_id)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
		RETURNING created_at`,
		c.ID, c.ReferenceCode, c.ClaimantID, c.PropertyUnitID, c.ClaimType, c.Share.String(), c.ClaimedAt,
		string(c.Status), c.Notes, pgNullUUID(c.SourcePackageID),
	).Scan(&c.CreatedAt)
	if err != nil {
		if code, constraint, ok := pgErrorCode(err); ok && code == pgUniqueViolation && constraint == "registry_claims_reference_code_key" {
			return claim.ErrReferenceTaken
		}
		return gerrors.Wrap(err, "create claim")
	}
	return nil
}
