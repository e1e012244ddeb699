package claim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("claim not found")
	ErrReferenceTaken = errors.New("claim reference code already used")
)

const TypeOwnership = "ownership"

type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
)

var FullShare = decimal.NewFromInt(100)

type Claim struct {
	ID              uuid.UUID
	ReferenceCode   string
	ClaimantID      uuid.UUID
	PropertyUnitID  uuid.UUID
	ClaimType       string
	Share           decimal.Decimal
	ClaimedAt       *time.Time
	Status          Status
	Notes           string
	SourcePackageID uuid.UUID
	CreatedAt       time.Time
}

// New builds a submitted claim. The reference code is supplied by the caller.
func New(id uuid.UUID, referenceCode string, claimantID, propertyUnitID uuid.UUID, claimType string, share decimal.Decimal) *Claim {
	return &Claim{
		ID:             id,
		ReferenceCode:  strings.TrimSpace(referenceCode),
		ClaimantID:     claimantID,
		PropertyUnitID: propertyUnitID,
		ClaimType:      strings.ToLower(strings.TrimSpace(claimType)),
		Share:          share,
		Status:         StatusSubmitted,
	}
}

func (c *Claim) IsOwnership() bool {
	return c.ClaimType == TypeOwnership
}

// ReferenceCodeFor derives the human readable reference of a claim id: CLM-YYYY-XXXXXXXX.
func ReferenceCodeFor(id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("CLM-%04d-%s", at.Year(), strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]))
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	ListByPropertyUnit(ctx context.Context, propertyUnitID uuid.UUID) ([]*Claim, error)
	Create(ctx context.Context, c *Claim) error
}
