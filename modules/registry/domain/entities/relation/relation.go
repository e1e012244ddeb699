package relation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("relation not found")
	ErrDuplicate = errors.New("relation already exists")
)

// Relation links a person to a property unit (owner, tenant, occupant, heir...).
type Relation struct {
	ID              uuid.UUID
	PersonID        uuid.UUID
	PropertyUnitID  uuid.UUID
	RelationType    string
	Share           decimal.NullDecimal
	StartedAt       *time.Time
	SourcePackageID uuid.UUID
	CreatedAt       time.Time
}

type Repository interface {
	Create(ctx context.Context, r *Relation) error
	ListByPropertyUnit(ctx context.Context, propertyUnitID uuid.UUID) ([]*Relation, error)
}
