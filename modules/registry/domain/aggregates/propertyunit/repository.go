package propertyunit

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("property unit not found")
	ErrKeyTaken = errors.New("property unit already registered for building")
)

type FindParams struct {
	BuildingCode string
	Limit        int
	Offset       int
}

type Repository interface {
	GetPaginated(ctx context.Context, params *FindParams) ([]PropertyUnit, int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (PropertyUnit, error)
	GetByKey(ctx context.Context, key Key) (PropertyUnit, error)
	ListByBuilding(ctx context.Context, buildingCode string, limit int) ([]PropertyUnit, error)
	Create(ctx context.Context, u PropertyUnit) (PropertyUnit, error)
	Update(ctx context.Context, u PropertyUnit) (PropertyUnit, error)
}
