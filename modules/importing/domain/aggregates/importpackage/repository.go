package importpackage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("import package not found")
	ErrDuplicateExternal = errors.New("import package already uploaded")
	ErrLocked            = errors.New("import package is locked by another commit")
	ErrInvalidTransition = errors.New("invalid import package transition")
)

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move import package from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type FindParams struct {
	Statuses   []Status
	DeviceID   string
	UploadedBy *uuid.UUID
	From       *time.Time
	To         *time.Time
	SortBy     string
	SortDesc   bool
	Limit      int
	Offset     int
}

type Repository interface {
	Create(ctx context.Context, p ImportPackage) error
	Update(ctx context.Context, p ImportPackage) error
	GetByID(ctx context.Context, id uuid.UUID) (ImportPackage, error)
	// GetByIDForUpdate locks the package row, failing with ErrLocked instead of waiting.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (ImportPackage, error)
	GetByExternalID(ctx context.Context, externalID string) (ImportPackage, error)
	GetPaginated(ctx context.Context, params *FindParams) ([]ImportPackage, int64, error)
	// ListRetentionExpired returns terminal, non-quarantined packages last touched before cutoff.
	ListRetentionExpired(ctx context.Context, cutoff time.Time) ([]ImportPackage, error)
}
