package evidence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("evidence not found")

// Evidence points at an attachment in the content-addressable store.
type Evidence struct {
	ID              uuid.UUID
	ClaimID         *uuid.UUID
	RelationID      *uuid.UUID
	PersonID        *uuid.UUID
	EvidenceType    string
	ContentHash     string
	FileName        string
	MimeType        string
	SizeBytes       int64
	SourcePackageID uuid.UUID
	CreatedAt       time.Time
}

type Repository interface {
	Create(ctx context.Context, e *Evidence) error
	CountByContentHash(ctx context.Context, hash string) (int64, error)
	ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*Evidence, error)
}
