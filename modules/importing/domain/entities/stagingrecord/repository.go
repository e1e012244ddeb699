package stagingrecord

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("staging record not found")
	ErrAttachmentNotFound = errors.New("staged attachment not found")
)

type FindParams struct {
	PackageID    uuid.UUID
	EntityType   EntityType
	Outcome      Outcome
	Approved     *bool
	CommitStatus *CommitStatus
	Limit        int
	Offset       int
}

type Repository interface {
	// InsertBatch stores records, ignoring ones already staged under the same natural key.
	InsertBatch(ctx context.Context, records []*StagingRecord) (int, error)
	Update(ctx context.Context, r *StagingRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*StagingRecord, error)
	ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*StagingRecord, error)
	GetPaginated(ctx context.Context, params *FindParams) ([]*StagingRecord, int64, error)
	CountByPackage(ctx context.Context, packageID uuid.UUID) (int, error)
	DeleteByPackage(ctx context.Context, packageID uuid.UUID) (int64, error)
	// PurgePayloads drops payloads but keeps the rows for traceability.
	PurgePayloads(ctx context.Context, packageID uuid.UUID, at time.Time) (int64, error)

	SaveAttachments(ctx context.Context, attachments []StagedAttachment) error
	GetAttachment(ctx context.Context, packageID uuid.UUID, contentHash string) (StagedAttachment, error)
	AttachmentHashes(ctx context.Context, packageID uuid.UUID) (map[string]struct{}, error)
	DeleteAttachments(ctx context.Context, packageID uuid.UUID) (int64, error)
}
