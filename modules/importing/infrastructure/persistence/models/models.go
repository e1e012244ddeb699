package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type ImportPackage struct {
	ID                  uuid.UUID
	ExternalPackageID   string
	SchemaVersion       string
	DeviceID            string
	CollectorID         string
	UploadedBy          uuid.UUID
	UploadedAt          time.Time
	Status              string
	StatusReason        string
	FailureStage        string
	ContentHash         string
	DeclaredCounts      []byte
	SizeBytes           int64
	StagedCount         int
	ValidCount          int
	WarningCount        int
	InvalidCount        int
	ApprovedCount       int
	InvalidAcknowledged bool
	RawLocation         string
	ArchiveLocation     string
	CommittedAt         *time.Time
	CancelledAt         *time.Time
	UpdatedAt           time.Time
}

type StagingRecord struct {
	ID                uuid.UUID
	PackageID         uuid.UUID
	Seq               int
	LocalID           string
	EntityType        string
	Payload           []byte
	Outcome           string
	Messages          []byte
	Approved          bool
	Disposition       string
	SurvivorRecordID  pgtype.UUID
	TargetEntityID    pgtype.UUID
	CommittedEntityID pgtype.UUID
	CommitStatus      string
	CommitMessage     string
	PurgedAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type StagedAttachment struct {
	PackageID   uuid.UUID
	ContentHash string
	FileName    string
	MimeType    string
	SizeBytes   int64
	Data        []byte
}

type Conflict struct {
	ID                    uuid.UUID
	ConflictNumber        string
	ConflictType          string
	EntityType            string
	FirstEntityID         uuid.UUID
	FirstEntityKind       string
	FirstDisplay          string
	SecondEntityID        uuid.UUID
	SecondEntityKind      string
	SecondDisplay         string
	SimilarityScore       float64
	ConfidenceLevel       string
	MatchingCriteria      []byte
	DataComparison        []byte
	Status                string
	Priority              string
	IsEscalated           bool
	EscalationReason      string
	EscalatedAt           *time.Time
	IsAutoDetected        bool
	IsAutoResolved        bool
	AutoResolutionRule    string
	AssignedTo            pgtype.UUID
	AssignedAt            *time.Time
	ReviewAttempts        int
	ReviewNotes           string
	ResolutionAction      string
	ResolutionReason      string
	ResolutionNotes       string
	MergedEntityID        pgtype.UUID
	DiscardedEntityID     pgtype.UUID
	MergeMapping          []byte
	ResolvedBy            pgtype.UUID
	ResolvedAt            *time.Time
	TargetResolutionHours int
	IsOverdue             bool
	ImportPackageID       pgtype.UUID
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
