package stagingrecord

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityPropertyUnit EntityType = "property_unit"
	EntityRelation     EntityType = "relation"
	EntityClaim        EntityType = "claim"
	EntityEvidence     EntityType = "evidence"
)

// CommitOrder lists entity types parents first.
var CommitOrder = []EntityType{EntityPerson, EntityPropertyUnit, EntityRelation, EntityClaim, EntityEvidence}

func (t EntityType) Valid() bool {
	for _, v := range CommitOrder {
		if v == t {
			return true
		}
	}
	return false
}

// Rank is the position of t in CommitOrder, or len(CommitOrder) when unknown.
func (t EntityType) Rank() int {
	for i, v := range CommitOrder {
		if v == t {
			return i
		}
	}
	return len(CommitOrder)
}

type Outcome string

const (
	OutcomeValid   Outcome = "valid"
	OutcomeWarning Outcome = "warning"
	OutcomeInvalid Outcome = "invalid"
)

type Disposition string

const (
	DispositionNone           Disposition = ""
	DispositionDiscarded      Disposition = "discarded"
	DispositionUpdateExisting Disposition = "update_existing"
)

type CommitStatus string

const (
	CommitPending   CommitStatus = ""
	CommitCommitted CommitStatus = "committed"
	CommitSkipped   CommitStatus = "skipped"
	CommitFailed    CommitStatus = "failed"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Message struct {
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
	Code     string   `json:"code"`
	Text     string   `json:"text"`
}

type StagingRecord struct {
	ID                uuid.UUID
	PackageID         uuid.UUID
	Seq               int
	LocalID           string
	EntityType        EntityType
	Payload           json.RawMessage
	Outcome           Outcome
	Messages          []Message
	Approved          bool
	Disposition       Disposition
	SurvivorRecordID  *uuid.UUID
	TargetEntityID    *uuid.UUID
	CommittedEntityID *uuid.UUID
	CommitStatus      CommitStatus
	CommitMessage     string
	PurgedAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IDFor derives the staging record id from its natural key so re-staging is idempotent.
func IDFor(packageID uuid.UUID, entityType EntityType, localID string) uuid.UUID {
	return uuid.NewSHA1(packageID, []byte(string(entityType)+":"+localID))
}

func New(packageID uuid.UUID, seq int, entityType EntityType, localID string, payload json.RawMessage) *StagingRecord {
	return &StagingRecord{
		ID:         IDFor(packageID, entityType, localID),
		PackageID:  packageID,
		Seq:        seq,
		LocalID:    localID,
		EntityType: entityType,
		Payload:    payload,
	}
}

// Eligible reports whether the record may be approved for commit.
func (r *StagingRecord) Eligible() bool {
	if r.PurgedAt != nil || r.Disposition == DispositionDiscarded {
		return false
	}
	return r.Outcome == OutcomeValid || r.Outcome == OutcomeWarning
}

func (r *StagingRecord) IsDiscarded() bool {
	return r.Disposition == DispositionDiscarded
}

func (r *StagingRecord) Discard(survivor, target *uuid.UUID) {
	r.Disposition = DispositionDiscarded
	r.SurvivorRecordID = survivor
	r.TargetEntityID = target
	r.Approved = false
}

func (r *StagingRecord) UpdateExisting(target uuid.UUID) {
	r.Disposition = DispositionUpdateExisting
	r.TargetEntityID = &target
	r.SurvivorRecordID = nil
}

func (r *StagingRecord) ClearDisposition() {
	r.Disposition = DispositionNone
	r.SurvivorRecordID = nil
	r.TargetEntityID = nil
}

func (r *StagingRecord) MarkCommitted(entityID uuid.UUID) {
	r.CommittedEntityID = &entityID
	r.CommitStatus = CommitCommitted
	r.CommitMessage = ""
}

func (r *StagingRecord) MarkSkipped(reason string) {
	r.CommitStatus = CommitSkipped
	r.CommitMessage = reason
}

func (r *StagingRecord) MarkFailed(reason string) {
	r.CommitStatus = CommitFailed
	r.CommitMessage = reason
}

func (r *StagingRecord) ResetCommit() {
	r.CommittedEntityID = nil
	r.CommitStatus = CommitPending
	r.CommitMessage = ""
}

// StagedAttachment holds attachment bytes until commit moves them into the content store.
type StagedAttachment struct {
	PackageID   uuid.UUID
	ContentHash string
	FileName    string
	MimeType    string
	SizeBytes   int64
	Data        []byte
}
