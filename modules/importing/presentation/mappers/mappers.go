package mappers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/services"
)

type PackageDTO struct {
	ID                  uuid.UUID            `json:"id"`
	ExternalID          string               `json:"external_package_id"`
	SchemaVersion       string               `json:"schema_version,omitempty"`
	DeviceID            string               `json:"device_id,omitempty"`
	CollectorID         string               `json:"collector_id,omitempty"`
	ContentHash         string               `json:"content_hash,omitempty"`
	SizeBytes           int64                `json:"size_bytes"`
	DeclaredCounts      map[string]int       `json:"declared_counts"`
	Status              importpackage.Status `json:"status"`
	StatusReason        string               `json:"status_reason,omitempty"`
	FailureStage        string               `json:"failure_stage,omitempty"`
	Counts              importpackage.Counts `json:"counts"`
	InvalidAcknowledged bool                 `json:"invalid_acknowledged"`
	ArchiveLocation     string               `json:"archive_location,omitempty"`
	UploadedBy          uuid.UUID            `json:"uploaded_by"`
	UploadedAt          time.Time            `json:"uploaded_at"`
	CommittedAt         *time.Time           `json:"committed_at,omitempty"`
	CancelledAt         *time.Time           `json:"cancelled_at,omitempty"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

func PackageToDTO(p importpackage.ImportPackage) PackageDTO {
	src := p.Source()
	declared := p.DeclaredCounts()
	if declared == nil {
		declared = map[string]int{}
	}
	return PackageDTO{
		ID:                  p.ID(),
		ExternalID:          src.ExternalID,
		SchemaVersion:       src.SchemaVersion,
		DeviceID:            src.DeviceID,
		CollectorID:         src.CollectorID,
		ContentHash:         src.ContentHash,
		SizeBytes:           src.SizeBytes,
		DeclaredCounts:      declared,
		Status:              p.Status(),
		StatusReason:        p.StatusReason(),
		FailureStage:        p.FailureStage(),
		Counts:              p.Counts(),
		InvalidAcknowledged: p.InvalidAcknowledged(),
		ArchiveLocation:     p.ArchiveLocation(),
		UploadedBy:          p.UploadedBy(),
		UploadedAt:          p.UploadedAt(),
		CommittedAt:         p.CommittedAt(),
		CancelledAt:         p.CancelledAt(),
		UpdatedAt:           p.UpdatedAt(),
	}
}

type StagingRecordDTO struct {
	ID                uuid.UUID                  `json:"id"`
	Seq               int                        `json:"seq"`
	LocalID           string                     `json:"local_id"`
	EntityType        stagingrecord.EntityType   `json:"entity_type"`
	Payload           json.RawMessage            `json:"payload,omitempty"`
	Outcome           stagingrecord.Outcome      `json:"outcome,omitempty"`
	Messages          []stagingrecord.Message    `json:"messages"`
	Approved          bool                       `json:"approved"`
	Disposition       stagingrecord.Disposition  `json:"disposition,omitempty"`
	SurvivorRecordID  *uuid.UUID                 `json:"survivor_record_id,omitempty"`
	TargetEntityID    *uuid.UUID                 `json:"target_entity_id,omitempty"`
	CommittedEntityID *uuid.UUID                 `json:"committed_entity_id,omitempty"`
	CommitStatus      stagingrecord.CommitStatus `json:"commit_status,omitempty"`
	CommitMessage     string                     `json:"commit_message,omitempty"`
	PurgedAt          *time.Time                 `json:"purged_at,omitempty"`
}

func StagingRecordToDTO(r *stagingrecord.StagingRecord) StagingRecordDTO {
	messages := r.Messages
	if messages == nil {
		messages = []stagingrecord.Message{}
	}
	return StagingRecordDTO{
		ID:                r.ID,
		Seq:               r.Seq,
		LocalID:           r.LocalID,
		EntityType:        r.EntityType,
		Payload:           r.Payload,
		Outcome:           r.Outcome,
		Messages:          messages,
		Approved:          r.Approved,
		Disposition:       r.Disposition,
		SurvivorRecordID:  r.SurvivorRecordID,
		TargetEntityID:    r.TargetEntityID,
		CommittedEntityID: r.CommittedEntityID,
		CommitStatus:      r.CommitStatus,
		CommitMessage:     r.CommitMessage,
		PurgedAt:          r.PurgedAt,
	}
}

type StagingSummaryDTO struct {
	Package          PackageDTO                                          `json:"package"`
	ByEntityType     map[stagingrecord.EntityType]services.EntitySummary `json:"by_entity_type"`
	PendingConflicts int                                                 `json:"pending_conflicts"`
	Attachments      int                                                 `json:"attachments"`
}

func StagingSummaryToDTO(s *services.StagingSummary) StagingSummaryDTO {
	return StagingSummaryDTO{
		Package:          PackageToDTO(s.Package),
		ByEntityType:     s.ByEntityType,
		PendingConflicts: s.PendingConflicts,
		Attachments:      s.Attachments,
	}
}

type ResolutionDTO struct {
	Action            conflict.ResolutionAction `json:"action"`
	Reason            string                    `json:"reason,omitempty"`
	Notes             string                    `json:"notes,omitempty"`
	MergedEntityID    *uuid.UUID                `json:"merged_entity_id,omitempty"`
	DiscardedEntityID *uuid.UUID                `json:"discarded_entity_id,omitempty"`
	MergeMapping      json.RawMessage           `json:"merge_mapping,omitempty"`
	ResolvedBy        *uuid.UUID                `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time                `json:"resolved_at,omitempty"`
}

type ConflictDTO struct {
	ID                    uuid.UUID                `json:"id"`
	Number                string                   `json:"conflict_number"`
	Type                  conflict.Type            `json:"conflict_type"`
	EntityType            string                   `json:"entity_type"`
	First                 conflict.EntityRef       `json:"first"`
	Second                conflict.EntityRef       `json:"second"`
	SimilarityScore       float64                  `json:"similarity_score"`
	ConfidenceLevel       conflict.ConfidenceLevel `json:"confidence_level"`
	MatchingCriteria      json.RawMessage          `json:"matching_criteria,omitempty"`
	DataComparison        json.RawMessage          `json:"data_comparison,omitempty"`
	Status                conflict.Status          `json:"status"`
	Priority              conflict.Priority        `json:"priority"`
	IsEscalated           bool                     `json:"is_escalated"`
	EscalationReason      string                   `json:"escalation_reason,omitempty"`
	EscalatedAt           *time.Time               `json:"escalated_at,omitempty"`
	IsAutoDetected        bool                     `json:"is_auto_detected"`
	IsAutoResolved        bool                     `json:"is_auto_resolved"`
	AutoResolutionRule    string                   `json:"auto_resolution_rule,omitempty"`
	AssignedTo            *uuid.UUID               `json:"assigned_to,omitempty"`
	AssignedAt            *time.Time               `json:"assigned_at,omitempty"`
	ReviewAttempts        int                      `json:"review_attempts"`
	ReviewNotes           string                   `json:"review_notes,omitempty"`
	Resolution            *ResolutionDTO           `json:"resolution,omitempty"`
	TargetResolutionHours int                      `json:"target_resolution_hours"`
	DueAt                 time.Time                `json:"due_at"`
	IsOverdue             bool                     `json:"is_overdue"`
	ImportPackageID       *uuid.UUID               `json:"import_package_id,omitempty"`
	CreatedAt             time.Time                `json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

// ConflictToDTO renders c with its overdue flag evaluated at now.
func ConflictToDTO(c *conflict.Conflict, now time.Time) ConflictDTO {
	dto := ConflictDTO{
		ID:                    c.ID,
		Number:                c.Number,
		Type:                  c.Type,
		EntityType:            c.EntityType,
		First:                 c.First,
		Second:                c.Second,
		SimilarityScore:       c.SimilarityScore,
		ConfidenceLevel:       c.ConfidenceLevel,
		MatchingCriteria:      c.MatchingCriteria,
		DataComparison:        c.DataComparison,
		Status:                c.Status,
		Priority:              c.Priority,
		IsEscalated:           c.IsEscalated,
		EscalationReason:      c.EscalationReason,
		EscalatedAt:           c.EscalatedAt,
		IsAutoDetected:        c.IsAutoDetected,
		IsAutoResolved:        c.IsAutoResolved,
		AutoResolutionRule:    c.AutoResolutionRule,
		AssignedTo:            c.AssignedTo,
		AssignedAt:            c.AssignedAt,
		ReviewAttempts:        c.ReviewAttempts,
		ReviewNotes:           c.ReviewNotes,
		TargetResolutionHours: c.TargetResolutionHours,
		DueAt:                 c.DueAt(),
		IsOverdue:             c.CheckIfOverdue(now),
		ImportPackageID:       c.ImportPackageID,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
	if c.Resolution.Action != "" {
		res := c.Resolution
		dto.Resolution = &ResolutionDTO{
			Action:            res.Action,
			Reason:            res.Reason,
			Notes:             res.Notes,
			MergedEntityID:    res.MergedEntityID,
			DiscardedEntityID: res.DiscardedEntityID,
			MergeMapping:      res.MergeMapping,
			ResolvedBy:        res.ResolvedBy,
			ResolvedAt:        res.ResolvedAt,
		}
	}
	return dto
}
