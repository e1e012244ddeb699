package persistence

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/persistence/models"
)

const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

func pgErrorCode(err error) (string, string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", "", false
	}
	return pgErr.Code, pgErr.ConstraintName, true
}

func pgUUIDPtr(id *uuid.UUID) pgtype.UUID {
	if id == nil || *id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func uuidPtrFromPg(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func nullableJSON(v json.RawMessage) []byte {
	if len(v) == 0 || string(v) == "null" {
		return nil
	}
	return v
}

// jsonOrEmpty is for NOT NULL jsonb columns.
func jsonOrEmpty(v json.RawMessage, empty string) []byte {
	if b := nullableJSON(v); b != nil {
		return b
	}
	return []byte(empty)
}

func cloneRaw(v []byte) json.RawMessage {
	if v == nil {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}

func toDBImportPackage(p importpackage.ImportPackage) (*models.ImportPackage, error) {
	counts, err := json.Marshal(p.DeclaredCounts())
	if err != nil {
		return nil, err
	}
	src := p.Source()
	c := p.Counts()
	return &models.ImportPackage{
		ID:                  p.ID(),
		ExternalPackageID:   src.ExternalID,
		SchemaVersion:       src.SchemaVersion,
		DeviceID:            src.DeviceID,
		CollectorID:         src.CollectorID,
		UploadedBy:          p.UploadedBy(),
		UploadedAt:          p.UploadedAt(),
		Status:              string(p.Status()),
		StatusReason:        p.StatusReason(),
		FailureStage:        p.FailureStage(),
		ContentHash:         src.ContentHash,
		DeclaredCounts:      counts,
		SizeBytes:           src.SizeBytes,
		StagedCount:         c.Staged,
		ValidCount:          c.Valid,
		WarningCount:        c.Warning,
		InvalidCount:        c.Invalid,
		ApprovedCount:       c.Approved,
		InvalidAcknowledged: p.InvalidAcknowledged(),
		RawLocation:         p.RawLocation(),
		ArchiveLocation:     p.ArchiveLocation(),
		CommittedAt:         p.CommittedAt(),
		CancelledAt:         p.CancelledAt(),
		UpdatedAt:           p.UpdatedAt(),
	}, nil
}

func toDomainImportPackage(row *models.ImportPackage) (importpackage.ImportPackage, error) {
	var declared map[string]int
	if len(row.DeclaredCounts) > 0 {
		if err := json.Unmarshal(row.DeclaredCounts, &declared); err != nil {
			return importpackage.ImportPackage{}, err
		}
	}
	return importpackage.Hydrate(importpackage.HydrateParams{
		ID: row.ID,
		Source: importpackage.Source{
			ExternalID:     row.ExternalPackageID,
			SchemaVersion:  row.SchemaVersion,
			DeviceID:       row.DeviceID,
			CollectorID:    row.CollectorID,
			ContentHash:    row.ContentHash,
			DeclaredCounts: declared,
			SizeBytes:      row.SizeBytes,
		},
		UploadedBy:   row.UploadedBy,
		UploadedAt:   row.UploadedAt,
		Status:       importpackage.Status(row.Status),
		StatusReason: row.StatusReason,
		FailureStage: row.FailureStage,
		Counts: importpackage.Counts{
			Staged:   row.StagedCount,
			Valid:    row.ValidCount,
			Warning:  row.WarningCount,
			Invalid:  row.InvalidCount,
			Approved: row.ApprovedCount,
		},
		InvalidAcknowledged: row.InvalidAcknowledged,
		RawLocation:         row.RawLocation,
		ArchiveLocation:     row.ArchiveLocation,
		CommittedAt:         row.CommittedAt,
		CancelledAt:         row.CancelledAt,
		UpdatedAt:           row.UpdatedAt,
	}), nil
}

func toDBStagingRecord(r *stagingrecord.StagingRecord) (*models.StagingRecord, error) {
	messages := r.Messages
	if messages == nil {
		messages = []stagingrecord.Message{}
	}
	rawMessages, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	return &models.StagingRecord{
		ID:                r.ID,
		PackageID:         r.PackageID,
		Seq:               r.Seq,
		LocalID:           r.LocalID,
		EntityType:        string(r.EntityType),
		Payload:           nullableJSON(r.Payload),
		Outcome:           string(r.Outcome),
		Messages:          rawMessages,
		Approved:          r.Approved,
		Disposition:       string(r.Disposition),
		SurvivorRecordID:  pgUUIDPtr(r.SurvivorRecordID),
		TargetEntityID:    pgUUIDPtr(r.TargetEntityID),
		CommittedEntityID: pgUUIDPtr(r.CommittedEntityID),
		CommitStatus:      string(r.CommitStatus),
		CommitMessage:     r.CommitMessage,
		PurgedAt:          r.PurgedAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

func toDomainStagingRecord(row *models.StagingRecord) (*stagingrecord.StagingRecord, error) {
	var messages []stagingrecord.Message
	if len(row.Messages) > 0 {
		if err := json.Unmarshal(row.Messages, &messages); err != nil {
			return nil, err
		}
	}
	return &stagingrecord.StagingRecord{
		ID:                row.ID,
		PackageID:         row.PackageID,
		Seq:               row.Seq,
		LocalID:           row.LocalID,
		EntityType:        stagingrecord.EntityType(row.EntityType),
		Payload:           cloneRaw(row.Payload),
		Outcome:           stagingrecord.Outcome(row.Outcome),
		Messages:          messages,
		Approved:          row.Approved,
		Disposition:       stagingrecord.Disposition(row.Disposition),
		SurvivorRecordID:  uuidPtrFromPg(row.SurvivorRecordID),
		TargetEntityID:    uuidPtrFromPg(row.TargetEntityID),
		CommittedEntityID: uuidPtrFromPg(row.CommittedEntityID),
		CommitStatus:      stagingrecord.CommitStatus(row.CommitStatus),
		CommitMessage:     row.CommitMessage,
		PurgedAt:          row.PurgedAt,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

func toDBConflict(c *conflict.Conflict) *models.Conflict {
	return &models.Conflict{
		ID:                    c.ID,
		ConflictNumber:        c.Number,
		ConflictType:          string(c.Type),
		EntityType:            c.EntityType,
		FirstEntityID:         c.First.ID,
		FirstEntityKind:       string(c.First.Kind),
		FirstDisplay:          c.First.Display,
		SecondEntityID:        c.Second.ID,
		SecondEntityKind:      string(c.Second.Kind),
		SecondDisplay:         c.Second.Display,
		SimilarityScore:       c.SimilarityScore,
		ConfidenceLevel:       string(c.ConfidenceLevel),
		MatchingCriteria:      jsonOrEmpty(c.MatchingCriteria, "{}"),
		DataComparison:        jsonOrEmpty(c.DataComparison, "{}"),
		Status:                string(c.Status),
		Priority:              string(c.Priority),
		IsEscalated:           c.IsEscalated,
		EscalationReason:      c.EscalationReason,
		EscalatedAt:           c.EscalatedAt,
		IsAutoDetected:        c.IsAutoDetected,
		IsAutoResolved:        c.IsAutoResolved,
		AutoResolutionRule:    c.AutoResolutionRule,
		AssignedTo:            pgUUIDPtr(c.AssignedTo),
		AssignedAt:            c.AssignedAt,
		ReviewAttempts:        c.ReviewAttempts,
		ReviewNotes:           c.ReviewNotes,
		ResolutionAction:      string(c.Resolution.Action),
		ResolutionReason:      c.Resolution.Reason,
		ResolutionNotes:       c.Resolution.Notes,
		MergedEntityID:        pgUUIDPtr(c.Resolution.MergedEntityID),
		DiscardedEntityID:     pgUUIDPtr(c.Resolution.DiscardedEntityID),
		MergeMapping:          nullableJSON(c.Resolution.MergeMapping),
		ResolvedBy:            pgUUIDPtr(c.Resolution.ResolvedBy),
		ResolvedAt:            c.Resolution.ResolvedAt,
		TargetResolutionHours: c.TargetResolutionHours,
		IsOverdue:             c.IsOverdue,
		ImportPackageID:       pgUUIDPtr(c.ImportPackageID),
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func toDomainConflict(row *models.Conflict) *conflict.Conflict {
	return &conflict.Conflict{
		ID:         row.ID,
		Number:     row.ConflictNumber,
		Type:       conflict.Type(row.ConflictType),
		EntityType: row.EntityType,
		First: conflict.EntityRef{
			ID:      row.FirstEntityID,
			Kind:    conflict.RefKind(row.FirstEntityKind),
			Display: row.FirstDisplay,
		},
		Second: conflict.EntityRef{
			ID:      row.SecondEntityID,
			Kind:    conflict.RefKind(row.SecondEntityKind),
			Display: row.SecondDisplay,
		},
		SimilarityScore:    row.SimilarityScore,
		ConfidenceLevel:    conflict.ConfidenceLevel(row.ConfidenceLevel),
		MatchingCriteria:   cloneRaw(row.MatchingCriteria),
		DataComparison:     cloneRaw(row.DataComparison),
		Status:             conflict.Status(row.Status),
		Priority:           conflict.Priority(row.Priority),
		IsEscalated:        row.IsEscalated,
		EscalationReason:   row.EscalationReason,
		EscalatedAt:        row.EscalatedAt,
		IsAutoDetected:     row.IsAutoDetected,
		IsAutoResolved:     row.IsAutoResolved,
		AutoResolutionRule: row.AutoResolutionRule,
		AssignedTo:         uuidPtrFromPg(row.AssignedTo),
		AssignedAt:         row.AssignedAt,
		ReviewAttempts:     row.ReviewAttempts,
		ReviewNotes:        row.ReviewNotes,
		Resolution: conflict.Resolution{
			Action:            conflict.ResolutionAction(row.ResolutionAction),
			Reason:            row.ResolutionReason,
			Notes:             row.ResolutionNotes,
			MergedEntityID:    uuidPtrFromPg(row.MergedEntityID),
			DiscardedEntityID: uuidPtrFromPg(row.DiscardedEntityID),
			MergeMapping:      cloneRaw(row.MergeMapping),
			ResolvedBy:        uuidPtrFromPg(row.ResolvedBy),
			ResolvedAt:        row.ResolvedAt,
		},
		TargetResolutionHours: row.TargetResolutionHours,
		IsOverdue:             row.IsOverdue,
		ImportPackageID:       uuidPtrFromPg(row.ImportPackageID),
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
}
