package dtos

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/services"
)

type ApproveDTO struct {
	AllValid           bool        `json:"all_valid"`
	RecordIDs          []uuid.UUID `json:"record_ids"`
	AcknowledgeInvalid bool        `json:"acknowledge_invalid"`
}

func (d *ApproveDTO) ToParams() services.ApproveParams {
	return services.ApproveParams{
		AllValid:           d.AllValid,
		RecordIDs:          d.RecordIDs,
		AcknowledgeInvalid: d.AcknowledgeInvalid,
	}
}

type CommitDTO struct {
	CleanupStaging bool `json:"cleanup_staging"`
}

type CancelDTO struct {
	Reason         string `json:"reason" validate:"max=500"`
	CleanupStaging bool   `json:"cleanup_staging"`
}

type QuarantineDTO struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type AssignDTO struct {
	AssigneeID uuid.UUID `json:"assignee_id" validate:"required"`
}

type NoteDTO struct {
	Note string `json:"note" validate:"required,max=2000"`
}

type EscalateDTO struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ResolveDTO struct {
	Action            conflict.ResolutionAction `json:"action" validate:"required"`
	Reason            string                    `json:"reason" validate:"max=500"`
	Notes             string                    `json:"notes" validate:"max=2000"`
	MergedEntityID    *uuid.UUID                `json:"merged_entity_id"`
	DiscardedEntityID *uuid.UUID                `json:"discarded_entity_id"`
	MergeMapping      json.RawMessage           `json:"merge_mapping"`
}

func (d *ResolveDTO) ToParams() services.ResolveParams {
	return services.ResolveParams{
		Action:            d.Action,
		Reason:            d.Reason,
		Notes:             d.Notes,
		MergedEntityID:    d.MergedEntityID,
		DiscardedEntityID: d.DiscardedEntityID,
		MergeMapping:      d.MergeMapping,
	}
}

// PackageListQuery is the query string of GET /packages.
type PackageListQuery struct {
	Status     string `form:"status"`
	DeviceID   string `form:"device_id"`
	UploadedBy string `form:"uploaded_by"`
	From       string `form:"from"`
	To         string `form:"to"`
	Sort       string `form:"sort"`
	Order      string `form:"order"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}

func (q *PackageListQuery) Statuses() []importpackage.Status {
	var out []importpackage.Status
	for _, s := range strings.Split(q.Status, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, importpackage.Status(s))
		}
	}
	return out
}
