package conflict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypePersonDuplicate              Type = "person_duplicate"
	TypePersonDuplicateWithinBatch   Type = "person_duplicate_within_batch"
	TypePropertyDuplicate            Type = "property_duplicate"
	TypePropertyDuplicateWithinBatch Type = "property_duplicate_within_batch"
	TypeClaimConflict                Type = "claim_conflict"
)

func (t Type) Valid() bool {
	switch t {
	case TypePersonDuplicate, TypePersonDuplicateWithinBatch, TypePropertyDuplicate,
		TypePropertyDuplicateWithinBatch, TypeClaimConflict:
		return true
	}
	return false
}

type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Bucket maps a similarity score onto a confidence level.
func Bucket(score, high, medium float64) ConfidenceLevel {
	switch {
	case score >= high:
		return ConfidenceHigh
	case score >= medium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusResolved      Status = "resolved"
	StatusIgnored       Status = "ignored"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type RefKind string

const (
	RefStaging    RefKind = "staging"
	RefProduction RefKind = "production"
)

// EntityRef points at one side of a conflict.
type EntityRef struct {
	ID      uuid.UUID `json:"id"`
	Kind    RefKind   `json:"kind"`
	Display string    `json:"display"`
}

type ResolutionAction string

const (
	ActionMerge      ResolutionAction = "merge"
	ActionKeepBoth   ResolutionAction = "keep_both"
	ActionKeepFirst  ResolutionAction = "keep_first"
	ActionKeepSecond ResolutionAction = "keep_second"
	ActionIgnore     ResolutionAction = "ignore"
)

func (a ResolutionAction) Valid() bool {
	switch a {
	case ActionMerge, ActionKeepBoth, ActionKeepFirst, ActionKeepSecond, ActionIgnore:
		return true
	}
	return false
}

type Resolution struct {
	Action            ResolutionAction
	Reason            string
	Notes             string
	MergedEntityID    *uuid.UUID
	DiscardedEntityID *uuid.UUID
	MergeMapping      json.RawMessage
	ResolvedBy        *uuid.UUID
	ResolvedAt        *time.Time
}

type Conflict struct {
	ID                    uuid.UUID
	Number                string
	Type                  Type
	EntityType            string
	First                 EntityRef
	Second                EntityRef
	SimilarityScore       float64
	ConfidenceLevel       ConfidenceLevel
	MatchingCriteria      json.RawMessage
	DataComparison        json.RawMessage
	Status                Status
	Priority              Priority
	IsEscalated           bool
	EscalationReason      string
	EscalatedAt           *time.Time
	IsAutoDetected        bool
	IsAutoResolved        bool
	AutoResolutionRule    string
	AssignedTo            *uuid.UUID
	AssignedAt            *time.Time
	ReviewAttempts        int
	ReviewNotes           string
	Resolution            Resolution
	TargetResolutionHours int
	IsOverdue             bool
	ImportPackageID       *uuid.UUID
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type NewParams struct {
	Number                string
	Type                  Type
	EntityType            string
	First                 EntityRef
	Second                EntityRef
	SimilarityScore       float64
	ConfidenceLevel       ConfidenceLevel
	MatchingCriteria      json.RawMessage
	DataComparison        json.RawMessage
	Priority              Priority
	TargetResolutionHours int
	ImportPackageID       *uuid.UUID
	DetectedAt            time.Time
}

// New builds an auto-detected conflict awaiting review. The number is issued by
// the repository.
func New(id uuid.UUID, p NewParams) *Conflict {
	priority := p.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	return &Conflict{
		ID:                    id,
		Number:                p.Number,
		Type:                  p.Type,
		EntityType:            p.EntityType,
		First:                 p.First,
		Second:                p.Second,
		SimilarityScore:       p.SimilarityScore,
		ConfidenceLevel:       p.ConfidenceLevel,
		MatchingCriteria:      p.MatchingCriteria,
		DataComparison:        p.DataComparison,
		Status:                StatusPendingReview,
		Priority:              priority,
		IsAutoDetected:        true,
		TargetResolutionHours: p.TargetResolutionHours,
		ImportPackageID:       p.ImportPackageID,
		CreatedAt:             p.DetectedAt,
		UpdatedAt:             p.DetectedAt,
	}
}

// NumberFor formats the human readable conflict number CNF-YYYY-NNNNNN.
func NumberFor(at time.Time, seq int64) string {
	return fmt.Sprintf("CNF-%04d-%06d", at.Year(), seq)
}

func (c *Conflict) IsPending() bool {
	return c.Status == StatusPendingReview
}

func (c *Conflict) IsWithinBatch() bool {
	return c.First.Kind == RefStaging && c.Second.Kind == RefStaging
}

func (c *Conflict) DueAt() time.Time {
	return c.CreatedAt.Add(time.Duration(c.TargetResolutionHours) * time.Hour)
}

// CheckIfOverdue is the live overdue state; IsOverdue is the stored flag.
func (c *Conflict) CheckIfOverdue(now time.Time) bool {
	return c.IsPending() && c.TargetResolutionHours > 0 && now.After(c.DueAt())
}

// RefreshOverdue syncs the stored flag and reports whether it changed.
func (c *Conflict) RefreshOverdue(now time.Time) bool {
	live := c.CheckIfOverdue(now)
	if live == c.IsOverdue {
		return false
	}
	c.IsOverdue = live
	c.UpdatedAt = now
	return true
}

func (c *Conflict) appendHistory(actor uuid.UUID, entry string, at time.Time) {
	line := fmt.Sprintf("%s [%s] %s", at.UTC().Format(time.RFC3339), actor, strings.TrimSpace(entry))
	if c.ReviewNotes == "" {
		c.ReviewNotes = line
	} else {
		c.ReviewNotes += "\n" + line
	}
	c.UpdatedAt = at
}

func (c *Conflict) Assign(actor, assignee uuid.UUID, at time.Time) error {
	if !c.IsPending() {
		return ErrNotPending
	}
	c.AssignedTo = &assignee
	c.AssignedAt = &at
	c.appendHistory(actor, "assigned to "+assignee.String(), at)
	return nil
}

func (c *Conflict) RecordReviewAttempt(actor uuid.UUID, note string, at time.Time) error {
	if !c.IsPending() {
		return ErrNotPending
	}
	c.ReviewAttempts++
	entry := fmt.Sprintf("review attempt %d", c.ReviewAttempts)
	if note = strings.TrimSpace(note); note != "" {
		entry += ": " + note
	}
	c.appendHistory(actor, entry, at)
	return nil
}

// AddReviewNote appends to the history in any state.
func (c *Conflict) AddReviewNote(actor uuid.UUID, note string, at time.Time) error {
	if strings.TrimSpace(note) == "" {
		return ErrEmptyNote
	}
	c.appendHistory(actor, note, at)
	return nil
}

func (c *Conflict) Escalate(actor uuid.UUID, reason string, at time.Time) error {
	if !c.IsPending() {
		return ErrNotPending
	}
	if c.IsEscalated {
		return ErrAlreadyEscalated
	}
	c.IsEscalated = true
	c.EscalationReason = strings.TrimSpace(reason)
	c.EscalatedAt = &at
	c.Priority = PriorityHigh
	c.appendHistory(actor, "escalated: "+c.EscalationReason, at)
	return nil
}

// Validate checks a resolution against this conflict without applying it.
func (c *Conflict) Validate(res Resolution) error {
	if !res.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidResolution, res.Action)
	}
	if res.Action != ActionMerge {
		return nil
	}
	if res.MergedEntityID == nil || res.DiscardedEntityID == nil {
		return fmt.Errorf("%w: merge requires merged and discarded entity ids", ErrInvalidResolution)
	}
	merged, discarded := *res.MergedEntityID, *res.DiscardedEntityID
	pair := (merged == c.First.ID && discarded == c.Second.ID) || (merged == c.Second.ID && discarded == c.First.ID)
	if !pair {
		return fmt.Errorf("%w: merged and discarded ids must be the two compared entities", ErrInvalidResolution)
	}
	mapping := bytes.TrimSpace(res.MergeMapping)
	if len(mapping) == 0 || mapping[0] != '{' || !json.Valid(mapping) {
		return fmt.Errorf("%w: merge mapping must be a JSON object", ErrInvalidResolution)
	}
	return nil
}

func (c *Conflict) Resolve(actor uuid.UUID, res Resolution, at time.Time) error {
	if !c.IsPending() {
		return ErrNotPending
	}
	if err := c.Validate(res); err != nil {
		return err
	}
	res.ResolvedBy = &actor
	res.ResolvedAt = &at
	c.Resolution = res
	c.Status = StatusResolved
	if res.Action == ActionIgnore {
		c.Status = StatusIgnored
	}
	c.IsOverdue = false
	c.appendHistory(actor, "resolved: "+string(res.Action), at)
	return nil
}

// AutoResolve closes the conflict under a configured rule. No user is recorded.
func (c *Conflict) AutoResolve(rule string, action ResolutionAction, at time.Time) error {
	if !c.IsPending() {
		return ErrNotPending
	}
	if action == ActionMerge || !action.Valid() {
		return fmt.Errorf("%w: %q cannot be applied automatically", ErrInvalidResolution, action)
	}
	c.IsAutoResolved = true
	c.AutoResolutionRule = rule
	c.Resolution = Resolution{Action: action, Reason: "auto-resolved by rule " + rule, ResolvedAt: &at}
	c.Status = StatusResolved
	if action == ActionIgnore {
		c.Status = StatusIgnored
	}
	c.UpdatedAt = at
	return nil
}
