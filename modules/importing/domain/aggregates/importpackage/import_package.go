package importpackage

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusReceived           Status = "received"
	StatusStaging            Status = "staging"
	StatusValidating         Status = "validating"
	StatusReviewingConflicts Status = "reviewing_conflicts"
	StatusReadyToCommit      Status = "ready_to_commit"
	StatusCommitting         Status = "committing"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
	StatusQuarantined        Status = "quarantined"
)

// Failure stages recorded with StatusFailed.
const (
	StageUpload = "upload"
	StageCommit = "commit"
)

var transitions = map[Status][]Status{
	StatusReceived:           {StatusStaging, StatusQuarantined, StatusFailed, StatusCancelled},
	StatusStaging:            {StatusValidating, StatusQuarantined, StatusCancelled},
	StatusValidating:         {StatusReviewingConflicts, StatusReadyToCommit, StatusCancelled},
	StatusReviewingConflicts: {StatusReviewingConflicts, StatusReadyToCommit, StatusCancelled},
	StatusReadyToCommit:      {StatusCommitting, StatusCancelled},
	StatusCommitting:         {StatusCompleted, StatusPartiallyCompleted, StatusFailed},
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled, StatusQuarantined:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Source is what the package manifest says about itself.
type Source struct {
	ExternalID     string
	SchemaVersion  string
	DeviceID       string
	CollectorID    string
	ContentHash    string
	DeclaredCounts map[string]int
	SizeBytes      int64
}

type Counts struct {
	Staged   int `json:"staged"`
	Valid    int `json:"valid"`
	Warning  int `json:"warning"`
	Invalid  int `json:"invalid"`
	Approved int `json:"approved"`
}

type ImportPackage struct {
	id                  uuid.UUID
	source              Source
	uploadedBy          uuid.UUID
	uploadedAt          time.Time
	status              Status
	statusReason        string
	failureStage        string
	counts              Counts
	invalidAcknowledged bool
	rawLocation         string
	archiveLocation     string
	committedAt         *time.Time
	cancelledAt         *time.Time
	updatedAt           time.Time
}

func New(id uuid.UUID, source Source, uploadedBy uuid.UUID, at time.Time) ImportPackage {
	source.DeclaredCounts = maps.Clone(source.DeclaredCounts)
	return ImportPackage{
		id:         id,
		source:     source,
		uploadedBy: uploadedBy,
		uploadedAt: at,
		status:     StatusReceived,
		updatedAt:  at,
	}
}

type HydrateParams struct {
	ID                  uuid.UUID
	Source              Source
	UploadedBy          uuid.UUID
	UploadedAt          time.Time
	Status              Status
	StatusReason        string
	FailureStage        string
	Counts              Counts
	InvalidAcknowledged bool
	RawLocation         string
	ArchiveLocation     string
	CommittedAt         *time.Time
	CancelledAt         *time.Time
	UpdatedAt           time.Time
}

func Hydrate(p HydrateParams) ImportPackage {
	return ImportPackage{
		id:                  p.ID,
		source:              p.Source,
		uploadedBy:          p.UploadedBy,
		uploadedAt:          p.UploadedAt,
		status:              p.Status,
		statusReason:        p.StatusReason,
		failureStage:        p.FailureStage,
		counts:              p.Counts,
		invalidAcknowledged: p.InvalidAcknowledged,
		rawLocation:         p.RawLocation,
		archiveLocation:     p.ArchiveLocation,
		committedAt:         p.CommittedAt,
		cancelledAt:         p.CancelledAt,
		updatedAt:           p.UpdatedAt,
	}
}

func (p ImportPackage) ID() uuid.UUID               { return p.id }
func (p ImportPackage) Source() Source              { return p.source }
func (p ImportPackage) ExternalID() string          { return p.source.ExternalID }
func (p ImportPackage) UploadedBy() uuid.UUID       { return p.uploadedBy }
func (p ImportPackage) UploadedAt() time.Time       { return p.uploadedAt }
func (p ImportPackage) Status() Status              { return p.status }
func (p ImportPackage) StatusReason() string        { return p.statusReason }
func (p ImportPackage) FailureStage() string        { return p.failureStage }
func (p ImportPackage) Counts() Counts              { return p.counts }
func (p ImportPackage) InvalidAcknowledged() bool   { return p.invalidAcknowledged }
func (p ImportPackage) RawLocation() string         { return p.rawLocation }
func (p ImportPackage) ArchiveLocation() string     { return p.archiveLocation }
func (p ImportPackage) CommittedAt() *time.Time     { return p.committedAt }
func (p ImportPackage) CancelledAt() *time.Time     { return p.cancelledAt }
func (p ImportPackage) UpdatedAt() time.Time        { return p.updatedAt }
func (p ImportPackage) IsTerminal() bool            { return p.status.IsTerminal() }
func (p ImportPackage) HasStatus(s ...Status) bool  { return containsStatus(s, p.status) }
func (p ImportPackage) DeclaredCounts() map[string]int {
	return maps.Clone(p.source.DeclaredCounts)
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// TransitionTo moves the package along the lifecycle graph.
func (p ImportPackage) TransitionTo(to Status, reason string, at time.Time) (ImportPackage, error) {
	if !p.status.CanTransitionTo(to) {
		return p, &TransitionError{From: p.status, To: to}
	}
	p.status = to
	p.statusReason = reason
	p.updatedAt = at
	switch to {
	case StatusCompleted, StatusPartiallyCompleted:
		p.committedAt = &at
	case StatusCancelled:
		p.cancelledAt = &at
	}
	return p, nil
}

func (p ImportPackage) Fail(stage, reason string, at time.Time) (ImportPackage, error) {
	next, err := p.TransitionTo(StatusFailed, reason, at)
	if err != nil {
		return p, err
	}
	next.failureStage = stage
	return next, nil
}

// ResetFailedCommit reopens a package whose commit was rolled back.
func (p ImportPackage) ResetFailedCommit(at time.Time) (ImportPackage, error) {
	if p.status != StatusFailed || p.failureStage != StageCommit {
		return p, &TransitionError{From: p.status, To: StatusReadyToCommit}
	}
	p.status = StatusReadyToCommit
	p.statusReason = ""
	p.failureStage = ""
	p.updatedAt = at
	return p, nil
}

func (p ImportPackage) WithCounts(c Counts, at time.Time) ImportPackage {
	p.counts = c
	p.updatedAt = at
	return p
}

func (p ImportPackage) AcknowledgeInvalid(at time.Time) ImportPackage {
	p.invalidAcknowledged = true
	p.updatedAt = at
	return p
}

func (p ImportPackage) WithRawLocation(location string) ImportPackage {
	p.rawLocation = location
	return p
}

func (p ImportPackage) WithArchiveLocation(location string, at time.Time) ImportPackage {
	p.archiveLocation = location
	p.updatedAt = at
	return p
}
