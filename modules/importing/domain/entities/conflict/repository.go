package conflict

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("conflict not found")
	ErrNotPending        = errors.New("conflict is not pending review")
	ErrAlreadyEscalated  = errors.New("conflict is already escalated")
	ErrInvalidResolution = errors.New("invalid conflict resolution")
	ErrEmptyNote         = errors.New("review note is empty")
	ErrDuplicatePair     = errors.New("conflict already recorded for this pair")
)

type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortScore     SortField = "similarity_score"
	SortPriority  SortField = "priority"
	SortNumber    SortField = "conflict_number"
)

type FindParams struct {
	PackageID  *uuid.UUID
	EntityType string
	Type       Type
	Status     Status
	Priority   Priority
	AssignedTo *uuid.UUID
	Escalated  *bool
	Overdue    *bool
	// Now anchors the overdue filter; zero means the current time.
	Now      time.Time
	Page     int
	PageSize int
	SortBy   SortField
	SortDesc bool
}

type Summary struct {
	Total        int64              `json:"total"`
	ByType       map[Type]int64     `json:"by_type"`
	ByStatus     map[Status]int64   `json:"by_status"`
	ByPriority   map[Priority]int64 `json:"by_priority"`
	Escalated    int64              `json:"escalated"`
	AutoResolved int64              `json:"auto_resolved"`
	Overdue      int64              `json:"overdue"`
}

func NewSummary() Summary {
	return Summary{
		ByType:     map[Type]int64{},
		ByStatus:   map[Status]int64{},
		ByPriority: map[Priority]int64{},
	}
}

// Add folds count conflicts sharing the given attributes into s.
func (s *Summary) Add(t Type, st Status, p Priority, escalated, autoResolved, overdue bool, count int64) {
	s.Total += count
	s.ByType[t] += count
	s.ByStatus[st] += count
	s.ByPriority[p] += count
	if escalated {
		s.Escalated += count
	}
	if autoResolved {
		s.AutoResolved += count
	}
	if overdue {
		s.Overdue += count
	}
}

type Repository interface {
	NextNumber(ctx context.Context, at time.Time) (string, error)
	Create(ctx context.Context, c *Conflict) error
	Update(ctx context.Context, c *Conflict) error
	GetByID(ctx context.Context, id uuid.UUID) (*Conflict, error)
	ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*Conflict, error)
	CountPending(ctx context.Context, packageID uuid.UUID) (int, error)
	GetPaginated(ctx context.Context, params *FindParams) ([]*Conflict, int64, error)
	Summary(ctx context.Context, params *FindParams) (Summary, error)
	// SweepOverdue refreshes the stored overdue flag of every conflict.
	SweepOverdue(ctx context.Context, now time.Time) (int64, error)
}
