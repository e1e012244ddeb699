package actionlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionLog is one audited operation: who did what to which entity.
type ActionLog struct {
	ID          uint
	ActionType  string
	Description string
	EntityType  string
	EntityID    string
	OldValues   json.RawMessage
	NewValues   json.RawMessage
	UserID      *uuid.UUID
	UserAgent   string
	IP          string
	CreatedAt   time.Time
}

type FindParams struct {
	UserID     *uuid.UUID
	ActionType string
	EntityType string
	EntityID   string
	// Search matches a substring of the description, case-insensitively.
	Search     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type Repository interface {
	List(ctx context.Context, params *FindParams) ([]*ActionLog, error)
	Count(ctx context.Context, params *FindParams) (int64, error)
	Create(ctx context.Context, log *ActionLog) error
}
