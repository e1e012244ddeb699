package models

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type ActionLog struct {
	ID          uint
	ActionType  string
	Description string
	EntityType  string
	EntityID    string
	OldValues   []byte
	NewValues   []byte
	UserID      pgtype.UUID
	UserAgent   string
	IP          string
	CreatedAt   time.Time
}
