package mappers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
)

type ActionLogDTO struct {
	ID          uint            `json:"id"`
	ActionType  string          `json:"action_type"`
	Description string          `json:"description,omitempty"`
	EntityType  string          `json:"entity_type,omitempty"`
	EntityID    string          `json:"entity_id,omitempty"`
	OldValues   json.RawMessage `json:"old_values,omitempty"`
	NewValues   json.RawMessage `json:"new_values,omitempty"`
	UserID      *uuid.UUID      `json:"user_id,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	IP          string          `json:"ip,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func ActionLogToDTO(log *actionlog.ActionLog) ActionLogDTO {
	return ActionLogDTO{
		ID:          log.ID,
		ActionType:  log.ActionType,
		Description: log.Description,
		EntityType:  log.EntityType,
		EntityID:    log.EntityID,
		OldValues:   log.OldValues,
		NewValues:   log.NewValues,
		UserID:      log.UserID,
		UserAgent:   log.UserAgent,
		IP:          log.IP,
		CreatedAt:   log.CreatedAt,
	}
}
