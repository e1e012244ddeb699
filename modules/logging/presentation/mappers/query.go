package mappers

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
)

// ActionLogQuery is the query string accepted by GET /logging/api/actions.
type ActionLogQuery struct {
	ActionType string `form:"action_type"`
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
	UserID     string `form:"user_id"`
	Search     string `form:"q"`
	From       string `form:"from"`
	To         string `form:"to"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}

// FindParams converts q into repository filters. Dates are whole days; To
// covers the full day.
func (q *ActionLogQuery) FindParams(limit, offset int) (*actionlog.FindParams, error) {
	params := &actionlog.FindParams{
		ActionType: strings.TrimSpace(q.ActionType),
		EntityType: strings.TrimSpace(q.EntityType),
		EntityID:   strings.TrimSpace(q.EntityID),
		Search:     strings.TrimSpace(q.Search),
		Limit:      limit,
		Offset:     offset,
	}
	if v := strings.TrimSpace(q.UserID); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		params.UserID = &id
	}
	if v := strings.TrimSpace(q.From); v != "" {
		day, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return nil, err
		}
		params.From = &day
	}
	if v := strings.TrimSpace(q.To); v != "" {
		day, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return nil, err
		}
		end := day.Add(24*time.Hour - time.Nanosecond)
		params.To = &end
	}
	return params, nil
}
