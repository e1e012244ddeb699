package audit

import (
	"context"
	"time"

	"github.com/iota-uz/field-registry/modules/importing/services"
	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
	logging "github.com/iota-uz/field-registry/modules/logging/services"
)

// ActionLogSink writes pipeline audit entries to the action log.
type ActionLogSink struct {
	logs *logging.LogsService
	now  func() time.Time
}

func NewActionLogSink(logs *logging.LogsService) *ActionLogSink {
	return &ActionLogSink{logs: logs, now: time.Now}
}

func (s *ActionLogSink) LogAction(ctx context.Context, entry services.AuditEntry) error {
	return s.logs.CreateActionLog(ctx, &actionlog.ActionLog{
		ActionType:  entry.ActionType,
		Description: entry.Description,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		OldValues:   entry.OldValues,
		NewValues:   entry.NewValues,
		UserID:      entry.UserID,
		CreatedAt:   s.now().UTC(),
	})
}
