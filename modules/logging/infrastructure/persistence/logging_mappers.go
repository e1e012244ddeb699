package persistence

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
	"github.com/iota-uz/field-registry/modules/logging/infrastructure/persistence/models"
)

func nullableJSON(v json.RawMessage) []byte {
	if len(v) == 0 || string(v) == "null" {
		return nil
	}
	return v
}

func toDBActionLog(log *actionlog.ActionLog) *models.ActionLog {
	row := &models.ActionLog{
		ID:          log.ID,
		ActionType:  log.ActionType,
		Description: log.Description,
		EntityType:  log.EntityType,
		EntityID:    log.EntityID,
		OldValues:   nullableJSON(log.OldValues),
		NewValues:   nullableJSON(log.NewValues),
		UserAgent:   log.UserAgent,
		IP:          log.IP,
		CreatedAt:   log.CreatedAt,
	}
	if log.UserID != nil {
		row.UserID = pgtype.UUID{Bytes: *log.UserID, Valid: true}
	}
	return row
}

func toDomainActionLog(dbLog *models.ActionLog) *actionlog.ActionLog {
	out := &actionlog.ActionLog{
		ID:          dbLog.ID,
		ActionType:  dbLog.ActionType,
		Description: dbLog.Description,
		EntityType:  dbLog.EntityType,
		EntityID:    dbLog.EntityID,
		OldValues:   dbLog.OldValues,
		NewValues:   dbLog.NewValues,
		UserAgent:   dbLog.UserAgent,
		IP:          dbLog.IP,
		CreatedAt:   dbLog.CreatedAt,
	}
	if dbLog.UserID.Valid {
		id := uuid.UUID(dbLog.UserID.Bytes)
		out.UserID = &id
	}
	return out
}
