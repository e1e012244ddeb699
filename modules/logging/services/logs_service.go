package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
	"github.com/iota-uz/field-registry/pkg/composables"
)

var (
	ErrMissingActionType = errors.New("action type is required")
	ErrNilActionLog      = errors.New("action log payload is required")
)

// Column widths of action_logs.
const (
	maxActionTypeLen = 64
	maxEntityLen     = 64
	maxUserAgentLen  = 512
	maxIPLen         = 64
)

type LogsService struct {
	actionRepo actionlog.Repository
	enabled    bool
}

func NewLogsService(actionRepo actionlog.Repository, enabled bool) *LogsService {
	return &LogsService{actionRepo: actionRepo, enabled: enabled}
}

func (s *LogsService) Enabled() bool {
	return s.enabled
}

func (s *LogsService) ListActionLogs(ctx context.Context, params *actionlog.FindParams) ([]*actionlog.ActionLog, int64, error) {
	if params == nil {
		params = &actionlog.FindParams{}
	}
	total, err := s.actionRepo.Count(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []*actionlog.ActionLog{}, 0, nil
	}
	logs, err := s.actionRepo.List(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// clip cuts v to at most n runes.
func clip(v string, n int) string {
	if utf8.RuneCountInString(v) <= n {
		return v
	}
	return string([]rune(v)[:n])
}

// CreateActionLog records log when logging is enabled. Request metadata and the
// actor fill blanks the caller left.
func (s *LogsService) CreateActionLog(ctx context.Context, log *actionlog.ActionLog) error {
	if log == nil {
		return ErrNilActionLog
	}
	log.ActionType = strings.TrimSpace(log.ActionType)
	if log.ActionType == "" {
		return ErrMissingActionType
	}
	if !s.enabled {
		return nil
	}
	if params, ok := composables.UseParams(ctx); ok {
		if log.UserAgent == "" {
			log.UserAgent = params.UserAgent
		}
		if log.IP == "" {
			log.IP = params.IP
		}
	}
	if log.UserID == nil {
		if id, err := composables.UseActorID(ctx); err == nil {
			log.UserID = &id
		}
	}
	log.ActionType = clip(log.ActionType, maxActionTypeLen)
	log.EntityType = clip(log.EntityType, maxEntityLen)
	log.EntityID = clip(log.EntityID, maxEntityLen)
	log.UserAgent = clip(log.UserAgent, maxUserAgentLen)
	log.IP = clip(log.IP, maxIPLen)
	return s.actionRepo.Create(ctx, log)
}
