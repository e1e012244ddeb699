package persistence

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

type InmemActionLogRepository struct {
	rows *inmem.Table[uint, actionlog.ActionLog]
	seq  *inmem.Sequence
}

func NewInmemActionLogRepository(db *inmem.DB) *InmemActionLogRepository {
	return &InmemActionLogRepository{
		rows: inmem.NewTable[uint, actionlog.ActionLog](db, nil),
		seq:  inmem.NewSequence(db),
	}
}

func matchesActionLog(params *actionlog.FindParams, l actionlog.ActionLog) bool {
	if params == nil {
		return true
	}
	if params.UserID != nil && (l.UserID == nil || *l.UserID != *params.UserID) {
		return false
	}
	if v := strings.TrimSpace(params.ActionType); v != "" && l.ActionType != v {
		return false
	}
	if v := strings.TrimSpace(params.EntityType); v != "" && l.EntityType != v {
		return false
	}
	if v := strings.TrimSpace(params.EntityID); v != "" && l.EntityID != v {
		return false
	}
	if v := strings.ToLower(strings.TrimSpace(params.Search)); v != "" && !strings.Contains(strings.ToLower(l.Description), v) {
		return false
	}
	if params.From != nil && !params.From.IsZero() && l.CreatedAt.Before(*params.From) {
		return false
	}
	if params.To != nil && !params.To.IsZero() && l.CreatedAt.After(*params.To) {
		return false
	}
	return true
}

func (r *InmemActionLogRepository) List(_ context.Context, params *actionlog.FindParams) ([]*actionlog.ActionLog, error) {
	found := r.rows.Find(func(l actionlog.ActionLog) bool { return matchesActionLog(params, l) })
	sort.SliceStable(found, func(i, j int) bool { return found[i].ID > found[j].ID })
	if params != nil {
		if params.Offset >= len(found) {
			found = nil
		} else {
			found = found[params.Offset:]
		}
		if params.Limit > 0 && params.Limit < len(found) {
			found = found[:params.Limit]
		}
	}
	out := make([]*actionlog.ActionLog, len(found))
	for i := range found {
		out[i] = &found[i]
	}
	return out, nil
}

func (r *InmemActionLogRepository) Count(_ context.Context, params *actionlog.FindParams) (int64, error) {
	return int64(len(r.rows.Find(func(l actionlog.ActionLog) bool { return matchesActionLog(params, l) }))), nil
}

func (r *InmemActionLogRepository) Create(_ context.Context, log *actionlog.ActionLog) error {
	log.ID = uint(r.seq.Next())
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	r.rows.Put(log.ID, *log)
	return nil
}
