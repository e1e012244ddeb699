package persistence

import (
	"context"
	"strconv"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
	"github.com/iota-uz/field-registry/modules/logging/infrastructure/persistence/models"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/repo"
)

const (
	selectActionLogsSQL = `SELECT id, action_type, description, entity_type, entity_id,
		old_values, new_values, user_id, user_agent, ip, created_at
	FROM action_logs`

	countActionLogsSQL = `SELECT COUNT(*) FROM action_logs`

	insertActionLogSQL = `INSERT INTO action_logs (
		action_type, description, entity_type, entity_id, old_values, new_values,
		user_id, user_agent, ip, created_at
	) VALUES (
		@action_type, @description, @entity_type, @entity_id, @old_values, @new_values,
		@user_id, @user_agent, @ip, @created_at
	) RETURNING id, created_at`
)

type PgActionLogRepository struct{}

func NewActionLogRepository() actionlog.Repository {
	return &PgActionLogRepository{}
}

// actionLogFilter numbers placeholders as conditions are added.
type actionLogFilter struct {
	conds []string
	args  []any
}

func (f *actionLogFilter) add(column, op string, v any) {
	f.args = append(f.args, v)
	f.conds = append(f.conds, column+" "+op+" $"+strconv.Itoa(len(f.args)))
}

func (f *actionLogFilter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

func newActionLogFilter(params *actionlog.FindParams) *actionLogFilter {
	f := &actionLogFilter{}
	if params == nil {
		return f
	}
	if params.UserID != nil {
		f.add("user_id", "=", *params.UserID)
	}
	for _, eq := range []struct {
		column string
		value  string
	}{
		{"action_type", params.ActionType},
		{"entity_type", params.EntityType},
		{"entity_id", params.EntityID},
	} {
		if v := strings.TrimSpace(eq.value); v != "" {
			f.add(eq.column, "=", v)
		}
	}
	if v := strings.TrimSpace(params.Search); v != "" {
		f.add("description", "ILIKE", "%"+v+"%")
	}
	if params.From != nil && !params.From.IsZero() {
		f.add("created_at", ">=", *params.From)
	}
	if params.To != nil && !params.To.IsZero() {
		f.add("created_at", "<=", *params.To)
	}
	return f
}

func (r *PgActionLogRepository) List(ctx context.Context, params *actionlog.FindParams) ([]*actionlog.ActionLog, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	f := newActionLogFilter(params)
	query := selectActionLogsSQL + f.where() + " ORDER BY created_at DESC, id DESC"
	if params != nil {
		query += " " + repo.FormatLimitOffset(params.Limit, params.Offset)
	}

	rows, err := tx.Query(ctx, query, f.args...)
	if err != nil {
		return nil, gerrors.Wrap(err, "query action logs")
	}
	dbRows, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[models.ActionLog])
	if err != nil {
		return nil, gerrors.Wrap(err, "scan action logs")
	}
	out := make([]*actionlog.ActionLog, 0, len(dbRows))
	for _, row := range dbRows {
		out = append(out, toDomainActionLog(row))
	}
	return out, nil
}

func (r *PgActionLogRepository) Count(ctx context.Context, params *actionlog.FindParams) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	f := newActionLogFilter(params)
	var count int64
	if err := tx.QueryRow(ctx, countActionLogsSQL+f.where(), f.args...).Scan(&count); err != nil {
		return 0, gerrors.Wrap(err, "count action logs")
	}
	return count, nil
}

func (r *PgActionLogRepository) Create(ctx context.Context, log *actionlog.ActionLog) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	row := toDBActionLog(log)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	args := pgx.NamedArgs{
		"action_type": row.ActionType,
		"description": row.Description,
		"entity_type": row.EntityType,
		"entity_id":   row.EntityID,
		"old_values":  row.OldValues,
		"new_values":  row.NewValues,
		"user_id":     row.UserID,
		"user_agent":  row.UserAgent,
		"ip":          row.IP,
		"created_at":  row.CreatedAt,
	}
	if err := tx.QueryRow(ctx, insertActionLogSQL, args).Scan(&log.ID, &log.CreatedAt); err != nil {
		return gerrors.Wrap(err, "insert action log")
	}
	return nil
}
