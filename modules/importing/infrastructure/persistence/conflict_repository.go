package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/persistence/models"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/repo"
)

const conflictColumns = `id, conflict_number, conflict_type, entity_type,
	first_entity_id, first_entity_kind, first_display, second_entity_id, second_entity_kind, second_display,
	similarity_score, confidence_level, matching_criteria, data_comparison, status, priority,
	is_escalated, escalation_reason, escalated_at, is_auto_detected, is_auto_resolved, auto_resolution_rule,
	assigned_to, assigned_at, review_attempts, review_notes,
	resolution_action, resolution_reason, resolution_notes, merged_entity_id, discarded_entity_id, merge_mapping,
	resolved_by, resolved_at, target_resolution_hours, is_overdue, import_package_id, created_at, updated_at`

const conflictPairConstraint = "import_conflicts_pair_key"

// overdueExpr is the live overdue state; %s is the placeholder holding "now".
const overdueExpr = `(status = 'pending_review' AND target_resolution_hours > 0 AND created_at + make_interval(hours => target_resolution_hours) < %s)`

var conflictSortColumns = map[string]string{
	string(conflict.SortCreatedAt): "created_at",
	string(conflict.SortScore):     "similarity_score",
	string(conflict.SortPriority):  "CASE priority WHEN 'high' THEN 1 ELSE 0 END",
	string(conflict.SortNumber):    "conflict_number",
}

type ConflictRepository struct{}

func NewConflictRepository() conflict.Repository {
	return &ConflictRepository{}
}

func scanConflict(row pgx.Row) (*conflict.Conflict, error) {
	var m models.Conflict
	if err := row.Scan(
		&m.ID,
		&m.ConflictNumber,
		&m.ConflictType,
		&m.EntityType,
		&m.FirstEntityID,
		&m.FirstEntityKind,
		&m.FirstDisplay,
		&m.SecondEntityID,
		&m.SecondEntityKind,
		&m.SecondDisplay,
		&m.SimilarityScore,
		&m.ConfidenceLevel,
		&m.MatchingCriteria,
		&m.DataComparison,
		&m.Status,
		&m.Priority,
		&m.IsEscalated,
		&m.EscalationReason,
		&m.EscalatedAt,
		&m.IsAutoDetected,
		&m.IsAutoResolved,
		&m.AutoResolutionRule,
		&m.AssignedTo,
		&m.AssignedAt,
		&m.ReviewAttempts,
		&m.ReviewNotes,
		&m.ResolutionAction,
		&m.ResolutionReason,
		&m.ResolutionNotes,
		&m.MergedEntityID,
		&m.DiscardedEntityID,
		&m.MergeMapping,
		&m.ResolvedBy,
		&m.ResolvedAt,
		&m.TargetResolutionHours,
		&m.IsOverdue,
		&m.ImportPackageID,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return toDomainConflict(&m), nil
}

func (r *ConflictRepository) NextNumber(ctx context.Context, at time.Time) (string, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return "", err
	}
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('import_conflict_number_seq')`).Scan(&seq); err != nil {
		return "", gerrors.Wrap(err, "next conflict number")
	}
	return conflict.NumberFor(at, seq), nil
}

func (r *ConflictRepository) Create(ctx context.Context, c *conflict.Conflict) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	m := toDBConflict(c)
	_, err = tx.Exec(ctx, `
		INSERT INTO import_conflicts (`+conflictColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39)`,
		m.ID, m.ConflictNumber, m.ConflictType, m.EntityType,
		m.FirstEntityID, m.FirstEntityKind, m.FirstDisplay, m.SecondEntityID, m.SecondEntityKind, m.SecondDisplay,
		m.SimilarityScore, m.ConfidenceLevel, m.MatchingCriteria, m.DataComparison, m.Status, m.Priority,
		m.IsEscalated, m.EscalationReason, m.EscalatedAt, m.IsAutoDetected, m.IsAutoResolved, m.AutoResolutionRule,
		m.AssignedTo, m.AssignedAt, m.ReviewAttempts, m.ReviewNotes,
		m.ResolutionAction, m.ResolutionReason, m.ResolutionNotes, m.MergedEntityID, m.DiscardedEntityID, m.MergeMapping,
		m.ResolvedBy, m.ResolvedAt, m.TargetResolutionHours, m.IsOverdue, m.ImportPackageID, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if code, constraint, ok := pgErrorCode(err); ok && code == pgUniqueViolation && constraint == conflictPairConstraint {
			return conflict.ErrDuplicatePair
		}
		return gerrors.Wrap(err, "create conflict")
	}
	return nil
}

func (r *ConflictRepository) Update(ctx context.Context, c *conflict.Conflict) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	m := toDBConflict(c)
	tag, err := tx.Exec(ctx, `
		UPDATE import_conflicts
		SET status = $2, priority = $3, is_escalated = $4, escalation_reason = $5, escalated_at = $6,
		    is_auto_resolved = $7, auto_resolution_rule = $8, assigned_to = $9, assigned_at = $10,
		    review_attempts = $11, review_notes = $12, resolution_action = $13, resolution_reason = $14,
		    resolution_notes = $15, merged_entity_id = $16, discarded_entity_id = $17, merge_mapping = $18,
		    resolved_by = $19, resolved_at = $20, is_overdue = $21, updated_at = $22
		WHERE id = $1`,
		m.ID, m.Status, m.Priority, m.IsEscalated, m.EscalationReason, m.EscalatedAt,
		m.IsAutoResolved, m.AutoResolutionRule, m.AssignedTo, m.AssignedAt,
		m.ReviewAttempts, m.ReviewNotes, m.ResolutionAction, m.ResolutionReason,
		m.ResolutionNotes, m.MergedEntityID, m.DiscardedEntityID, m.MergeMapping,
		m.ResolvedBy, m.ResolvedAt, m.IsOverdue, m.UpdatedAt,
	)
	if err != nil {
		return gerrors.Wrap(err, "update conflict")
	}
	if tag.RowsAffected() == 0 {
		return conflict.ErrNotFound
	}
	return nil
}

func (r *ConflictRepository) query(ctx context.Context, query string, args ...any) ([]*conflict.Conflict, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*conflict.Conflict, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConflictRepository) GetByID(ctx context.Context, id uuid.UUID) (*conflict.Conflict, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	c, err := scanConflict(tx.QueryRow(ctx, `SELECT `+conflictColumns+` FROM import_conflicts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, conflict.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *ConflictRepository) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*conflict.Conflict, error) {
	return r.query(ctx,
		`SELECT `+conflictColumns+` FROM import_conflicts WHERE import_package_id = $1 ORDER BY created_at, conflict_number`,
		packageID,
	)
}

func (r *ConflictRepository) CountPending(ctx context.Context, packageID uuid.UUID) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM import_conflicts WHERE import_package_id = $1 AND status = $2`,
		packageID, string(conflict.StatusPendingReview),
	).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// buildConflictFilters renders every FindParams filter into one WHERE clause.
// With withNow the reference time for the overdue expression is always bound as $1.
func buildConflictFilters(params *conflict.FindParams, withNow bool) ([]string, []any) {
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	where := []string{"TRUE"}
	var args []any
	if withNow {
		args = append(args, now)
	}
	add := func(format string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(format, len(args)))
	}
	if params.PackageID != nil {
		add("import_package_id = $%d", *params.PackageID)
	}
	if v := strings.TrimSpace(params.EntityType); v != "" {
		add("entity_type = $%d", v)
	}
	if params.Type != "" {
		add("conflict_type = $%d", string(params.Type))
	}
	if params.Status != "" {
		add("status = $%d", string(params.Status))
	}
	if params.Priority != "" {
		add("priority = $%d", string(params.Priority))
	}
	if params.AssignedTo != nil {
		add("assigned_to = $%d", *params.AssignedTo)
	}
	if params.Escalated != nil {
		add("is_escalated = $%d", *params.Escalated)
	}
	if params.Overdue != nil {
		placeholder := "$1"
		if !withNow {
			args = append(args, now)
			placeholder = fmt.Sprintf("$%d", len(args))
		}
		expr := fmt.Sprintf(overdueExpr, placeholder+"::timestamptz")
		if *params.Overdue {
			where = append(where, expr)
		} else {
			where = append(where, "NOT "+expr)
		}
	}
	return where, args
}

func (r *ConflictRepository) GetPaginated(ctx context.Context, params *conflict.FindParams) ([]*conflict.Conflict, int64, error) {
	if params == nil {
		params = &conflict.FindParams{}
	}
	where, args := buildConflictFilters(params, false)
	dir := repo.SortAsc
	if params.SortDesc {
		dir = repo.SortDesc
	}
	limit, offset := 0, 0
	if params.PageSize > 0 {
		limit, offset = repo.Page(params.Page, params.PageSize, params.PageSize, 0)
	}
	items, err := r.query(ctx,
		`SELECT `+conflictColumns+` FROM import_conflicts WHERE `+strings.Join(where, " AND ")+` `+
			repo.OrderBy(string(params.SortBy), conflictSortColumns, "created_at", dir)+`, conflict_number `+
			repo.FormatLimitOffset(limit, offset),
		args...,
	)
	if err != nil {
		return nil, 0, err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM import_conflicts WHERE `+strings.Join(where, " AND "),
		args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *ConflictRepository) Summary(ctx context.Context, params *conflict.FindParams) (conflict.Summary, error) {
	if params == nil {
		params = &conflict.FindParams{}
	}
	where, args := buildConflictFilters(params, true)
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return conflict.Summary{}, err
	}
	rows, err := tx.Query(ctx, `
		SELECT conflict_type, status, priority, is_escalated, is_auto_resolved, `+fmt.Sprintf(overdueExpr, "$1::timestamptz")+` AS overdue, COUNT(*)
		FROM import_conflicts
		WHERE `+strings.Join(where, " AND ")+`
		GROUP BY 1, 2, 3, 4, 5, 6`,
		args...,
	)
	if err != nil {
		return conflict.Summary{}, err
	}
	defer rows.Close()

	out := conflict.NewSummary()
	for rows.Next() {
		var (
			ctype, status, priority          string
			escalated, autoResolved, overdue bool
			count                            int64
		)
		if err := rows.Scan(&ctype, &status, &priority, &escalated, &autoResolved, &overdue, &count); err != nil {
			return conflict.Summary{}, err
		}
		out.Add(conflict.Type(ctype), conflict.Status(status), conflict.Priority(priority), escalated, autoResolved, overdue, count)
	}
	return out, rows.Err()
}

func (r *ConflictRepository) SweepOverdue(ctx context.Context, now time.Time) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	expr := fmt.Sprintf(overdueExpr, "$1::timestamptz")
	tag, err := tx.Exec(ctx, `
		UPDATE import_conflicts SET is_overdue = `+expr+`, updated_at = $1
		WHERE is_overdue IS DISTINCT FROM `+expr,
		now,
	)
	if err != nil {
		return 0, gerrors.Wrap(err, "sweep overdue conflicts")
	}
	return tag.RowsAffected(), nil
}
