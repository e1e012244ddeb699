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

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/persistence/models"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/repo"
)

const packageColumns = `id, external_package_id, schema_version, device_id, collector_id, uploaded_by, uploaded_at,
	status, status_reason, failure_stage, content_hash, declared_counts, size_bytes,
	staged_count, valid_count, warning_count, invalid_count, approved_count, invalid_acknowledged,
	raw_location, archive_location, committed_at, cancelled_at, updated_at`

var packageSortColumns = map[string]string{
	"uploaded_at": "uploaded_at",
	"updated_at":  "updated_at",
	"status":      "status",
	"external_id": "external_package_id",
}

type ImportPackageRepository struct{}

func NewImportPackageRepository() importpackage.Repository {
	return &ImportPackageRepository{}
}

func scanImportPackage(row pgx.Row) (importpackage.ImportPackage, error) {
	var m models.ImportPackage
	if err := row.Scan(
		&m.ID,
		&m.ExternalPackageID,
		&m.SchemaVersion,
		&m.DeviceID,
		&m.CollectorID,
		&m.UploadedBy,
		&m.UploadedAt,
		&m.Status,
		&m.StatusReason,
		&m.FailureStage,
		&m.ContentHash,
		&m.DeclaredCounts,
		&m.SizeBytes,
		&m.StagedCount,
		&m.ValidCount,
		&m.WarningCount,
		&m.InvalidCount,
		&m.ApprovedCount,
		&m.InvalidAcknowledged,
		&m.RawLocation,
		&m.ArchiveLocation,
		&m.CommittedAt,
		&m.CancelledAt,
		&m.UpdatedAt,
	); err != nil {
		return importpackage.ImportPackage{}, err
	}
	return toDomainImportPackage(&m)
}

func (r *ImportPackageRepository) Create(ctx context.Context, p importpackage.ImportPackage) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	m, err := toDBImportPackage(p)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO import_packages (`+packageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		m.ID, m.ExternalPackageID, m.SchemaVersion, m.DeviceID, m.CollectorID, m.UploadedBy, m.UploadedAt,
		m.Status, m.StatusReason, m.FailureStage, m.ContentHash, m.DeclaredCounts, m.SizeBytes,
		m.StagedCount, m.ValidCount, m.WarningCount, m.InvalidCount, m.ApprovedCount, m.InvalidAcknowledged,
		m.RawLocation, m.ArchiveLocation, m.CommittedAt, m.CancelledAt, m.UpdatedAt,
	)
	if err != nil {
		if code, _, ok := pgErrorCode(err); ok && code == pgUniqueViolation {
			return importpackage.ErrDuplicateExternal
		}
		return gerrors.Wrap(err, "create import package")
	}
	return nil
}

func (r *ImportPackageRepository) Update(ctx context.Context, p importpackage.ImportPackage) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	m, err := toDBImportPackage(p)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE import_packages
		SET status = $2, status_reason = $3, failure_stage = $4,
		    staged_count = $5, valid_count = $6, warning_count = $7, invalid_count = $8, approved_count = $9,
		    invalid_acknowledged = $10, raw_location = $11, archive_location = $12,
		    committed_at = $13, cancelled_at = $14, updated_at = $15
		WHERE id = $1`,
		m.ID, m.Status, m.StatusReason, m.FailureStage,
		m.StagedCount, m.ValidCount, m.WarningCount, m.InvalidCount, m.ApprovedCount,
		m.InvalidAcknowledged, m.RawLocation, m.ArchiveLocation,
		m.CommittedAt, m.CancelledAt, m.UpdatedAt,
	)
	if err != nil {
		return gerrors.Wrap(err, "update import package")
	}
	if tag.RowsAffected() == 0 {
		return importpackage.ErrNotFound
	}
	return nil
}

func (r *ImportPackageRepository) getOne(ctx context.Context, query string, arg any) (importpackage.ImportPackage, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return importpackage.ImportPackage{}, err
	}
	p, err := scanImportPackage(tx.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return importpackage.ImportPackage{}, importpackage.ErrNotFound
		}
		if code, _, ok := pgErrorCode(err); ok && code == pgLockNotAvailable {
			return importpackage.ImportPackage{}, importpackage.ErrLocked
		}
		return importpackage.ImportPackage{}, err
	}
	return p, nil
}

func (r *ImportPackageRepository) GetByID(ctx context.Context, id uuid.UUID) (importpackage.ImportPackage, error) {
	return r.getOne(ctx, `SELECT `+packageColumns+` FROM import_packages WHERE id = $1`, id)
}

func (r *ImportPackageRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (importpackage.ImportPackage, error) {
	return r.getOne(ctx, `SELECT `+packageColumns+` FROM import_packages WHERE id = $1 FOR UPDATE NOWAIT`, id)
}

func (r *ImportPackageRepository) GetByExternalID(ctx context.Context, externalID string) (importpackage.ImportPackage, error) {
	return r.getOne(ctx, `SELECT `+packageColumns+` FROM import_packages WHERE external_package_id = $1`, strings.TrimSpace(externalID))
}

func buildPackageFilters(params *importpackage.FindParams) ([]string, []any) {
	where := []string{"TRUE"}
	var args []any
	if params == nil {
		return where, args
	}
	if len(params.Statuses) > 0 {
		statuses := make([]string, len(params.Statuses))
		for i, s := range params.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if v := strings.TrimSpace(params.DeviceID); v != "" {
		args = append(args, v)
		where = append(where, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if params.UploadedBy != nil {
		args = append(args, *params.UploadedBy)
		where = append(where, fmt.Sprintf("uploaded_by = $%d", len(args)))
	}
	if params.From != nil {
		args = append(args, *params.From)
		where = append(where, fmt.Sprintf("uploaded_at >= $%d", len(args)))
	}
	if params.To != nil {
		args = append(args, *params.To)
		where = append(where, fmt.Sprintf("uploaded_at < $%d", len(args)))
	}
	return where, args
}

func (r *ImportPackageRepository) query(ctx context.Context, query string, args ...any) ([]importpackage.ImportPackage, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]importpackage.ImportPackage, 0)
	for rows.Next() {
		p, err := scanImportPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ImportPackageRepository) GetPaginated(ctx context.Context, params *importpackage.FindParams) ([]importpackage.ImportPackage, int64, error) {
	if params == nil {
		params = &importpackage.FindParams{}
	}
	where, args := buildPackageFilters(params)
	dir := repo.SortAsc
	if params.SortDesc || params.SortBy == "" {
		dir = repo.SortDesc
	}
	items, err := r.query(ctx,
		`SELECT `+packageColumns+` FROM import_packages WHERE `+strings.Join(where, " AND ")+` `+
			repo.OrderBy(params.SortBy, packageSortColumns, "uploaded_at", dir)+`, id `+
			repo.FormatLimitOffset(params.Limit, params.Offset),
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
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM import_packages WHERE `+strings.Join(where, " AND "), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *ImportPackageRepository) ListRetentionExpired(ctx context.Context, cutoff time.Time) ([]importpackage.ImportPackage, error) {
	return r.query(ctx, `
		SELECT `+packageColumns+` FROM import_packages p
		WHERE p.status = ANY($1) AND p.updated_at < $2
		  AND EXISTS (SELECT 1 FROM import_staging_records s WHERE s.package_id = p.id AND s.purged_at IS NULL)
		ORDER BY p.updated_at, p.id`,
		retentionStatuses(), cutoff,
	)
}

// retentionStatuses are the terminal states whose staging data may be purged.
func retentionStatuses() []string {
	return []string{
		string(importpackage.StatusCompleted),
		string(importpackage.StatusPartiallyCompleted),
		string(importpackage.StatusFailed),
		string(importpackage.StatusCancelled),
	}
}
