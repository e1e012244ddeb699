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

	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/persistence/models"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/repo"
)

const stagingColumns = `id, package_id, seq, local_id, entity_type, payload, outcome, messages, approved,
	disposition, survivor_record_id, target_entity_id, committed_entity_id, commit_status, commit_message,
	purged_at, created_at, updated_at`

type StagingRecordRepository struct{}

func NewStagingRecordRepository() stagingrecord.Repository {
	return &StagingRecordRepository{}
}

func scanStagingRecord(row pgx.Row) (*stagingrecord.StagingRecord, error) {
	var m models.StagingRecord
	if err := row.Scan(
		&m.ID,
		&m.PackageID,
		&m.Seq,
		&m.LocalID,
		&m.EntityType,
		&m.Payload,
		&m.Outcome,
		&m.Messages,
		&m.Approved,
		&m.Disposition,
		&m.SurvivorRecordID,
		&m.TargetEntityID,
		&m.CommittedEntityID,
		&m.CommitStatus,
		&m.CommitMessage,
		&m.PurgedAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return toDomainStagingRecord(&m)
}

func (r *StagingRecordRepository) InsertBatch(ctx context.Context, records []*stagingrecord.StagingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	const perRow = 6
	values := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*perRow)
	for i, rec := range records {
		base := i * perRow
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, rec.ID, rec.PackageID, rec.Seq, rec.LocalID, string(rec.EntityType), nullableJSON(rec.Payload))
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO import_staging_records (id, package_id, seq, local_id, entity_type, payload)
		VALUES `+strings.Join(values, ", ")+`
		ON CONFLICT (package_id, entity_type, local_id) DO NOTHING`,
		args...,
	)
	if err != nil {
		return 0, gerrors.Wrap(err, "insert staging batch")
	}
	return int(tag.RowsAffected()), nil
}

func (r *StagingRecordRepository) Update(ctx context.Context, rec *stagingrecord.StagingRecord) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	m, err := toDBStagingRecord(rec)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE import_staging_records
		SET payload = $2, outcome = $3, messages = $4, approved = $5, disposition = $6,
		    survivor_record_id = $7, target_entity_id = $8, committed_entity_id = $9,
		    commit_status = $10, commit_message = $11, purged_at = $12, updated_at = now()
		WHERE id = $1`,
		m.ID, m.Payload, m.Outcome, m.Messages, m.Approved, m.Disposition,
		m.SurvivorRecordID, m.TargetEntityID, m.CommittedEntityID,
		m.CommitStatus, m.CommitMessage, m.PurgedAt,
	)
	if err != nil {
		return gerrors.Wrap(err, "update staging record")
	}
	if tag.RowsAffected() == 0 {
		return stagingrecord.ErrNotFound
	}
	return nil
}

func (r *StagingRecordRepository) query(ctx context.Context, query string, args ...any) ([]*stagingrecord.StagingRecord, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*stagingrecord.StagingRecord, 0)
	for rows.Next() {
		rec, err := scanStagingRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *StagingRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*stagingrecord.StagingRecord, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := scanStagingRecord(tx.QueryRow(ctx, `SELECT `+stagingColumns+` FROM import_staging_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, stagingrecord.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *StagingRecordRepository) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*stagingrecord.StagingRecord, error) {
	return r.query(ctx, `SELECT `+stagingColumns+` FROM import_staging_records WHERE package_id = $1 ORDER BY seq, id`, packageID)
}

func buildStagingFilters(params *stagingrecord.FindParams) ([]string, []any) {
	where := []string{"package_id = $1"}
	args := []any{params.PackageID}
	if params.EntityType != "" {
		args = append(args, string(params.EntityType))
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if params.Outcome != "" {
		args = append(args, string(params.Outcome))
		where = append(where, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if params.Approved != nil {
		args = append(args, *params.Approved)
		where = append(where, fmt.Sprintf("approved = $%d", len(args)))
	}
	if params.CommitStatus != nil {
		args = append(args, string(*params.CommitStatus))
		where = append(where, fmt.Sprintf("commit_status = $%d", len(args)))
	}
	return where, args
}

func (r *StagingRecordRepository) GetPaginated(ctx context.Context, params *stagingrecord.FindParams) ([]*stagingrecord.StagingRecord, int64, error) {
	where, args := buildStagingFilters(params)
	items, err := r.query(ctx,
		`SELECT `+stagingColumns+` FROM import_staging_records WHERE `+strings.Join(where, " AND ")+
			` ORDER BY seq, id `+repo.FormatLimitOffset(params.Limit, params.Offset),
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
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM import_staging_records WHERE `+strings.Join(where, " AND "), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *StagingRecordRepository) CountByPackage(ctx context.Context, packageID uuid.UUID) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM import_staging_records WHERE package_id = $1`, packageID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *StagingRecordRepository) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, gerrors.Wrap(err, op)
	}
	return tag.RowsAffected(), nil
}

func (r *StagingRecordRepository) DeleteByPackage(ctx context.Context, packageID uuid.UUID) (int64, error) {
	return r.exec(ctx, "delete staging records", `DELETE FROM import_staging_records WHERE package_id = $1`, packageID)
}

func (r *StagingRecordRepository) PurgePayloads(ctx context.Context, packageID uuid.UUID, at time.Time) (int64, error) {
	return r.exec(ctx, "purge staging payloads", `
		UPDATE import_staging_records SET payload = NULL, purged_at = $2, updated_at = $2
		WHERE package_id = $1 AND purged_at IS NULL`,
		packageID, at,
	)
}

func (r *StagingRecordRepository) SaveAttachments(ctx context.Context, attachments []stagingrecord.StagedAttachment) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	for _, a := range attachments {
		m := models.StagedAttachment(a)
		if _, err := tx.Exec(ctx, `
			INSERT INTO import_staged_attachments (package_id, content_hash, file_name, mime_type, size_bytes, data)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (package_id, content_hash) DO NOTHING`,
			m.PackageID, m.ContentHash, m.FileName, m.MimeType, m.SizeBytes, m.Data,
		); err != nil {
			return gerrors.Wrap(err, "save staged attachment")
		}
	}
	return nil
}

func (r *StagingRecordRepository) GetAttachment(ctx context.Context, packageID uuid.UUID, contentHash string) (stagingrecord.StagedAttachment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return stagingrecord.StagedAttachment{}, err
	}
	var m models.StagedAttachment
	if err := tx.QueryRow(ctx, `
		SELECT package_id, content_hash, file_name, mime_type, size_bytes, data
		FROM import_staged_attachments WHERE package_id = $1 AND content_hash = $2`,
		packageID, strings.ToLower(contentHash),
	).Scan(&m.PackageID, &m.ContentHash, &m.FileName, &m.MimeType, &m.SizeBytes, &m.Data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stagingrecord.StagedAttachment{}, stagingrecord.ErrAttachmentNotFound
		}
		return stagingrecord.StagedAttachment{}, err
	}
	return stagingrecord.StagedAttachment(m), nil
}

func (r *StagingRecordRepository) AttachmentHashes(ctx context.Context, packageID uuid.UUID) (map[string]struct{}, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT content_hash FROM import_staged_attachments WHERE package_id = $1`, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		out[hash] = struct{}{}
	}
	return out, rows.Err()
}

func (r *StagingRecordRepository) DeleteAttachments(ctx context.Context, packageID uuid.UUID) (int64, error) {
	return r.exec(ctx, "delete staged attachments", `DELETE FROM import_staged_attachments WHERE package_id = $1`, packageID)
}
