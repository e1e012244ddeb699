package persistence

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

type attachmentKey struct {
	packageID uuid.UUID
	hash      string
}

type pairKey struct {
	packageID uuid.UUID
	ctype     conflict.Type
	first     uuid.UUID
	second    uuid.UUID
}

// InmemStore keeps the import pipeline tables in memory.
type InmemStore struct {
	packages    *inmem.Table[uuid.UUID, importpackage.ImportPackage]
	records     *inmem.Table[uuid.UUID, stagingrecord.StagingRecord]
	attachments *inmem.Table[attachmentKey, stagingrecord.StagedAttachment]
	conflicts   *inmem.Table[uuid.UUID, conflict.Conflict]
	numbers     *inmem.Sequence
}

func NewInmemStore(db *inmem.DB) *InmemStore {
	return &InmemStore{
		packages:    inmem.NewTable[uuid.UUID, importpackage.ImportPackage](db, nil),
		records:     inmem.NewTable[uuid.UUID, stagingrecord.StagingRecord](db, cloneStagingRecord),
		attachments: inmem.NewTable[attachmentKey, stagingrecord.StagedAttachment](db, nil),
		conflicts:   inmem.NewTable[uuid.UUID, conflict.Conflict](db, cloneConflict),
		numbers:     inmem.NewSequence(db),
	}
}

func (s *InmemStore) Packages() importpackage.Repository { return &inmemPackageRepository{s} }
func (s *InmemStore) Staging() stagingrecord.Repository  { return &inmemStagingRepository{s} }
func (s *InmemStore) Conflicts() conflict.Repository     { return &inmemConflictRepository{s} }

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneStagingRecord(r stagingrecord.StagingRecord) stagingrecord.StagingRecord {
	r.Payload = cloneRaw(r.Payload)
	r.Messages = slices.Clone(r.Messages)
	r.SurvivorRecordID = clonePtr(r.SurvivorRecordID)
	r.TargetEntityID = clonePtr(r.TargetEntityID)
	r.CommittedEntityID = clonePtr(r.CommittedEntityID)
	r.PurgedAt = clonePtr(r.PurgedAt)
	return r
}

func cloneConflict(c conflict.Conflict) conflict.Conflict {
	c.MatchingCriteria = cloneRaw(c.MatchingCriteria)
	c.DataComparison = cloneRaw(c.DataComparison)
	c.EscalatedAt = clonePtr(c.EscalatedAt)
	c.AssignedTo = clonePtr(c.AssignedTo)
	c.AssignedAt = clonePtr(c.AssignedAt)
	c.ImportPackageID = clonePtr(c.ImportPackageID)
	c.Resolution.MergedEntityID = clonePtr(c.Resolution.MergedEntityID)
	c.Resolution.DiscardedEntityID = clonePtr(c.Resolution.DiscardedEntityID)
	c.Resolution.MergeMapping = cloneRaw(c.Resolution.MergeMapping)
	c.Resolution.ResolvedBy = clonePtr(c.Resolution.ResolvedBy)
	c.Resolution.ResolvedAt = clonePtr(c.Resolution.ResolvedAt)
	return c
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type inmemPackageRepository struct{ s *InmemStore }

func (r *inmemPackageRepository) Create(_ context.Context, p importpackage.ImportPackage) error {
	if _, ok := r.s.packages.Get(p.ID()); ok {
		return importpackage.ErrDuplicateExternal
	}
	dup := r.s.packages.Find(func(x importpackage.ImportPackage) bool { return x.ExternalID() == p.ExternalID() })
	if len(dup) > 0 {
		return importpackage.ErrDuplicateExternal
	}
	r.s.packages.Put(p.ID(), p)
	return nil
}

func (r *inmemPackageRepository) Update(_ context.Context, p importpackage.ImportPackage) error {
	if _, ok := r.s.packages.Get(p.ID()); !ok {
		return importpackage.ErrNotFound
	}
	r.s.packages.Put(p.ID(), p)
	return nil
}

func (r *inmemPackageRepository) GetByID(_ context.Context, id uuid.UUID) (importpackage.ImportPackage, error) {
	p, ok := r.s.packages.Get(id)
	if !ok {
		return importpackage.ImportPackage{}, importpackage.ErrNotFound
	}
	return p, nil
}

// GetByIDForUpdate needs no lock: in-memory transactions are serialized.
func (r *inmemPackageRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (importpackage.ImportPackage, error) {
	return r.GetByID(ctx, id)
}

func (r *inmemPackageRepository) GetByExternalID(_ context.Context, externalID string) (importpackage.ImportPackage, error) {
	externalID = strings.TrimSpace(externalID)
	found := r.s.packages.Find(func(p importpackage.ImportPackage) bool { return p.ExternalID() == externalID })
	if len(found) == 0 {
		return importpackage.ImportPackage{}, importpackage.ErrNotFound
	}
	return found[0], nil
}

func (r *inmemPackageRepository) GetPaginated(_ context.Context, params *importpackage.FindParams) ([]importpackage.ImportPackage, int64, error) {
	if params == nil {
		params = &importpackage.FindParams{}
	}
	device := strings.TrimSpace(params.DeviceID)
	found := r.s.packages.Find(func(p importpackage.ImportPackage) bool {
		switch {
		case len(params.Statuses) > 0 && !p.HasStatus(params.Statuses...):
			return false
		case device != "" && p.Source().DeviceID != device:
			return false
		case params.UploadedBy != nil && p.UploadedBy() != *params.UploadedBy:
			return false
		case params.From != nil && p.UploadedAt().Before(*params.From):
			return false
		case params.To != nil && !p.UploadedAt().Before(*params.To):
			return false
		}
		return true
	})
	desc := params.SortDesc || params.SortBy == ""
	key := func(p importpackage.ImportPackage) string {
		switch params.SortBy {
		case "updated_at":
			return p.UpdatedAt().UTC().Format(time.RFC3339Nano)
		case "status":
			return string(p.Status())
		case "external_id":
			return p.ExternalID()
		default:
			return p.UploadedAt().UTC().Format(time.RFC3339Nano)
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if desc {
			return key(found[i]) > key(found[j])
		}
		return key(found[i]) < key(found[j])
	})
	return page(found, params.Limit, params.Offset), int64(len(found)), nil
}

func (r *inmemPackageRepository) ListRetentionExpired(_ context.Context, cutoff time.Time) ([]importpackage.ImportPackage, error) {
	statuses := []importpackage.Status{
		importpackage.StatusCompleted,
		importpackage.StatusPartiallyCompleted,
		importpackage.StatusFailed,
		importpackage.StatusCancelled,
	}
	return r.s.packages.Find(func(p importpackage.ImportPackage) bool {
		if !p.HasStatus(statuses...) || !p.UpdatedAt().Before(cutoff) {
			return false
		}
		live := r.s.records.Find(func(rec stagingrecord.StagingRecord) bool {
			return rec.PackageID == p.ID() && rec.PurgedAt == nil
		})
		return len(live) > 0
	}), nil
}

type inmemStagingRepository struct{ s *InmemStore }

func (r *inmemStagingRepository) InsertBatch(_ context.Context, records []*stagingrecord.StagingRecord) (int, error) {
	inserted := 0
	now := time.Now()
	for _, rec := range records {
		if _, ok := r.s.records.Get(rec.ID); ok {
			continue
		}
		row := *rec
		row.CreatedAt, row.UpdatedAt = now, now
		r.s.records.Put(row.ID, row)
		inserted++
	}
	return inserted, nil
}

func (r *inmemStagingRepository) Update(_ context.Context, rec *stagingrecord.StagingRecord) error {
	if _, ok := r.s.records.Get(rec.ID); !ok {
		return stagingrecord.ErrNotFound
	}
	row := *rec
	row.UpdatedAt = time.Now()
	r.s.records.Put(row.ID, row)
	return nil
}

func (r *inmemStagingRepository) GetByID(_ context.Context, id uuid.UUID) (*stagingrecord.StagingRecord, error) {
	rec, ok := r.s.records.Get(id)
	if !ok {
		return nil, stagingrecord.ErrNotFound
	}
	return &rec, nil
}

func sortedRecords(found []stagingrecord.StagingRecord) []*stagingrecord.StagingRecord {
	sort.SliceStable(found, func(i, j int) bool { return found[i].Seq < found[j].Seq })
	out := make([]*stagingrecord.StagingRecord, len(found))
	for i := range found {
		out[i] = &found[i]
	}
	return out
}

func (r *inmemStagingRepository) ListByPackage(_ context.Context, packageID uuid.UUID) ([]*stagingrecord.StagingRecord, error) {
	return sortedRecords(r.s.records.Find(func(rec stagingrecord.StagingRecord) bool { return rec.PackageID == packageID })), nil
}

func (r *inmemStagingRepository) GetPaginated(_ context.Context, params *stagingrecord.FindParams) ([]*stagingrecord.StagingRecord, int64, error) {
	found := sortedRecords(r.s.records.Find(func(rec stagingrecord.StagingRecord) bool {
		switch {
		case rec.PackageID != params.PackageID:
			return false
		case params.EntityType != "" && rec.EntityType != params.EntityType:
			return false
		case params.Outcome != "" && rec.Outcome != params.Outcome:
			return false
		case params.Approved != nil && rec.Approved != *params.Approved:
			return false
		case params.CommitStatus != nil && rec.CommitStatus != *params.CommitStatus:
			return false
		}
		return true
	}))
	return page(found, params.Limit, params.Offset), int64(len(found)), nil
}

func (r *inmemStagingRepository) CountByPackage(_ context.Context, packageID uuid.UUID) (int, error) {
	return len(r.s.records.Find(func(rec stagingrecord.StagingRecord) bool { return rec.PackageID == packageID })), nil
}

func (r *inmemStagingRepository) DeleteByPackage(_ context.Context, packageID uuid.UUID) (int64, error) {
	return int64(r.s.records.DeleteWhere(func(rec stagingrecord.StagingRecord) bool { return rec.PackageID == packageID })), nil
}

func (r *inmemStagingRepository) PurgePayloads(_ context.Context, packageID uuid.UUID, at time.Time) (int64, error) {
	live := r.s.records.Find(func(rec stagingrecord.StagingRecord) bool {
		return rec.PackageID == packageID && rec.PurgedAt == nil
	})
	for _, rec := range live {
		rec.Payload = nil
		rec.PurgedAt = &at
		rec.UpdatedAt = at
		r.s.records.Put(rec.ID, rec)
	}
	return int64(len(live)), nil
}

func (r *inmemStagingRepository) SaveAttachments(_ context.Context, attachments []stagingrecord.StagedAttachment) error {
	for _, a := range attachments {
		key := attachmentKey{packageID: a.PackageID, hash: strings.ToLower(a.ContentHash)}
		if _, ok := r.s.attachments.Get(key); ok {
			continue
		}
		a.Data = slices.Clone(a.Data)
		r.s.attachments.Put(key, a)
	}
	return nil
}

func (r *inmemStagingRepository) GetAttachment(_ context.Context, packageID uuid.UUID, contentHash string) (stagingrecord.StagedAttachment, error) {
	a, ok := r.s.attachments.Get(attachmentKey{packageID: packageID, hash: strings.ToLower(contentHash)})
	if !ok {
		return stagingrecord.StagedAttachment{}, stagingrecord.ErrAttachmentNotFound
	}
	a.Data = slices.Clone(a.Data)
	return a, nil
}

func (r *inmemStagingRepository) AttachmentHashes(_ context.Context, packageID uuid.UUID) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, a := range r.s.attachments.Find(func(a stagingrecord.StagedAttachment) bool { return a.PackageID == packageID }) {
		out[strings.ToLower(a.ContentHash)] = struct{}{}
	}
	return out, nil
}

func (r *inmemStagingRepository) DeleteAttachments(_ context.Context, packageID uuid.UUID) (int64, error) {
	return int64(r.s.attachments.DeleteWhere(func(a stagingrecord.StagedAttachment) bool { return a.PackageID == packageID })), nil
}

type inmemConflictRepository struct{ s *InmemStore }

func conflictPair(c *conflict.Conflict) pairKey {
	k := pairKey{ctype: c.Type, first: c.First.ID, second: c.Second.ID}
	if c.ImportPackageID != nil {
		k.packageID = *c.ImportPackageID
	}
	return k
}

func (r *inmemConflictRepository) NextNumber(_ context.Context, at time.Time) (string, error) {
	return conflict.NumberFor(at, r.s.numbers.Next()), nil
}

func (r *inmemConflictRepository) Create(_ context.Context, c *conflict.Conflict) error {
	key := conflictPair(c)
	dup := r.s.conflicts.Find(func(x conflict.Conflict) bool { return conflictPair(&x) == key })
	if len(dup) > 0 {
		return conflict.ErrDuplicatePair
	}
	r.s.conflicts.Put(c.ID, *c)
	return nil
}

func (r *inmemConflictRepository) Update(_ context.Context, c *conflict.Conflict) error {
	if _, ok := r.s.conflicts.Get(c.ID); !ok {
		return conflict.ErrNotFound
	}
	r.s.conflicts.Put(c.ID, *c)
	return nil
}

func (r *inmemConflictRepository) GetByID(_ context.Context, id uuid.UUID) (*conflict.Conflict, error) {
	c, ok := r.s.conflicts.Get(id)
	if !ok {
		return nil, conflict.ErrNotFound
	}
	return &c, nil
}

func toConflictPtrs(found []conflict.Conflict) []*conflict.Conflict {
	out := make([]*conflict.Conflict, len(found))
	for i := range found {
		out[i] = &found[i]
	}
	return out
}

func (r *inmemConflictRepository) ListByPackage(_ context.Context, packageID uuid.UUID) ([]*conflict.Conflict, error) {
	return toConflictPtrs(r.s.conflicts.Find(func(c conflict.Conflict) bool {
		return c.ImportPackageID != nil && *c.ImportPackageID == packageID
	})), nil
}

func (r *inmemConflictRepository) CountPending(_ context.Context, packageID uuid.UUID) (int, error) {
	return len(r.s.conflicts.Find(func(c conflict.Conflict) bool {
		return c.ImportPackageID != nil && *c.ImportPackageID == packageID && c.IsPending()
	})), nil
}

func matchConflict(params *conflict.FindParams, now time.Time) func(conflict.Conflict) bool {
	return func(c conflict.Conflict) bool {
		switch {
		case params.PackageID != nil && (c.ImportPackageID == nil || *c.ImportPackageID != *params.PackageID):
			return false
		case params.EntityType != "" && c.EntityType != strings.TrimSpace(params.EntityType):
			return false
		case params.Type != "" && c.Type != params.Type:
			return false
		case params.Status != "" && c.Status != params.Status:
			return false
		case params.Priority != "" && c.Priority != params.Priority:
			return false
		case params.AssignedTo != nil && (c.AssignedTo == nil || *c.AssignedTo != *params.AssignedTo):
			return false
		case params.Escalated != nil && c.IsEscalated != *params.Escalated:
			return false
		case params.Overdue != nil && c.CheckIfOverdue(now) != *params.Overdue:
			return false
		}
		return true
	}
}

func (r *inmemConflictRepository) GetPaginated(_ context.Context, params *conflict.FindParams) ([]*conflict.Conflict, int64, error) {
	if params == nil {
		params = &conflict.FindParams{}
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	found := r.s.conflicts.Find(matchConflict(params, now))
	less := func(a, b conflict.Conflict) bool {
		switch params.SortBy {
		case conflict.SortScore:
			return a.SimilarityScore < b.SimilarityScore
		case conflict.SortPriority:
			return a.Priority == conflict.PriorityNormal && b.Priority == conflict.PriorityHigh
		case conflict.SortNumber:
			return a.Number < b.Number
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if params.SortDesc {
			return less(found[j], found[i])
		}
		return less(found[i], found[j])
	})
	limit, offset := 0, 0
	if params.PageSize > 0 {
		limit = params.PageSize
		if params.Page > 1 {
			offset = (params.Page - 1) * params.PageSize
		}
	}
	return toConflictPtrs(page(found, limit, offset)), int64(len(found)), nil
}

func (r *inmemConflictRepository) Summary(_ context.Context, params *conflict.FindParams) (conflict.Summary, error) {
	if params == nil {
		params = &conflict.FindParams{}
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	out := conflict.NewSummary()
	for _, c := range r.s.conflicts.Find(matchConflict(params, now)) {
		out.Add(c.Type, c.Status, c.Priority, c.IsEscalated, c.IsAutoResolved, c.CheckIfOverdue(now), 1)
	}
	return out, nil
}

func (r *inmemConflictRepository) SweepOverdue(_ context.Context, now time.Time) (int64, error) {
	var changed int64
	for _, c := range r.s.conflicts.Find(nil) {
		if c.RefreshOverdue(now) {
			r.s.conflicts.Put(c.ID, c)
			changed++
		}
	}
	return changed, nil
}
