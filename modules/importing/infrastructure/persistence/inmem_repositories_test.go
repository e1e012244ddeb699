package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

func TestInmemPackages_DuplicateExternalID(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemStore(inmem.NewDB()).Packages()

	first := importpackage.New(uuid.New(), importpackage.Source{ExternalID: "pkg-1"}, uuid.New(), time.Now())
	require.NoError(t, repo.Create(ctx, first))
	second := importpackage.New(uuid.New(), importpackage.Source{ExternalID: "pkg-1"}, uuid.New(), time.Now())
	require.ErrorIs(t, repo.Create(ctx, second), importpackage.ErrDuplicateExternal)

	got, err := repo.GetByExternalID(ctx, "pkg-1")
	require.NoError(t, err)
	require.Equal(t, first.ID(), got.ID())
}

func TestInmemPackages_GetPaginated(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemStore(inmem.NewDB()).Packages()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, device := range []string{"tablet-1", "tablet-2", "tablet-1"} {
		p := importpackage.New(uuid.New(), importpackage.Source{ExternalID: uuid.NewString(), DeviceID: device}, uuid.New(), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repo.Create(ctx, p))
	}

	items, total, err := repo.GetPaginated(ctx, &importpackage.FindParams{DeviceID: "tablet-1", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, items, 1)
	require.Equal(t, base.Add(2*time.Hour), items[0].UploadedAt())
}

func TestInmemPackages_ListRetentionExpired(t *testing.T) {
	ctx := context.Background()
	store := NewInmemStore(inmem.NewDB())
	old := time.Now().Add(-48 * time.Hour)

	p := importpackage.New(uuid.New(), importpackage.Source{ExternalID: "pkg-1"}, uuid.New(), old)
	p, err := p.TransitionTo(importpackage.StatusCancelled, "", old)
	require.NoError(t, err)
	require.NoError(t, store.Packages().Create(ctx, p))
	_, err = store.Staging().InsertBatch(ctx, []*stagingrecord.StagingRecord{
		stagingrecord.New(p.ID(), 0, stagingrecord.EntityPerson, "p-1", []byte(`{}`)),
	})
	require.NoError(t, err)

	expired, err := store.Packages().ListRetentionExpired(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)

	_, err = store.Staging().PurgePayloads(ctx, p.ID(), time.Now())
	require.NoError(t, err)
	expired, err = store.Packages().ListRetentionExpired(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestInmemStaging_InsertBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemStore(inmem.NewDB()).Staging()
	pkg := uuid.New()
	batch := []*stagingrecord.StagingRecord{
		stagingrecord.New(pkg, 1, stagingrecord.EntityPerson, "p-2", []byte(`{}`)),
		stagingrecord.New(pkg, 0, stagingrecord.EntityPerson, "p-1", []byte(`{}`)),
	}
	n, err := repo.InsertBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = repo.InsertBatch(ctx, batch)
	require.NoError(t, err)
	require.Zero(t, n)

	records, err := repo.ListByPackage(ctx, pkg)
	require.NoError(t, err)
	require.Equal(t, "p-1", records[0].LocalID)
	require.Equal(t, "p-2", records[1].LocalID)
}

func TestInmemStaging_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemStore(inmem.NewDB()).Staging()
	rec := stagingrecord.New(uuid.New(), 0, stagingrecord.EntityPerson, "p-1", []byte(`{"a":1}`))
	_, err := repo.InsertBatch(ctx, []*stagingrecord.StagingRecord{rec})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	got.Payload[2] = 'b'
	got.Messages = append(got.Messages, stagingrecord.Message{Code: "x"})

	again, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(again.Payload))
	require.Empty(t, again.Messages)
}

func TestInmemStaging_Attachments(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemStore(inmem.NewDB()).Staging()
	pkg := uuid.New()
	require.NoError(t, repo.SaveAttachments(ctx, []stagingrecord.StagedAttachment{
		{PackageID: pkg, ContentHash: "ABC", FileName: "deed.pdf", Data: []byte("pdf")},
	}))

	got, err := repo.GetAttachment(ctx, pkg, "abc")
	require.NoError(t, err)
	require.Equal(t, "deed.pdf", got.FileName)

	hashes, err := repo.AttachmentHashes(ctx, pkg)
	require.NoError(t, err)
	require.Contains(t, hashes, "abc")

	n, err := repo.DeleteAttachments(ctx, pkg)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = repo.GetAttachment(ctx, pkg, "abc")
	require.ErrorIs(t, err, stagingrecord.ErrAttachmentNotFound)
}

func TestInmemConflicts_PairIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemStore(inmem.NewDB()).Conflicts()
	c := newPendingConflict(uuid.New())
	require.NoError(t, repo.Create(ctx, c))

	dup := *c
	dup.ID = uuid.New()
	require.ErrorIs(t, repo.Create(ctx, &dup), conflict.ErrDuplicatePair)
}

func TestInmemConflicts_OverdueFilterAndSweep(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemStore(inmem.NewDB()).Conflicts()
	pkg := uuid.New()
	c := newPendingConflict(pkg)
	require.NoError(t, repo.Create(ctx, c))

	now := c.CreatedAt.Add(25 * time.Hour)
	overdue := true
	items, total, err := repo.GetPaginated(ctx, &conflict.FindParams{Overdue: &overdue, Now: now})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, items, 1)

	summary, err := repo.Summary(ctx, &conflict.FindParams{PackageID: &pkg, Now: now})
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Overdue)

	changed, err := repo.SweepOverdue(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), changed)
	changed, err = repo.SweepOverdue(ctx, now)
	require.NoError(t, err)
	require.Zero(t, changed)

	stored, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, stored.IsOverdue)
}

func TestInmemConflicts_NumbersRollBackWithTx(t *testing.T) {
	db := inmem.NewDB()
	repo := NewInmemStore(db).Conflicts()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	err := db.InTx(context.Background(), func(ctx context.Context) error {
		_, err := repo.NextNumber(ctx, at)
		require.NoError(t, err)
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	n, err := repo.NextNumber(context.Background(), at)
	require.NoError(t, err)
	require.Equal(t, "CNF-2026-000001", n)
}
