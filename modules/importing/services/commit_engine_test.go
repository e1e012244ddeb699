package services

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
)

func ownershipPackage(t *testing.T, externalID string) []byte {
	return buildPackage(t, externalID, []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		unitEntity(t, "u-1", "A-12"),
		entity(t, "relation", "r-1", map[string]any{
			"person_ref": "p-1", "property_unit_ref": "u-1", "relation_type": "owner", "share": 100,
		}),
	})
}

func TestCommitEngine_FatalErrorRollsBack(t *testing.T) {
	h := newHarness(t)
	pkg, _ := h.prepare(t, ownershipPackage(t, "PKG-ROLLBACK"))
	unit := h.record(t, pkg.ID(), stagingrecord.EntityPropertyUnit, "u-1")
	rel := h.record(t, pkg.ID(), stagingrecord.EntityRelation, "r-1")

	_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{RecordIDs: []uuid.UUID{unit.ID, rel.ID}})
	require.NoError(t, err)
	_, err = h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	requireServiceError(t, err, http.StatusUnprocessableEntity, CodeCommitAborted)
	require.Contains(t, err.Error(), `relation "r-1"`)

	failed, err := h.packages.GetPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusFailed, failed.Status())
	require.Equal(t, importpackage.StageCommit, failed.FailureStage())
	_, err = h.registry.PropertyUnits.GetByID(h.ctx, EntityIDFor(pkg.ID(), unit.ID))
	require.ErrorIs(t, err, propertyunit.ErrNotFound)
	require.Equal(t, stagingrecord.CommitPending, h.record(t, pkg.ID(), stagingrecord.EntityPropertyUnit, "u-1").CommitStatus)
	require.Contains(t, h.audit.actions(), "import.package.commit_failed")

	reset, err := h.packages.ResetFailedCommit(h.ctx, h.actor, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusReadyToCommit, reset.Status())
	require.Empty(t, reset.FailureStage())

	owner := h.record(t, pkg.ID(), stagingrecord.EntityPerson, "p-1")
	_, err = h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{RecordIDs: []uuid.UUID{owner.ID}})
	require.NoError(t, err)
	report, err := h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusCompleted, report.Status)
	require.Equal(t, EntityCounts{Committed: 3}, report.Totals)

	committed, err := h.registry.PropertyUnits.GetByID(h.ctx, EntityIDFor(pkg.ID(), unit.ID))
	require.NoError(t, err)
	require.Equal(t, "A12", committed.Details().UnitIdentifier)
	require.Equal(t, pkg.ID(), committed.SourcePackageID())
}

func TestCommitEngine_FailedParentAbortsCommit(t *testing.T) {
	h := newHarness(t)
	dob := time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := h.registry.Persons.Create(h.ctx, personAggregate(uuid.New(), "12345678901", "Omar", "Khalil", &dob))
	require.NoError(t, err)

	pkg, res := h.prepare(t, ownershipPackage(t, "PKG-PARENT-FAILS"))
	require.Equal(t, 1, res.Pending)
	conflicts, err := h.deps.Conflicts.ListByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	_, err = h.conflicts.Resolve(h.ctx, h.actor, conflicts[0].ID, ResolveParams{Action: conflict.ActionKeepBoth})
	require.NoError(t, err)
	_, err = h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
	require.NoError(t, err)

	_, err = h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	requireServiceError(t, err, http.StatusUnprocessableEntity, CodeCommitAborted)
	require.Contains(t, err.Error(), `relation "r-1"`)
	require.Contains(t, err.Error(), `person "p-1"`)

	failed, err := h.packages.GetPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusFailed, failed.Status())
	require.Equal(t, importpackage.StageCommit, failed.FailureStage())

	unit := h.record(t, pkg.ID(), stagingrecord.EntityPropertyUnit, "u-1")
	require.Equal(t, stagingrecord.CommitPending, unit.CommitStatus)
	_, err = h.registry.PropertyUnits.GetByID(h.ctx, EntityIDFor(pkg.ID(), unit.ID))
	require.ErrorIs(t, err, propertyunit.ErrNotFound)
	require.Equal(t, stagingrecord.CommitPending, h.record(t, pkg.ID(), stagingrecord.EntityRelation, "r-1").CommitStatus)
}

func TestCommitEngine_ApprovedSubsetCompletes(t *testing.T) {
	h := newHarness(t)
	pkg, _ := h.prepare(t, buildPackage(t, "PKG-SUBSET", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		personEntity(t, "p-2", "12345678902", "Layla", "Nasser"),
	}))
	first := h.record(t, pkg.ID(), stagingrecord.EntityPerson, "p-1")

	_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{RecordIDs: []uuid.UUID{first.ID}})
	require.NoError(t, err)
	report, err := h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusCompleted, report.Status)
	require.Equal(t, EntityCounts{Committed: 1, Skipped: 1}, report.Totals)
	require.Equal(t, skipNotApproved, report.Skipped[0].Reason)
}

func TestCommitEngine_ResetNeedsFailedCommit(t *testing.T) {
	h := newHarness(t)
	pkg, _ := h.prepare(t, ownershipPackage(t, "PKG-NO-RESET"))

	_, err := h.packages.ResetFailedCommit(h.ctx, h.actor, pkg.ID())
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)

	malformed, err := h.packages.Upload(h.ctx, h.actor, []byte("not a package"))
	require.Error(t, err)
	_, err = h.packages.ResetFailedCommit(h.ctx, h.actor, malformed.ID())
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)
}

func TestCommitEngine_RejectsConcurrentCommit(t *testing.T) {
	h := newHarness(t)
	pkg, _ := h.prepare(t, ownershipPackage(t, "PKG-BUSY"))
	_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
	require.NoError(t, err)

	h.engine.inflight.Store(pkg.ID(), struct{}{})
	_, err = h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	requireServiceError(t, err, http.StatusConflict, CodeCommitInProgress)

	h.engine.inflight.Delete(pkg.ID())
	report, err := h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusCompleted, report.Status)
}

func TestCommitEngine_NothingApproved(t *testing.T) {
	h := newHarness(t)
	pkg, _ := h.prepare(t, ownershipPackage(t, "PKG-EMPTY"))
	require.Equal(t, importpackage.StatusReadyToCommit, pkg.Status())

	_, err := h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	requireServiceError(t, err, http.StatusConflict, CodeNothingApproved)
	_, err = h.packages.Commit(h.ctx, Actor{}, pkg.ID(), CommitParams{})
	requireServiceError(t, err, http.StatusUnauthorized, CodeUnauthenticated)
}

func TestCommitEngine_DeduplicatesAttachmentsAcrossPackages(t *testing.T) {
	h := newHarness(t)
	deed := packagecodec.Attachment{FileName: "deed.pdf", Data: []byte("%PDF-1.4 shared deed")}
	hash := packagecodec.HashBytes(deed.Data)
	for i, external := range []string{"PKG-DEED-1", "PKG-DEED-2"} {
		nid := []string{"12345678901", "12345678902"}[i]
		pkg, res := h.prepare(t, buildPackage(t, external, []packagecodec.Entity{
			personEntity(t, "p-1", nid, "Omar", "Khalil"),
			entity(t, "evidence", "e-1", map[string]any{
				"evidence_type": "identity_document", "attachment_hash": hash, "person_ref": "p-1", "file_name": "id.pdf",
			}),
		}, deed))
		require.Zero(t, res.Pending)
		_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
		require.NoError(t, err)
		report, err := h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
		require.NoError(t, err)
		require.Equal(t, importpackage.StatusCompleted, report.Status)
	}

	n, err := h.registry.Evidence.CountByContentHash(h.ctx, hash)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	exists, err := h.attachments.Exists(h.ctx, hash)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestBuildCommitReport(t *testing.T) {
	pkgID := uuid.New()
	pkg := importpackage.New(pkgID, importpackage.Source{ExternalID: "PKG-REPORT"}, uuid.New(), testNow)

	person := stagingrecord.New(pkgID, 2, stagingrecord.EntityPerson, "p-1", nil)
	person.MarkCommitted(EntityIDFor(pkgID, person.ID))
	unit := stagingrecord.New(pkgID, 1, stagingrecord.EntityPropertyUnit, "u-1", nil)
	unit.MarkFailed("unique constraint violated")
	dup := stagingrecord.New(pkgID, 3, stagingrecord.EntityPerson, "p-2", nil)
	dup.MarkSkipped(skipDiscarded)
	waiting := stagingrecord.New(pkgID, 4, stagingrecord.EntityClaim, "c-1", nil)

	report := BuildCommitReport(pkg, []*stagingrecord.StagingRecord{dup, waiting, unit, person})
	require.Equal(t, EntityCounts{Committed: 1, Skipped: 1, Failed: 1}, report.Totals)
	require.Equal(t, EntityCounts{Committed: 1, Skipped: 1}, report.ByEntityType[stagingrecord.EntityPerson])
	require.Len(t, report.Mappings, 1)
	require.Equal(t, "p-1", report.Mappings[0].LocalID)
	require.Len(t, report.Failures, 1)
	require.Equal(t, "unique constraint violated", report.Failures[0].Reason)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, "PKG-REPORT", report.ExternalID)
}

func TestEntityIDFor_IsStable(t *testing.T) {
	pkgID, recID := uuid.New(), uuid.New()
	require.Equal(t, EntityIDFor(pkgID, recID), EntityIDFor(pkgID, recID))
	require.NotEqual(t, EntityIDFor(pkgID, recID), EntityIDFor(uuid.New(), recID))
}
