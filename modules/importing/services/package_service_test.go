package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
	"github.com/iota-uz/field-registry/pkg/configuration"
)

func TestPackageService_UploadStagesPackage(t *testing.T) {
	h := newHarness(t)
	deed := packagecodec.Attachment{FileName: "deed.pdf", Data: []byte("%PDF-1.4 title deed")}
	raw := buildPackage(t, "PKG-UPLOAD", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		personEntity(t, "p-2", "12345678902", "Layla", "Nasser"),
		unitEntity(t, "u-1", "A-12"),
	}, deed)

	pkg := h.upload(t, raw)
	require.Equal(t, "PKG-UPLOAD", pkg.ExternalID())
	require.Equal(t, "tablet-07", pkg.Source().DeviceID)
	require.Equal(t, 3, pkg.Counts().Staged)
	require.NotEmpty(t, pkg.RawLocation())

	summary, err := h.packages.GetStagingSummary(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, 2, summary.ByEntityType[stagingrecord.EntityPerson].Total)
	require.Equal(t, 1, summary.ByEntityType[stagingrecord.EntityPropertyUnit].Total)
	require.Equal(t, 1, summary.Attachments)

	rec := h.record(t, pkg.ID(), stagingrecord.EntityPerson, "p-2")
	require.Equal(t, 2, rec.Seq)
	require.Empty(t, rec.Outcome)

	att, err := h.deps.Staging.GetAttachment(h.ctx, pkg.ID(), packagecodec.HashBytes(deed.Data))
	require.NoError(t, err)
	require.Equal(t, "application/pdf", att.MimeType)
	require.Equal(t, []string{"import.package.upload", "import.package.stage"}, h.audit.actions())
}

func TestPackageService_UploadRejectsKnownPackage(t *testing.T) {
	h := newHarness(t)
	raw := buildPackage(t, "PKG-TWICE", []packagecodec.Entity{personEntity(t, "p-1", "12345678901", "Omar", "Khalil")})
	h.upload(t, raw)

	_, err := h.packages.Upload(h.ctx, h.actor, raw)
	requireServiceError(t, err, http.StatusConflict, CodeDuplicatePackage)
}

func TestPackageService_UploadMalformedPackageFails(t *testing.T) {
	h := newHarness(t)
	pkg, err := h.packages.Upload(h.ctx, h.actor, []byte(`{"manifest": {"package_id": `))
	requireServiceError(t, err, http.StatusUnprocessableEntity, CodeMalformedManifest)
	require.Equal(t, importpackage.StatusFailed, pkg.Status())
	require.Equal(t, importpackage.StageUpload, pkg.FailureStage())

	stored, err := h.packages.GetPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusFailed, stored.Status())
	raw, err := h.blobs.ReadIncoming(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestPackageService_UploadQuarantinesTamperedPackage(t *testing.T) {
	h := newHarness(t)
	env := &packagecodec.Envelope{
		Manifest: packagecodec.Manifest{PackageID: "PKG-TAMPERED", DeviceID: "tablet-07"},
		Entities: []packagecodec.Entity{personEntity(t, "p-1", "12345678901", "Omar", "Khalil")},
	}
	require.NoError(t, packagecodec.Seal(env))
	env.Entities[0] = personEntity(t, "p-1", "99999999999", "Omar", "Khalil")
	raw, err := packagecodec.Encode(env, packagecodec.FormatCBOR)
	require.NoError(t, err)

	pkg, err := h.packages.Upload(h.ctx, h.actor, raw)
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusQuarantined, pkg.Status())
	require.Contains(t, pkg.StatusReason(), "content hash")

	n, err := h.deps.Staging.CountByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = h.packages.Stage(h.ctx, h.actor, pkg.ID())
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)
	_, err = h.packages.Cancel(h.ctx, h.actor, pkg.ID(), "", false)
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)
}

func TestPackageService_UploadLimitsAndActor(t *testing.T) {
	h := newHarness(t, func(o *configuration.ImportOptions) { o.MaxPackageBytes = 16 })
	raw := buildPackage(t, "PKG-BIG", []packagecodec.Entity{personEntity(t, "p-1", "12345678901", "Omar", "Khalil")})

	_, err := h.packages.Upload(h.ctx, h.actor, raw)
	requireServiceError(t, err, http.StatusRequestEntityTooLarge, CodePackageTooLarge)
	_, err = h.packages.Upload(h.ctx, Actor{}, raw)
	requireServiceError(t, err, http.StatusUnauthorized, CodeUnauthenticated)
}

func TestPackageService_StageResumesAfterInterruption(t *testing.T) {
	h := newHarness(t)
	raw := buildPackage(t, "PKG-RESUME", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		personEntity(t, "p-2", "12345678902", "Layla", "Nasser"),
		personEntity(t, "p-3", "12345678903", "Rami", "Saleh"),
		unitEntity(t, "u-1", "A-12"),
	})
	env, err := packagecodec.Decode(raw)
	require.NoError(t, err)
	pkg, err := h.packages.register(h.ctx, importpackage.New(uuid.New(), importpackage.Source{ExternalID: "PKG-RESUME"}, h.actor.UserID, testNow), raw)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(h.ctx)
	cancel()
	_, err = h.packages.stage(cancelled, h.actor, pkg.ID(), env)
	requireServiceError(t, err, http.StatusServiceUnavailable, CodeStageInterrupted)

	pkg, err = h.packages.GetPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusStaging, pkg.Status())

	pkg, err = h.packages.Stage(h.ctx, h.actor, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, 4, pkg.Counts().Staged)

	pkg, err = h.packages.Stage(h.ctx, h.actor, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, 4, pkg.Counts().Staged)
}

func TestPackageService_CommitBeforeValidationIsRejected(t *testing.T) {
	h := newHarness(t)
	pkg := h.upload(t, buildPackage(t, "PKG-EARLY", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
	}))

	_, err := h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)
	_, err = h.packages.DetectDuplicates(h.ctx, h.actor, pkg.ID())
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)

	stored, err := h.packages.GetPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusStaging, stored.Status())
}

func TestPackageService_ValidateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	noDOB := entity(t, "person", "p-2", map[string]any{"first_name": "Layla", "last_name": "Nasser"})
	badUnit := entity(t, "property_unit", "u-2", map[string]any{
		"building_code": "123", "unit_identifier": "B-1", "unit_type": "castle", "area_sqm": -4,
	})
	orphan := entity(t, "relation", "r-1", map[string]any{
		"person_ref": "p-404", "property_unit_ref": "u-1", "relation_type": "tenant",
	})
	pkg := h.upload(t, buildPackage(t, "PKG-VALIDATE", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"), noDOB,
		unitEntity(t, "u-1", "A-12"), badUnit, orphan,
	}))

	first, err := h.packages.Validate(h.ctx, h.actor, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusValidating, first.Status())
	require.Equal(t, importpackage.Counts{Staged: 5, Valid: 2, Warning: 1, Invalid: 2}, first.Counts())
	before, err := h.deps.Staging.ListByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)

	second, err := h.packages.Validate(h.ctx, h.actor, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, first.Counts(), second.Counts())
	after, err := h.deps.Staging.ListByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		require.Equal(t, before[i].Outcome, after[i].Outcome, before[i].LocalID)
		require.Equal(t, before[i].Messages, after[i].Messages, before[i].LocalID)
	}

	warned := h.record(t, pkg.ID(), stagingrecord.EntityPerson, "p-2")
	require.Equal(t, stagingrecord.OutcomeWarning, warned.Outcome)
	codes := make([]string, 0, len(warned.Messages))
	for _, m := range warned.Messages {
		codes = append(codes, m.Code)
	}
	require.ElementsMatch(t, []string{MsgMissingNationalID, MsgMissingDateOfBirth}, codes)

	rel := h.record(t, pkg.ID(), stagingrecord.EntityRelation, "r-1")
	require.Equal(t, stagingrecord.OutcomeInvalid, rel.Outcome)
	require.Equal(t, MsgUnknownReference, rel.Messages[0].Code)
}

func TestPackageService_DetectsNationalIDMatchAgainstProduction(t *testing.T) {
	h := newHarness(t)
	dob := time.Date(1975, 2, 3, 0, 0, 0, 0, time.UTC)
	prod, err := h.registry.Persons.Create(h.ctx, personAggregate(uuid.New(), "12345678901", "Omar", "Khalil", &dob))
	require.NoError(t, err)

	pkg, res := h.prepare(t, buildPackage(t, "PKG-PROD-MATCH", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Umar", "Chalil"),
		personEntity(t, "p-2", "12345678902", "Layla", "Nasser"),
	}))
	require.Equal(t, 1, res.ConflictsCreated)
	require.Equal(t, 1, res.Pending)
	require.Equal(t, importpackage.StatusReviewingConflicts, pkg.Status())

	pkgID := pkg.ID()
	items, total, err := h.conflicts.GetConflictQueue(h.ctx, &conflict.FindParams{PackageID: &pkgID})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	c := items[0]
	require.Equal(t, conflict.TypePersonDuplicate, c.Type)
	require.InDelta(t, 1.0, c.SimilarityScore, 1e-9)
	require.Equal(t, conflict.ConfidenceHigh, c.ConfidenceLevel)
	require.Equal(t, conflict.PriorityHigh, c.Priority)
	require.Equal(t, prod.ID(), c.First.ID)
	require.Equal(t, conflict.RefProduction, c.First.Kind)
	require.Equal(t, stagingrecord.IDFor(pkgID, stagingrecord.EntityPerson, "p-1"), c.Second.ID)
	require.Contains(t, string(c.MatchingCriteria), ruleNationalID)
	require.Contains(t, string(c.DataComparison), "diff")

	again, err := h.packages.DetectDuplicates(h.ctx, h.actor, pkgID)
	require.NoError(t, err)
	require.Zero(t, again.ConflictsCreated)
	require.Equal(t, 1, again.Pending)
}

func TestPackageService_PendingConflictBlocksApproveAndCommit(t *testing.T) {
	h := newHarness(t)
	pkg, res := h.prepare(t, buildPackage(t, "PKG-PENDING", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Ahmad", "Haddad"),
		personEntity(t, "p-2", "12345678901", "Ahmed", "Haddad"),
	}))
	require.Equal(t, 1, res.Pending)

	_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
	requireServiceError(t, err, http.StatusConflict, CodePendingConflicts)
	_, err = h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)

	summary, err := h.packages.GetStagingSummary(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, 1, summary.PendingConflicts)
	require.Zero(t, summary.ByEntityType[stagingrecord.EntityPerson].Approved)
}

func TestPackageService_CommitPersistsApprovedRecords(t *testing.T) {
	h := newHarness(t)
	commits := h.captureCommits()
	deed := packagecodec.Attachment{FileName: "deed.pdf", Data: []byte("%PDF-1.4 title deed")}
	hash := packagecodec.HashBytes(deed.Data)
	pkg, res := h.prepare(t, buildPackage(t, "PKG-COMMIT", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		personEntity(t, "p-2", "12345678902", "Layla", "Nasser"),
		unitEntity(t, "u-1", "A-12"),
		entity(t, "relation", "r-1", map[string]any{
			"person_ref": "p-1", "property_unit_ref": "u-1", "relation_type": "owner", "share": "100", "started_at": "2010-01-01",
		}),
		entity(t, "claim", "c-1", map[string]any{
			"claimant_ref": "p-1", "property_unit_ref": "u-1", "claim_type": "ownership", "share": 100, "claimed_at": "2025-12-01",
		}),
		entity(t, "evidence", "e-1", map[string]any{"evidence_type": "title_deed", "attachment_hash": hash, "claim_ref": "c-1"}),
		entity(t, "evidence", "e-2", map[string]any{"evidence_type": "title_deed", "attachment_hash": hash, "person_ref": "p-2"}),
	}, deed))
	require.Zero(t, res.ConflictsCreated)
	require.Equal(t, importpackage.StatusReadyToCommit, pkg.Status())

	pkg, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
	require.NoError(t, err)
	require.Equal(t, 7, pkg.Counts().Approved)

	report, err := h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusCompleted, report.Status)
	require.Equal(t, EntityCounts{Committed: 7}, report.Totals)
	require.Equal(t, 2, report.ByEntityType[stagingrecord.EntityEvidence].Committed)
	require.Len(t, report.Mappings, 7)
	require.NotEmpty(t, report.Archive)

	records, err := h.deps.Staging.ListByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	for _, r := range records {
		require.Equal(t, stagingrecord.CommitCommitted, r.CommitStatus, r.LocalID)
		require.NotNil(t, r.CommittedEntityID, r.LocalID)
		require.Equal(t, EntityIDFor(pkg.ID(), r.ID), *r.CommittedEntityID, r.LocalID)
	}

	unitID := *h.record(t, pkg.ID(), stagingrecord.EntityPropertyUnit, "u-1").CommittedEntityID
	ownerID := *h.record(t, pkg.ID(), stagingrecord.EntityPerson, "p-1").CommittedEntityID
	claims, err := h.registry.Claims.ListByPropertyUnit(h.ctx, unitID)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, ownerID, claims[0].ClaimantID)
	require.Regexp(t, `^CLM-2026-[0-9A-F]{8}$`, claims[0].ReferenceCode)
	relations, err := h.registry.Relations.ListByPropertyUnit(h.ctx, unitID)
	require.NoError(t, err)
	require.Len(t, relations, 1)

	n, err := h.registry.Evidence.CountByContentHash(h.ctx, hash)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	stored, err := h.attachments.Read(h.ctx, hash)
	require.NoError(t, err)
	require.Equal(t, deed.Data, stored)

	final, err := h.packages.GetPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusCompleted, final.Status())
	require.NotNil(t, final.CommittedAt())
	require.NotEmpty(t, final.ArchiveLocation())

	require.Len(t, *commits, 1)
	require.Equal(t, 2, (*commits)[0].Committed["evidence"])
	require.Contains(t, h.audit.actions(), "import.package.commit")

	_, err = h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)
}

func TestPackageService_KeepFirstWithinBatchSkipsDiscarded(t *testing.T) {
	h := newHarness(t)
	pkg, res := h.prepare(t, buildPackage(t, "PKG-KEEP-FIRST", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Ahmad", "Haddad"),
		personEntity(t, "p-2", "12345678901", "Ahmed", "Haddad"),
		personEntity(t, "p-3", "12345678903", "Layla", "Nasser"),
	}))
	require.Equal(t, 1, res.ConflictsCreated)

	pkgID := pkg.ID()
	items, _, err := h.conflicts.GetConflictQueue(h.ctx, &conflict.FindParams{PackageID: &pkgID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, conflict.TypePersonDuplicateWithinBatch, items[0].Type)
	require.Equal(t, stagingrecord.IDFor(pkgID, stagingrecord.EntityPerson, "p-1"), items[0].First.ID)
	require.InDelta(t, 1.0, items[0].SimilarityScore, 1e-9)
	require.Equal(t, conflict.ConfidenceHigh, items[0].ConfidenceLevel)

	_, err = h.conflicts.Resolve(h.ctx, h.actor, items[0].ID, ResolveParams{Action: conflict.ActionKeepFirst, Reason: "same person"})
	require.NoError(t, err)
	discarded := h.record(t, pkgID, stagingrecord.EntityPerson, "p-2")
	require.True(t, discarded.IsDiscarded())
	require.Equal(t, stagingrecord.IDFor(pkgID, stagingrecord.EntityPerson, "p-1"), *discarded.SurvivorRecordID)

	_, err = h.packages.ApproveForCommit(h.ctx, h.actor, pkgID, ApproveParams{AllValid: true})
	require.NoError(t, err)
	report, err := h.packages.Commit(h.ctx, h.actor, pkgID, CommitParams{})
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusPartiallyCompleted, report.Status)
	require.Equal(t, EntityCounts{Committed: 2, Skipped: 1}, report.Totals)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, "p-2", report.Skipped[0].LocalID)
	require.Equal(t, skipDiscarded, report.Skipped[0].Reason)
}

func TestPackageService_InvalidRecordIsSkipped(t *testing.T) {
	h := newHarness(t)
	invalid := entity(t, "person", "p-3", map[string]any{
		"first_name": "Rami", "last_name": "Saleh", "gender": "unknown", "date_of_birth": "1990-01-01",
	})
	pkg, res := h.prepare(t, buildPackage(t, "PKG-INVALID", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		personEntity(t, "p-2", "12345678902", "Layla", "Nasser"),
		invalid,
	}))
	require.Zero(t, res.ConflictsCreated)
	require.Equal(t, 1, pkg.Counts().Invalid)

	_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
	require.NoError(t, err)
	report, err := h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusPartiallyCompleted, report.Status)
	require.Equal(t, EntityCounts{Committed: 2, Skipped: 1}, report.Totals)
	require.Equal(t, skipInvalid, report.Skipped[0].Reason)
}

func TestPackageService_BlockPolicyNeedsAcknowledgement(t *testing.T) {
	h := newHarness(t, func(o *configuration.ImportOptions) { o.InvalidRecordPolicy = configuration.InvalidRecordPolicyBlock })
	pkg, _ := h.prepare(t, buildPackage(t, "PKG-BLOCK", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		entity(t, "person", "p-2", map[string]any{"first_name": "Rami", "last_name": "Saleh", "date_of_birth": "2099-01-01"}),
	}))

	_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
	requireServiceError(t, err, http.StatusConflict, CodeInvalidRecords)

	pkg, err = h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true, AcknowledgeInvalid: true})
	require.NoError(t, err)
	require.True(t, pkg.InvalidAcknowledged())
	require.Equal(t, 1, pkg.Counts().Approved)
}

func TestPackageService_ApproveValidatesSelection(t *testing.T) {
	h := newHarness(t)
	pkg, _ := h.prepare(t, buildPackage(t, "PKG-SELECT", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		entity(t, "person", "p-2", map[string]any{"first_name": "Rami"}),
	}))

	_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{})
	requireServiceError(t, err, http.StatusBadRequest, CodeInvalidRequest)

	invalidID := stagingrecord.IDFor(pkg.ID(), stagingrecord.EntityPerson, "p-2")
	_, err = h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{RecordIDs: []uuid.UUID{invalidID}})
	requireServiceError(t, err, http.StatusUnprocessableEntity, CodeRecordNotEligible)
	_, err = h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{RecordIDs: []uuid.UUID{uuid.New()}})
	requireServiceError(t, err, http.StatusUnprocessableEntity, CodeRecordNotEligible)

	validID := stagingrecord.IDFor(pkg.ID(), stagingrecord.EntityPerson, "p-1")
	pkg, err = h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{RecordIDs: []uuid.UUID{validID}})
	require.NoError(t, err)
	require.Equal(t, 1, pkg.Counts().Approved)
}

func TestPackageService_ApproveNeedsAnEligibleRecord(t *testing.T) {
	h := newHarness(t)
	pkg, _ := h.prepare(t, buildPackage(t, "PKG-NONE-ELIGIBLE", []packagecodec.Entity{
		entity(t, "person", "p-1", map[string]any{"first_name": "Rami"}),
	}))

	_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
	requireServiceError(t, err, http.StatusConflict, CodeNothingApproved)
	unchanged, err := h.packages.GetPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, pkg.Status(), unchanged.Status())
	require.Zero(t, unchanged.Counts().Approved)
}

func TestPackageService_CancelWithCleanup(t *testing.T) {
	h := newHarness(t)
	pkg, res := h.prepare(t, buildPackage(t, "PKG-CANCEL", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Ahmad", "Haddad"),
		personEntity(t, "p-2", "12345678901", "Ahmed", "Haddad"),
	}))
	require.Equal(t, importpackage.StatusReviewingConflicts, pkg.Status())
	require.Equal(t, 1, res.Pending)

	pkg, err := h.packages.Cancel(h.ctx, h.actor, pkg.ID(), "collector re-surveys the building", true)
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusCancelled, pkg.Status())
	require.NotNil(t, pkg.CancelledAt())
	require.Equal(t, importpackage.Counts{}, pkg.Counts())

	n, err := h.deps.Staging.CountByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Zero(t, n)
	pending, err := h.deps.Conflicts.CountPending(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Zero(t, pending)
	conflicts, err := h.deps.Conflicts.ListByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, conflict.StatusIgnored, conflicts[0].Status)

	_, err = h.packages.Cancel(h.ctx, h.actor, pkg.ID(), "", false)
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)
}

func TestPackageService_AutoResolvesExactPropertyMatch(t *testing.T) {
	h := newHarness(t, func(o *configuration.ImportOptions) { o.AutoResolveEnabled = true })
	prodID := uuid.New()
	_, err := h.registry.PropertyUnits.Create(h.ctx, propertyUnit(prodID, "A 12", 70))
	require.NoError(t, err)

	pkg, res := h.prepare(t, buildPackage(t, "PKG-AUTO", []packagecodec.Entity{unitEntity(t, "u-1", "A-12")}))
	require.Equal(t, 1, res.ConflictsCreated)
	require.Equal(t, 1, res.AutoResolved)
	require.Zero(t, res.Pending)
	require.Equal(t, importpackage.StatusReadyToCommit, pkg.Status())

	conflicts, err := h.deps.Conflicts.ListByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.True(t, conflicts[0].IsAutoResolved)
	require.Equal(t, "property_duplicate_score_gte_1.00", conflicts[0].AutoResolutionRule)
	require.Equal(t, conflict.ActionKeepSecond, conflicts[0].Resolution.Action)

	rec := h.record(t, pkg.ID(), stagingrecord.EntityPropertyUnit, "u-1")
	require.Equal(t, stagingrecord.DispositionUpdateExisting, rec.Disposition)

	_, err = h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
	require.NoError(t, err)
	report, err := h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{})
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusCompleted, report.Status)
	require.Equal(t, prodID, report.Mappings[0].EntityID)

	unit, err := h.registry.PropertyUnits.GetByID(h.ctx, prodID)
	require.NoError(t, err)
	require.Equal(t, "85.5", unit.Details().AreaSqm.Decimal.String())
}

func TestPackageService_ClaimSharesBeyondWholeConflict(t *testing.T) {
	h := newHarness(t)
	pkg, res := h.prepare(t, buildPackage(t, "PKG-CLAIMS", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		personEntity(t, "p-2", "12345678902", "Layla", "Nasser"),
		unitEntity(t, "u-1", "A-12"),
		entity(t, "claim", "c-1", map[string]any{"claimant_ref": "p-1", "property_unit_ref": "u-1", "claim_type": "ownership", "share": 60}),
		entity(t, "claim", "c-2", map[string]any{"claimant_ref": "p-2", "property_unit_ref": "u-1", "claim_type": "ownership", "share": 60}),
	}))
	require.Equal(t, 1, res.Pending)

	conflicts, err := h.deps.Conflicts.ListByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	c := conflicts[0]
	require.Equal(t, conflict.TypeClaimConflict, c.Type)
	require.Equal(t, conflict.ConfidenceHigh, c.ConfidenceLevel)
	require.Equal(t, conflict.PriorityHigh, c.Priority)
	require.Equal(t, 24, c.TargetResolutionHours)
	require.Equal(t, stagingrecord.IDFor(pkg.ID(), stagingrecord.EntityClaim, "c-1"), c.First.ID)
	require.Equal(t, stagingrecord.IDFor(pkg.ID(), stagingrecord.EntityClaim, "c-2"), c.Second.ID)

	_, err = h.conflicts.Resolve(h.ctx, h.actor, c.ID, ResolveParams{Action: conflict.ActionKeepFirst})
	require.NoError(t, err)
	require.True(t, h.record(t, pkg.ID(), stagingrecord.EntityClaim, "c-2").IsDiscarded())
}

func TestPackageService_CommitCleansStaging(t *testing.T) {
	h := newHarness(t)
	deed := packagecodec.Attachment{FileName: "photo.jpg", Data: []byte("not really a jpeg")}
	pkg, _ := h.prepare(t, buildPackage(t, "PKG-CLEANUP", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
		entity(t, "evidence", "e-1", map[string]any{
			"evidence_type": "photo", "attachment_hash": packagecodec.HashBytes(deed.Data), "person_ref": "p-1",
		}),
	}, deed))
	_, err := h.packages.ApproveForCommit(h.ctx, h.actor, pkg.ID(), ApproveParams{AllValid: true})
	require.NoError(t, err)

	_, err = h.packages.Commit(h.ctx, h.actor, pkg.ID(), CommitParams{CleanupStaging: true})
	require.NoError(t, err)

	records, err := h.deps.Staging.ListByPackage(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		require.NotNil(t, r.PurgedAt)
		require.Nil(t, r.Payload)
		require.NotNil(t, r.CommittedEntityID)
	}
	hashes, err := h.deps.Staging.AttachmentHashes(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Empty(t, hashes)

	report, err := h.packages.GetCommitReport(h.ctx, pkg.ID())
	require.NoError(t, err)
	require.Equal(t, 2, report.Totals.Committed)
}

func TestPackageService_PurgeExpiredStaging(t *testing.T) {
	h := newHarness(t)
	cancelled, _ := h.prepare(t, buildPackage(t, "PKG-OLD", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678901", "Omar", "Khalil"),
	}))
	_, err := h.packages.Cancel(h.ctx, h.actor, cancelled.ID(), "abandoned", false)
	require.NoError(t, err)
	fresh := h.upload(t, buildPackage(t, "PKG-FRESH", []packagecodec.Entity{
		personEntity(t, "p-1", "12345678902", "Layla", "Nasser"),
	}))

	n, err := h.packages.PurgeExpiredStaging(h.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	h.deps.Clock = func() time.Time { return testNow.Add(h.deps.Options.StagingRetention + time.Hour) }
	n, err = h.packages.PurgeExpiredStaging(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NotNil(t, h.record(t, cancelled.ID(), stagingrecord.EntityPerson, "p-1").PurgedAt)
	require.Nil(t, h.record(t, fresh.ID(), stagingrecord.EntityPerson, "p-1").PurgedAt)
}
