package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/domain/events"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/claim"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/evidence"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/relation"
)

// maxSurvivorHops bounds how far discarded records are followed to their survivor.
const maxSurvivorHops = 8

const (
	skipNotApproved = "not approved"
	skipDiscarded   = "discarded by conflict resolution"
	skipInvalid     = "record is invalid"
	skipPurged      = "payload purged"
)

// fatalCommitError aborts the whole commit and rolls it back.
type fatalCommitError struct {
	record *stagingrecord.StagingRecord
	reason string
}

func (e *fatalCommitError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.record.EntityType, e.record.LocalID, e.reason)
}

const reasonParentFailed = "referenced parent failed to commit"

type CommitParams struct {
	CleanupStaging bool
}

type CommitEngine struct {
	deps     *Dependencies
	inflight sync.Map
	log      *logrus.Entry
}

func NewCommitEngine(deps *Dependencies) *CommitEngine {
	return &CommitEngine{deps: deps, log: deps.logger("commit_engine")}
}

// EntityIDFor is the production id a staging record commits under. Re-running
// a commit of the same package yields the same ids.
func EntityIDFor(packageID, recordID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(packageID, recordID[:])
}

func (e *CommitEngine) Commit(ctx context.Context, actor Actor, packageID uuid.UUID, params CommitParams) (*CommitReport, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	if _, busy := e.inflight.LoadOrStore(packageID, struct{}{}); busy {
		return nil, newServiceError(http.StatusConflict, CodeCommitInProgress, "package is being committed", nil)
	}
	defer e.inflight.Delete(packageID)

	started := time.Now()
	log := e.log.WithField("package_id", packageID)
	var (
		pkg     importpackage.ImportPackage
		records []*stagingrecord.StagingRecord
		changes changeLog
		run     *commitRun
	)
	err := e.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		var err error
		changes = nil
		pkg, err = e.deps.Packages.GetByIDForUpdate(txCtx, packageID)
		if err != nil {
			return err
		}
		if !pkg.HasStatus(importpackage.StatusReadyToCommit) {
			return errInvalidState(fmt.Sprintf("package is %s, commit needs %s", pkg.Status(), importpackage.StatusReadyToCommit), nil)
		}
		pending, err := e.deps.Conflicts.CountPending(txCtx, packageID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return newServiceError(http.StatusConflict, CodePendingConflicts,
				fmt.Sprintf("%d conflicts are still pending review", pending), nil)
		}
		records, err = e.deps.Staging.ListByPackage(txCtx, packageID)
		if err != nil {
			return err
		}
		if countRecords(records).Approved == 0 {
			return newServiceError(http.StatusConflict, CodeNothingApproved, "no records are approved for commit", nil)
		}
		if pkg, err = e.deps.move(txCtx, pkg, importpackage.StatusCommitting, "", &changes); err != nil {
			return err
		}

		selected := countSelected(records)
		run = newCommitRun(e.deps, pkg, records)
		if err := run.execute(txCtx); err != nil {
			return err
		}

		pkg = pkg.WithCounts(countRecords(records), e.deps.now())
		switch committed := run.totals.Committed; {
		case committed == selected:
			pkg, err = e.deps.move(txCtx, pkg, importpackage.StatusCompleted, "", &changes)
		case committed > 0:
			pkg, err = e.deps.move(txCtx, pkg, importpackage.StatusPartiallyCompleted,
				fmt.Sprintf("%d of %d records committed", committed, len(records)), &changes)
		default:
			pkg, err = e.deps.fail(txCtx, pkg, importpackage.StageCommit, "no record could be committed", &changes)
		}
		return err
	})

	var fatal *fatalCommitError
	if errors.As(err, &fatal) {
		log.WithError(err).Error("commit aborted, rolled back")
		observeCommit(string(importpackage.StatusFailed), started)
		return nil, e.abort(ctx, actor, packageID, fatal)
	}
	if err != nil {
		return nil, mapError(err)
	}

	e.deps.announce(pkg, &actor.UserID, changes)
	pkg = e.finish(ctx, log, pkg, params)
	for _, r := range records {
		if r.CommitStatus != stagingrecord.CommitPending {
			importCommitRecords.WithLabelValues(string(r.EntityType), string(r.CommitStatus)).Inc()
		}
	}
	observeCommit(string(pkg.Status()), started)

	report := BuildCommitReport(pkg, records)
	committedByType := make(map[string]int, len(report.ByEntityType))
	for t, c := range report.ByEntityType {
		committedByType[string(t)] = c.Committed
	}
	e.deps.publish(&events.PackageCommittedV1{
		EventID:      uuid.New(),
		EventVersion: events.EventVersionV1,
		PackageID:    pkg.ID(),
		ExternalID:   pkg.ExternalID(),
		Status:       string(pkg.Status()),
		Committed:    committedByType,
		Skipped:      report.Totals.Skipped,
		Failed:       report.Totals.Failed,
		InitiatorID:  actor.UserID,
		CommittedAt:  e.deps.now(),
	})
	e.deps.audit(ctx, log, &actor.UserID, AuditEntry{
		ActionType:  "import.package.commit",
		Description: fmt.Sprintf("package %s committed: %s", pkg.ExternalID(), pkg.Status()),
		EntityType:  "import_package",
		EntityID:    pkg.ID().String(),
		OldValues:   auditValues(map[string]any{"status": importpackage.StatusReadyToCommit}),
		NewValues: auditValues(map[string]any{
			"status":  pkg.Status(),
			"totals":  report.Totals,
			"deduped": run.dedupedAttachments,
		}),
	})
	log.WithFields(logrus.Fields{
		"status":    pkg.Status(),
		"committed": report.Totals.Committed,
		"skipped":   report.Totals.Skipped,
		"failed":    report.Totals.Failed,
	}).Info("package committed")
	return report, nil
}

// abort records the failed commit after the rollback, in a transaction of its own.
func (e *CommitEngine) abort(ctx context.Context, actor Actor, packageID uuid.UUID, fatal *fatalCommitError) error {
	var pkg importpackage.ImportPackage
	var changes changeLog
	err := e.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		changes = nil
		var err error
		if pkg, err = e.deps.Packages.GetByID(txCtx, packageID); err != nil {
			return err
		}
		if pkg, err = e.deps.move(txCtx, pkg, importpackage.StatusCommitting, "", &changes); err != nil {
			return err
		}
		pkg, err = e.deps.fail(txCtx, pkg, importpackage.StageCommit, fatal.Error(), &changes)
		return err
	})
	if err != nil {
		return mapError(err)
	}
	e.deps.announce(pkg, &actor.UserID, changes)
	e.deps.audit(ctx, e.log, &actor.UserID, AuditEntry{
		ActionType:  "import.package.commit_failed",
		Description: "commit of package " + pkg.ExternalID() + " rolled back",
		EntityType:  "import_package",
		EntityID:    pkg.ID().String(),
		NewValues:   auditValues(map[string]any{"status": pkg.Status(), "reason": fatal.Error()}),
	})
	return newServiceError(http.StatusUnprocessableEntity, CodeCommitAborted,
		"commit rolled back: "+fatal.Error(), fatal)
}

// finish archives the raw bytes and applies the staging cleanup. Failures here
// leave the commit intact and are only logged.
func (e *CommitEngine) finish(ctx context.Context, log *logrus.Entry, pkg importpackage.ImportPackage, params CommitParams) importpackage.ImportPackage {
	if e.deps.Blobs != nil {
		location, err := e.deps.Blobs.Archive(ctx, pkg.ID())
		if err != nil {
			log.WithError(err).Warn("archiving package bytes failed")
		} else {
			err = e.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
				current, err := e.deps.Packages.GetByID(txCtx, pkg.ID())
				if err != nil {
					return err
				}
				current = current.WithArchiveLocation(location, e.deps.now())
				if err := e.deps.Packages.Update(txCtx, current); err != nil {
					return err
				}
				pkg = current
				return nil
			})
			if err != nil {
				log.WithError(err).Warn("storing archive location failed")
			}
		}
	}
	if params.CleanupStaging {
		err := e.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
			if _, err := e.deps.Staging.PurgePayloads(txCtx, pkg.ID(), e.deps.now()); err != nil {
				return err
			}
			_, err := e.deps.Staging.DeleteAttachments(txCtx, pkg.ID())
			return err
		})
		if err != nil {
			log.WithError(err).Warn("staging cleanup failed")
		}
	}
	return pkg
}

type commitRun struct {
	deps               *Dependencies
	pkg                importpackage.ImportPackage
	records            []*stagingrecord.StagingRecord
	byID               map[uuid.UUID]*stagingrecord.StagingRecord
	byLocal            map[string]*stagingrecord.StagingRecord
	totals             EntityCounts
	dedupedAttachments int
}

func newCommitRun(deps *Dependencies, pkg importpackage.ImportPackage, records []*stagingrecord.StagingRecord) *commitRun {
	run := &commitRun{
		deps:    deps,
		pkg:     pkg,
		records: records,
		byID:    make(map[uuid.UUID]*stagingrecord.StagingRecord, len(records)),
		byLocal: make(map[string]*stagingrecord.StagingRecord, len(records)),
	}
	for _, r := range records {
		run.byID[r.ID] = r
		run.byLocal[localKey(r.EntityType, r.LocalID)] = r
	}
	return run
}

func skipReason(r *stagingrecord.StagingRecord) string {
	switch {
	case r.IsDiscarded():
		return skipDiscarded
	case r.Outcome == stagingrecord.OutcomeInvalid:
		return skipInvalid
	case r.PurgedAt != nil:
		return skipPurged
	case !r.Approved:
		return skipNotApproved
	}
	return ""
}

// countSelected counts the records a commit has to carry for the package to
// complete. Eligible records left out of the approval set do not count; invalid
// and discarded ones do and end the package partially completed.
func countSelected(records []*stagingrecord.StagingRecord) int {
	n := 0
	for _, r := range records {
		if r.Approved || !r.Eligible() {
			n++
		}
	}
	return n
}

func (r *commitRun) execute(ctx context.Context) error {
	ordered := make([]*stagingrecord.StagingRecord, len(r.records))
	copy(ordered, r.records)
	sortForCommit(ordered)
	for _, rec := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.CommitStatus == stagingrecord.CommitCommitted && rec.CommittedEntityID != nil {
			r.totals.Committed++
			continue
		}
		if reason := skipReason(rec); reason != "" {
			rec.MarkSkipped(reason)
			r.totals.Skipped++
		} else {
			var entityID uuid.UUID
			err := r.deps.Transactor.InTx(ctx, func(spCtx context.Context) error {
				var err error
				entityID, err = r.commitRecord(spCtx, rec)
				return err
			})
			var fatal *fatalCommitError
			switch {
			case errors.As(err, &fatal):
				return err
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				rec.MarkFailed(mapError(err).Error())
				r.totals.Failed++
			default:
				rec.MarkCommitted(entityID)
				r.totals.Committed++
			}
		}
		if err := r.deps.Staging.Update(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// resolve finds the production id a local reference points at.
func (r *commitRun) resolve(child *stagingrecord.StagingRecord, ref reference) (uuid.UUID, error) {
	if strings.TrimSpace(ref.LocalRef) == "" {
		if ref.ProductID == nil {
			return uuid.Nil, &fatalCommitError{record: child, reason: ref.Field + " reference is missing"}
		}
		return *ref.ProductID, nil
	}
	parent, ok := r.byLocal[localKey(ref.EntityType, ref.LocalRef)]
	if !ok {
		return uuid.Nil, &fatalCommitError{record: child, reason: fmt.Sprintf("%s %q is not in the package", ref.EntityType, ref.LocalRef)}
	}
	for hops := 0; hops < maxSurvivorHops; hops++ {
		switch {
		case parent.CommitStatus == stagingrecord.CommitCommitted && parent.CommittedEntityID != nil:
			return *parent.CommittedEntityID, nil
		case parent.CommitStatus == stagingrecord.CommitFailed:
			return uuid.Nil, &fatalCommitError{
				record: child,
				reason: fmt.Sprintf("%s: %s %q", reasonParentFailed, parent.EntityType, parent.LocalID),
			}
		case parent.TargetEntityID != nil:
			return *parent.TargetEntityID, nil
		}
		if !parent.IsDiscarded() || parent.SurvivorRecordID == nil {
			break
		}
		next, ok := r.byID[*parent.SurvivorRecordID]
		if !ok {
			break
		}
		parent = next
	}
	return uuid.Nil, &fatalCommitError{
		record: child,
		reason: fmt.Sprintf("referenced %s %q was not committed", ref.EntityType, ref.LocalRef),
	}
}

func (r *commitRun) commitRecord(ctx context.Context, rec *stagingrecord.StagingRecord) (uuid.UUID, error) {
	entityID := EntityIDFor(r.pkg.ID(), rec.ID)
	switch rec.EntityType {
	case stagingrecord.EntityPerson:
		return r.commitPerson(ctx, rec, entityID)
	case stagingrecord.EntityPropertyUnit:
		return r.commitPropertyUnit(ctx, rec, entityID)
	case stagingrecord.EntityRelation:
		return r.commitRelation(ctx, rec, entityID)
	case stagingrecord.EntityClaim:
		return r.commitClaim(ctx, rec, entityID)
	case stagingrecord.EntityEvidence:
		return r.commitEvidence(ctx, rec, entityID)
	}
	return uuid.Nil, fmt.Errorf("unsupported entity type %q", rec.EntityType)
}

func (r *commitRun) commitPerson(ctx context.Context, rec *stagingrecord.StagingRecord, id uuid.UUID) (uuid.UUID, error) {
	p, err := decodePayload[PersonPayload](rec.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	repo := r.deps.Registry.Persons
	if rec.Disposition == stagingrecord.DispositionUpdateExisting && rec.TargetEntityID != nil {
		existing, err := repo.GetByID(ctx, *rec.TargetEntityID)
		if err != nil {
			return uuid.Nil, err
		}
		updated, err := repo.Update(ctx, existing.Update(p.Details(), r.deps.now()))
		if err != nil {
			return uuid.Nil, err
		}
		return updated.ID(), nil
	}
	created, err := repo.Create(ctx, person.New(id, p.Details(), r.pkg.ID()))
	if err != nil {
		return uuid.Nil, err
	}
	return created.ID(), nil
}

func (r *commitRun) commitPropertyUnit(ctx context.Context, rec *stagingrecord.StagingRecord, id uuid.UUID) (uuid.UUID, error) {
	p, err := decodePayload[PropertyUnitPayload](rec.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	repo := r.deps.Registry.PropertyUnits
	if rec.Disposition == stagingrecord.DispositionUpdateExisting && rec.TargetEntityID != nil {
		existing, err := repo.GetByID(ctx, *rec.TargetEntityID)
		if err != nil {
			return uuid.Nil, err
		}
		updated, err := repo.Update(ctx, existing.Update(p.Details(), r.deps.now()))
		if err != nil {
			return uuid.Nil, err
		}
		return updated.ID(), nil
	}
	created, err := repo.Create(ctx, propertyunit.New(id, p.Details(), r.pkg.ID()))
	if err != nil {
		return uuid.Nil, err
	}
	return created.ID(), nil
}

func (r *commitRun) commitRelation(ctx context.Context, rec *stagingrecord.StagingRecord, id uuid.UUID) (uuid.UUID, error) {
	p, err := decodePayload[RelationPayload](rec.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	refs := p.references()
	personID, err := r.resolve(rec, refs[0])
	if err != nil {
		return uuid.Nil, err
	}
	unitID, err := r.resolve(rec, refs[1])
	if err != nil {
		return uuid.Nil, err
	}
	rel := &relation.Relation{
		ID:              id,
		PersonID:        personID,
		PropertyUnitID:  unitID,
		RelationType:    strings.ToLower(strings.TrimSpace(p.RelationType)),
		Share:           p.Share,
		StartedAt:       p.StartedAt.ptr(),
		SourcePackageID: r.pkg.ID(),
		CreatedAt:       r.deps.now(),
	}
	if err := r.deps.Registry.Relations.Create(ctx, rel); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *commitRun) commitClaim(ctx context.Context, rec *stagingrecord.StagingRecord, id uuid.UUID) (uuid.UUID, error) {
	p, err := decodePayload[ClaimPayload](rec.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	refs := p.references()
	claimantID, err := r.resolve(rec, refs[0])
	if err != nil {
		return uuid.Nil, err
	}
	unitID, err := r.resolve(rec, refs[1])
	if err != nil {
		return uuid.Nil, err
	}
	now := r.deps.now()
	c := claim.New(id, claim.ReferenceCodeFor(id, now), claimantID, unitID, p.ClaimType, p.Share.Decimal)
	c.ClaimedAt = p.ClaimedAt.ptr()
	c.Notes = strings.TrimSpace(p.Notes)
	c.SourcePackageID = r.pkg.ID()
	c.CreatedAt = now
	if err := r.deps.Registry.Claims.Create(ctx, c); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *commitRun) commitEvidence(ctx context.Context, rec *stagingrecord.StagingRecord, id uuid.UUID) (uuid.UUID, error) {
	p, err := decodePayload[EvidencePayload](rec.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	ev := &evidence.Evidence{
		ID:              id,
		EvidenceType:    strings.ToLower(strings.TrimSpace(p.EvidenceType)),
		SourcePackageID: r.pkg.ID(),
		CreatedAt:       r.deps.now(),
	}
	for _, ref := range p.references() {
		if !ref.isSet() {
			continue
		}
		ownerID, err := r.resolve(rec, ref)
		if err != nil {
			return uuid.Nil, err
		}
		switch ref.EntityType {
		case stagingrecord.EntityClaim:
			ev.ClaimID = &ownerID
		case stagingrecord.EntityRelation:
			ev.RelationID = &ownerID
		case stagingrecord.EntityPerson:
			ev.PersonID = &ownerID
		}
		break
	}

	att, err := r.deps.Staging.GetAttachment(ctx, r.pkg.ID(), p.AttachmentHash)
	if err != nil {
		return uuid.Nil, err
	}
	hash := strings.ToLower(att.ContentHash)
	exists, err := r.deps.Attachments.Exists(ctx, hash)
	if err != nil {
		return uuid.Nil, err
	}
	if exists {
		r.dedupedAttachments++
	} else if hash, err = r.deps.Attachments.Store(ctx, att.Data); err != nil {
		return uuid.Nil, err
	}
	ev.ContentHash = hash
	ev.FileName = att.FileName
	if name := strings.TrimSpace(p.FileName); name != "" {
		ev.FileName = name
	}
	ev.MimeType = att.MimeType
	ev.SizeBytes = att.SizeBytes
	if err := r.deps.Registry.Evidence.Create(ctx, ev); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
