package services

import (
	"context"
	"fmt"
	"net/http"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
)

// resolutionEffects turns a conflict resolution into staging record
// dispositions. For a staged record matched against production, keep_first
// keeps the production entity and discards the staged one, keep_second writes
// the staged data over the production entity. Within a batch the record that
// is not kept is discarded and points at the survivor.
type resolutionEffects struct {
	deps      *Dependencies
	validator *Validator
}

type resolutionSides struct {
	first, second *stagingrecord.StagingRecord
}

func (e *resolutionEffects) load(ctx context.Context, c *conflict.Conflict) (resolutionSides, error) {
	var sides resolutionSides
	var err error
	if c.First.Kind == conflict.RefStaging {
		if sides.first, err = e.deps.Staging.GetByID(ctx, c.First.ID); err != nil {
			return sides, err
		}
	}
	if c.Second.Kind == conflict.RefStaging {
		if sides.second, err = e.deps.Staging.GetByID(ctx, c.Second.ID); err != nil {
			return sides, err
		}
	}
	return sides, nil
}

// check rejects resolutions that cannot be applied to the compared entities.
func (e *resolutionEffects) check(c *conflict.Conflict, res conflict.Resolution) error {
	if err := c.Validate(res); err != nil {
		return err
	}
	if res.Action == conflict.ActionMerge && c.Type == conflict.TypeClaimConflict && !c.IsWithinBatch() {
		return newServiceError(http.StatusUnprocessableEntity, CodeInvalidResolution,
			"claims cannot be merged into production claims", conflict.ErrInvalidResolution)
	}
	return nil
}

// apply runs inside the caller's transaction and returns the records it touched.
func (e *resolutionEffects) apply(ctx context.Context, c *conflict.Conflict, res conflict.Resolution) ([]*stagingrecord.StagingRecord, error) {
	if res.Action == conflict.ActionIgnore || res.Action == conflict.ActionKeepBoth {
		return nil, nil
	}
	sides, err := e.load(ctx, c)
	if err != nil {
		return nil, err
	}
	var changed []*stagingrecord.StagingRecord
	switch {
	case sides.first != nil && sides.second != nil:
		changed, err = e.applyWithinBatch(ctx, sides, res)
	case sides.second != nil:
		changed, err = e.applyAgainstProduction(ctx, c, sides.second, c.First.ID, res, true)
	case sides.first != nil:
		changed, err = e.applyAgainstProduction(ctx, c, sides.first, c.Second.ID, res, false)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, r := range changed {
		if err := e.deps.Staging.Update(ctx, r); err != nil {
			return nil, err
		}
	}
	return changed, nil
}

func (e *resolutionEffects) applyWithinBatch(ctx context.Context, sides resolutionSides, res conflict.Resolution) ([]*stagingrecord.StagingRecord, error) {
	survivor, discarded := sides.first, sides.second
	if res.Action == conflict.ActionKeepSecond ||
		(res.Action == conflict.ActionMerge && *res.MergedEntityID == sides.second.ID) {
		survivor, discarded = sides.second, sides.first
	}
	kept, err := e.liveSurvivor(ctx, survivor, discarded.ID)
	if err != nil {
		return nil, err
	}
	if res.Action == conflict.ActionMerge {
		if err := e.mergeInto(ctx, survivor, res); err != nil {
			return nil, err
		}
	}
	keptID := kept.ID
	discarded.Discard(&keptID, nil)
	return []*stagingrecord.StagingRecord{survivor, discarded}, nil
}

// liveSurvivor follows the survivor chain of rec to the record that is still
// kept. Reaching discardedID means the resolution would drop every copy.
func (e *resolutionEffects) liveSurvivor(ctx context.Context, rec *stagingrecord.StagingRecord, discardedID uuid.UUID) (*stagingrecord.StagingRecord, error) {
	for hops := 0; hops < maxSurvivorHops; hops++ {
		if rec.ID == discardedID {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeInvalidResolution,
				fmt.Sprintf("resolution would discard every copy of %s %q", rec.EntityType, rec.LocalID),
				conflict.ErrInvalidResolution)
		}
		if rec.SurvivorRecordID == nil {
			return rec, nil
		}
		next, err := e.deps.Staging.GetByID(ctx, *rec.SurvivorRecordID)
		if err != nil {
			return nil, err
		}
		rec = next
	}
	return nil, newServiceError(http.StatusUnprocessableEntity, CodeInvalidResolution,
		fmt.Sprintf("survivor chain of %s %q is too long", rec.EntityType, rec.LocalID),
		conflict.ErrInvalidResolution)
}

// applyAgainstProduction handles a staged record compared with production
// entity prodID. stagedIsSecond tells which side of the conflict it was.
func (e *resolutionEffects) applyAgainstProduction(
	ctx context.Context,
	c *conflict.Conflict,
	staged *stagingrecord.StagingRecord,
	prodID uuid.UUID,
	res conflict.Resolution,
	stagedIsSecond bool,
) ([]*stagingrecord.StagingRecord, error) {
	keepStaged := res.Action == conflict.ActionKeepSecond
	if !stagedIsSecond {
		keepStaged = res.Action == conflict.ActionKeepFirst
	}
	switch {
	case res.Action == conflict.ActionMerge:
		if err := e.mergeInto(ctx, staged, res); err != nil {
			return nil, err
		}
		staged.UpdateExisting(prodID)
	case keepStaged && c.Type == conflict.TypeClaimConflict:
		// Production claims are immutable: the staged claim is committed as a new claim.
		staged.ClearDisposition()
	case keepStaged:
		staged.UpdateExisting(prodID)
	default:
		staged.Discard(nil, &prodID)
	}
	return []*stagingrecord.StagingRecord{staged}, nil
}

// mergeInto applies the merge mapping as an RFC 7386 merge patch to the
// record payload and validates the result again.
func (e *resolutionEffects) mergeInto(ctx context.Context, rec *stagingrecord.StagingRecord, res conflict.Resolution) error {
	if rec.PurgedAt != nil {
		return errInvalidState("staging payload was purged", nil)
	}
	merged, err := jsonpatch.MergePatch(rec.Payload, res.MergeMapping)
	if err != nil {
		return newServiceError(http.StatusUnprocessableEntity, CodeInvalidResolution,
			fmt.Sprintf("merge mapping cannot be applied: %v", err), conflict.ErrInvalidResolution)
	}
	rec.Payload = merged
	return e.revalidate(ctx, rec)
}

func (e *resolutionEffects) revalidate(ctx context.Context, rec *stagingrecord.StagingRecord) error {
	records, err := e.deps.Staging.ListByPackage(ctx, rec.PackageID)
	if err != nil {
		return err
	}
	for i, r := range records {
		if r.ID == rec.ID {
			records[i] = rec
		}
	}
	hashes, err := e.deps.Staging.AttachmentHashes(ctx, rec.PackageID)
	if err != nil {
		return err
	}
	result, err := e.validator.Validate(ctx, rec, NewBatchIndex(records, hashes))
	if err != nil {
		return err
	}
	rec.Outcome = result.Outcome
	rec.Messages = result.Messages
	if rec.Outcome == stagingrecord.OutcomeInvalid {
		rec.Approved = false
	}
	return nil
}

// countRecords aggregates the per-package counters from its records.
func countRecords(records []*stagingrecord.StagingRecord) importpackage.Counts {
	counts := importpackage.Counts{Staged: len(records)}
	for _, r := range records {
		switch r.Outcome {
		case stagingrecord.OutcomeValid:
			counts.Valid++
		case stagingrecord.OutcomeWarning:
			counts.Warning++
		case stagingrecord.OutcomeInvalid:
			counts.Invalid++
		}
		if r.Approved {
			counts.Approved++
		}
	}
	return counts
}

// refreshCounts recomputes and stores the package counters. It must run in the
// transaction that changed the records.
func (d *Dependencies) refreshCounts(ctx context.Context, pkgID uuid.UUID) (importpackage.ImportPackage, error) {
	pkg, err := d.Packages.GetByID(ctx, pkgID)
	if err != nil {
		return pkg, err
	}
	records, err := d.Staging.ListByPackage(ctx, pkgID)
	if err != nil {
		return pkg, err
	}
	pkg = pkg.WithCounts(countRecords(records), d.now())
	if err := d.Packages.Update(ctx, pkg); err != nil {
		return pkg, err
	}
	return pkg, nil
}
