package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
	"github.com/iota-uz/field-registry/pkg/configuration"
)

// PackageService drives an import package through its lifecycle. Every stage
// checks the package status first and fails with a state conflict when the
// package is not where the stage expects it.
type PackageService struct {
	deps      *Dependencies
	validator *Validator
	matcher   *DuplicateMatcher
	effects   *resolutionEffects
	engine    *CommitEngine
	log       *logrus.Entry
}

func NewPackageService(deps *Dependencies, validator *Validator, matcher *DuplicateMatcher, engine *CommitEngine) *PackageService {
	return &PackageService{
		deps:      deps,
		validator: validator,
		matcher:   matcher,
		effects:   &resolutionEffects{deps: deps, validator: validator},
		engine:    engine,
		log:       deps.logger("package_service"),
	}
}

type ApproveParams struct {
	AllValid           bool
	RecordIDs          []uuid.UUID
	AcknowledgeInvalid bool
}

type DetectResult struct {
	Package          importpackage.ImportPackage
	ConflictsCreated int
	AutoResolved     int
	Pending          int
}

type EntitySummary struct {
	Total     int `json:"total"`
	Valid     int `json:"valid"`
	Warning   int `json:"warning"`
	Invalid   int `json:"invalid"`
	Approved  int `json:"approved"`
	Discarded int `json:"discarded"`
}

type StagingSummary struct {
	Package          importpackage.ImportPackage
	ByEntityType     map[stagingrecord.EntityType]EntitySummary
	PendingConflicts int
	Attachments      int
}

func statusList(statuses ...importpackage.Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, " or ")
}

func requireStatus(pkg importpackage.ImportPackage, stage string, allowed ...importpackage.Status) error {
	if pkg.HasStatus(allowed...) {
		return nil
	}
	return errInvalidState(fmt.Sprintf("%s needs the package to be %s, it is %s", stage, statusList(allowed...), pkg.Status()), nil)
}

func (s *PackageService) packageLog(pkg importpackage.ImportPackage) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{"package_id": pkg.ID(), "external_id": pkg.ExternalID()})
}

func (s *PackageService) auditPackage(ctx context.Context, actor Actor, pkg importpackage.ImportPackage, action, description string, oldValues, newValues any) {
	s.deps.audit(ctx, s.packageLog(pkg), &actor.UserID, AuditEntry{
		ActionType:  "import.package." + action,
		Description: description,
		EntityType:  "import_package",
		EntityID:    pkg.ID().String(),
		OldValues:   auditValues(oldValues),
		NewValues:   auditValues(newValues),
	})
}

// Upload registers a package and, when its manifest can be trusted, stages it.
// A malformed package is recorded as failed, a package failing its integrity
// checks is quarantined; both keep the raw bytes.
func (s *PackageService) Upload(ctx context.Context, actor Actor, raw []byte) (importpackage.ImportPackage, error) {
	if err := actor.check(); err != nil {
		return importpackage.ImportPackage{}, err
	}
	if limit := s.deps.Options.MaxPackageBytes; limit > 0 && int64(len(raw)) > limit {
		return importpackage.ImportPackage{}, newServiceError(http.StatusRequestEntityTooLarge, CodePackageTooLarge,
			fmt.Sprintf("package is %d bytes, the limit is %d", len(raw), limit), nil)
	}
	id := uuid.New()
	now := s.deps.now()

	env, decodeErr := packagecodec.Decode(raw)
	if decodeErr != nil {
		source := importpackage.Source{ExternalID: id.String(), ContentHash: packagecodec.HashBytes(raw), SizeBytes: int64(len(raw))}
		pkg, err := s.register(ctx, importpackage.New(id, source, actor.UserID, now), raw)
		if err != nil {
			return pkg, err
		}
		var changes changeLog
		err = s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
			var err error
			pkg, err = s.deps.fail(txCtx, pkg, importpackage.StageUpload, decodeErr.Error(), &changes)
			return err
		})
		if err != nil {
			return pkg, mapError(err)
		}
		s.deps.announce(pkg, &actor.UserID, changes)
		s.packageLog(pkg).WithError(decodeErr).Warn("malformed package rejected")
		s.auditPackage(ctx, actor, pkg, "upload_failed", "malformed package rejected", nil,
			map[string]any{"status": pkg.Status(), "reason": decodeErr.Error()})
		return pkg, newServiceError(http.StatusUnprocessableEntity, CodeMalformedManifest, "package manifest cannot be parsed", decodeErr)
	}

	externalID := strings.TrimSpace(env.Manifest.PackageID)
	if _, err := s.deps.Packages.GetByExternalID(ctx, externalID); err == nil {
		return importpackage.ImportPackage{}, mapError(fmt.Errorf("%w: %s", importpackage.ErrDuplicateExternal, externalID))
	} else if !errors.Is(err, importpackage.ErrNotFound) {
		return importpackage.ImportPackage{}, mapError(err)
	}
	source := importpackage.Source{
		ExternalID:     externalID,
		SchemaVersion:  env.Manifest.SchemaVersion,
		DeviceID:       env.Manifest.DeviceID,
		CollectorID:    env.Manifest.CollectorID,
		ContentHash:    strings.ToLower(strings.TrimSpace(env.Manifest.ContentHash)),
		DeclaredCounts: env.Manifest.EntityCounts,
		SizeBytes:      int64(len(raw)),
	}
	pkg, err := s.register(ctx, importpackage.New(id, source, actor.UserID, now), raw)
	if err != nil {
		return pkg, err
	}
	s.auditPackage(ctx, actor, pkg, "upload", "package "+externalID+" received", nil,
		map[string]any{"status": pkg.Status(), "device_id": source.DeviceID, "size_bytes": source.SizeBytes})

	if verifyErr := packagecodec.Verify(env); verifyErr != nil {
		var integrity *packagecodec.IntegrityError
		if errors.As(verifyErr, &integrity) {
			return s.quarantine(ctx, actor, pkg.ID(), integrity.Reason)
		}
		var changes changeLog
		err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
			var err error
			pkg, err = s.deps.fail(txCtx, pkg, importpackage.StageUpload, verifyErr.Error(), &changes)
			return err
		})
		if err != nil {
			return pkg, mapError(err)
		}
		s.deps.announce(pkg, &actor.UserID, changes)
		return pkg, newServiceError(http.StatusUnprocessableEntity, CodeMalformedManifest, "package entities cannot be parsed", verifyErr)
	}
	return s.stage(ctx, actor, pkg.ID(), env)
}

// register keeps the raw bytes and creates the package in received.
func (s *PackageService) register(ctx context.Context, pkg importpackage.ImportPackage, raw []byte) (importpackage.ImportPackage, error) {
	if s.deps.Blobs != nil {
		location, err := s.deps.Blobs.PutIncoming(ctx, pkg.ID(), raw)
		if err != nil {
			return pkg, fmt.Errorf("store incoming package: %w", err)
		}
		pkg = pkg.WithRawLocation(location)
	}
	err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		return s.deps.Packages.Create(txCtx, pkg)
	})
	if err != nil {
		return pkg, mapError(err)
	}
	recordTransition("", string(importpackage.StatusReceived))
	return pkg, nil
}

// Stage (re)extracts the package entities from the stored raw bytes. Records
// already staged are kept, so an interrupted stage resumes where it stopped.
func (s *PackageService) Stage(ctx context.Context, actor Actor, packageID uuid.UUID) (importpackage.ImportPackage, error) {
	if err := actor.check(); err != nil {
		return importpackage.ImportPackage{}, err
	}
	pkg, err := s.deps.Packages.GetByID(ctx, packageID)
	if err != nil {
		return pkg, mapError(err)
	}
	if err := requireStatus(pkg, "staging", importpackage.StatusReceived, importpackage.StatusStaging); err != nil {
		return pkg, err
	}
	if s.deps.Blobs == nil {
		return pkg, errInvalidState("package bytes are not available", nil)
	}
	raw, err := s.deps.Blobs.ReadIncoming(ctx, packageID)
	if err != nil {
		return pkg, fmt.Errorf("read incoming package: %w", err)
	}
	env, err := packagecodec.Decode(raw)
	if err != nil {
		return pkg, newServiceError(http.StatusUnprocessableEntity, CodeMalformedManifest, "package manifest cannot be parsed", err)
	}
	return s.stage(ctx, actor, packageID, env)
}

func (s *PackageService) stage(ctx context.Context, actor Actor, packageID uuid.UUID, env *packagecodec.Envelope) (importpackage.ImportPackage, error) {
	if timeout := s.deps.Options.StageTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var pkg importpackage.ImportPackage
	var changes changeLog
	err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		var err error
		if pkg, err = s.deps.Packages.GetByID(txCtx, packageID); err != nil {
			return err
		}
		if err := requireStatus(pkg, "staging", importpackage.StatusReceived, importpackage.StatusStaging); err != nil {
			return err
		}
		if pkg.HasStatus(importpackage.StatusReceived) {
			if pkg, err = s.deps.move(txCtx, pkg, importpackage.StatusStaging, "", &changes); err != nil {
				return err
			}
		}
		attachments := make([]stagingrecord.StagedAttachment, len(env.Attachments))
		for i, a := range env.Attachments {
			attachments[i] = stagingrecord.StagedAttachment{
				PackageID:   packageID,
				ContentHash: strings.ToLower(strings.TrimSpace(a.ContentHash)),
				FileName:    a.FileName,
				MimeType:    mimetype.Detect(a.Data).String(),
				SizeBytes:   int64(len(a.Data)),
				Data:        a.Data,
			}
		}
		return s.deps.Staging.SaveAttachments(txCtx, attachments)
	})
	if err != nil {
		return pkg, mapError(err)
	}
	s.deps.announce(pkg, &actor.UserID, changes)
	log := s.packageLog(pkg)

	batchSize := s.deps.Options.StageBatchSize
	if batchSize <= 0 {
		batchSize = len(env.Entities) + 1
	}
	inserted := 0
	for start := 0; start < len(env.Entities); start += batchSize {
		if err := ctx.Err(); err != nil {
			log.WithField("staged", start).Warn("staging interrupted")
			return pkg, mapError(err)
		}
		end := min(start+batchSize, len(env.Entities))
		batch := make([]*stagingrecord.StagingRecord, 0, end-start)
		for i := start; i < end; i++ {
			e := env.Entities[i]
			entityType := stagingrecord.EntityType(strings.ToLower(strings.TrimSpace(e.Type)))
			batch = append(batch, stagingrecord.New(packageID, i+1, entityType, strings.TrimSpace(e.LocalID), e.Payload))
		}
		var n int
		err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
			var err error
			n, err = s.deps.Staging.InsertBatch(txCtx, batch)
			return err
		})
		if err != nil {
			return pkg, mapError(err)
		}
		inserted += n
		for _, r := range batch {
			importStagedRecords.WithLabelValues(string(r.EntityType)).Inc()
		}
	}

	err = s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		var err error
		pkg, err = s.deps.refreshCounts(txCtx, packageID)
		return err
	})
	if err != nil {
		return pkg, mapError(err)
	}
	log.WithFields(logrus.Fields{"inserted": inserted, "staged": pkg.Counts().Staged}).Info("package staged")
	s.auditPackage(ctx, actor, pkg, "stage", "package "+pkg.ExternalID()+" staged", nil,
		map[string]any{"status": pkg.Status(), "staged": pkg.Counts().Staged, "attachments": len(env.Attachments)})
	return pkg, nil
}

func (s *PackageService) Quarantine(ctx context.Context, actor Actor, packageID uuid.UUID, reason string) (importpackage.ImportPackage, error) {
	if err := actor.check(); err != nil {
		return importpackage.ImportPackage{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return importpackage.ImportPackage{}, errInvalidRequest("quarantine reason is required")
	}
	return s.quarantine(ctx, actor, packageID, strings.TrimSpace(reason))
}

func (s *PackageService) quarantine(ctx context.Context, actor Actor, packageID uuid.UUID, reason string) (importpackage.ImportPackage, error) {
	var pkg importpackage.ImportPackage
	var changes changeLog
	err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		var err error
		if pkg, err = s.deps.Packages.GetByID(txCtx, packageID); err != nil {
			return err
		}
		if err := requireStatus(pkg, "quarantine", importpackage.StatusReceived, importpackage.StatusStaging); err != nil {
			return err
		}
		pkg, err = s.deps.move(txCtx, pkg, importpackage.StatusQuarantined, reason, &changes)
		return err
	})
	if err != nil {
		return pkg, mapError(err)
	}
	s.deps.announce(pkg, &actor.UserID, changes)
	s.packageLog(pkg).WithField("reason", reason).Warn("package quarantined")
	s.auditPackage(ctx, actor, pkg, "quarantine", "package "+pkg.ExternalID()+" quarantined", nil,
		map[string]any{"status": pkg.Status(), "reason": reason})
	return pkg, nil
}

// Validate runs the validator over every staged record, parents first, and
// stores the outcomes. Running it again yields the same outcomes.
func (s *PackageService) Validate(ctx context.Context, actor Actor, packageID uuid.UUID) (importpackage.ImportPackage, error) {
	if err := actor.check(); err != nil {
		return importpackage.ImportPackage{}, err
	}
	var pkg importpackage.ImportPackage
	var changes changeLog
	var outcomes []*stagingrecord.StagingRecord
	err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		var err error
		if pkg, err = s.deps.Packages.GetByID(txCtx, packageID); err != nil {
			return err
		}
		if err := requireStatus(pkg, "validation",
			importpackage.StatusStaging, importpackage.StatusValidating, importpackage.StatusReviewingConflicts); err != nil {
			return err
		}
		if pkg.HasStatus(importpackage.StatusStaging) {
			if pkg, err = s.deps.move(txCtx, pkg, importpackage.StatusValidating, "", &changes); err != nil {
				return err
			}
		}
		records, err := s.deps.Staging.ListByPackage(txCtx, packageID)
		if err != nil {
			return err
		}
		hashes, err := s.deps.Staging.AttachmentHashes(txCtx, packageID)
		if err != nil {
			return err
		}
		// Outcomes are recomputed from scratch so a second run sees the same inputs.
		for _, r := range records {
			if r.PurgedAt == nil {
				r.Outcome = ""
			}
		}
		idx := NewBatchIndex(records, hashes)
		ordered := make([]*stagingrecord.StagingRecord, len(records))
		copy(ordered, records)
		sortForCommit(ordered)
		for _, r := range ordered {
			if r.PurgedAt != nil {
				continue
			}
			result, err := s.validator.Validate(txCtx, r, idx)
			if err != nil {
				return fmt.Errorf("validate %s %q: %w", r.EntityType, r.LocalID, err)
			}
			r.Outcome = result.Outcome
			r.Messages = result.Messages
			if r.Outcome == stagingrecord.OutcomeInvalid {
				r.Approved = false
			}
			if err := s.deps.Staging.Update(txCtx, r); err != nil {
				return err
			}
		}
		pkg = pkg.WithCounts(countRecords(records), s.deps.now())
		outcomes = records
		return s.deps.Packages.Update(txCtx, pkg)
	})
	if err != nil {
		return pkg, mapError(err)
	}
	s.deps.announce(pkg, &actor.UserID, changes)
	for _, r := range outcomes {
		if r.Outcome != "" {
			importValidationOutcomes.WithLabelValues(string(r.EntityType), string(r.Outcome)).Inc()
		}
	}
	counts := pkg.Counts()
	s.packageLog(pkg).WithFields(logrus.Fields{
		"valid": counts.Valid, "warning": counts.Warning, "invalid": counts.Invalid,
	}).Info("package validated")
	s.auditPackage(ctx, actor, pkg, "validate", "package "+pkg.ExternalID()+" validated", nil, counts)
	return pkg, nil
}

func (s *PackageService) autoResolvable(c *conflict.Conflict) bool {
	opts := s.deps.Options
	if !opts.AutoResolveEnabled || c.SimilarityScore < opts.AutoResolveThreshold {
		return false
	}
	action := conflict.ResolutionAction(opts.AutoResolveAction)
	if action == conflict.ActionMerge || !action.Valid() {
		return false
	}
	for _, t := range opts.AutoResolveTypes {
		if conflict.Type(strings.TrimSpace(t)) == c.Type {
			return true
		}
	}
	return false
}

func (s *PackageService) autoRule(t conflict.Type) string {
	return fmt.Sprintf("%s_score_gte_%.2f", t, s.deps.Options.AutoResolveThreshold)
}

type pairKey struct {
	t             conflict.Type
	first, second uuid.UUID
}

// DetectDuplicates runs the matcher and records new conflicts. Pairs that
// already have a conflict in this package are not recorded again.
func (s *PackageService) DetectDuplicates(ctx context.Context, actor Actor, packageID uuid.UUID) (DetectResult, error) {
	if err := actor.check(); err != nil {
		return DetectResult{}, err
	}
	pkg, err := s.deps.Packages.GetByID(ctx, packageID)
	if err != nil {
		return DetectResult{}, mapError(err)
	}
	allowed := []importpackage.Status{importpackage.StatusValidating, importpackage.StatusReviewingConflicts}
	if err := requireStatus(pkg, "duplicate detection", allowed...); err != nil {
		return DetectResult{Package: pkg}, err
	}
	records, err := s.deps.Staging.ListByPackage(ctx, packageID)
	if err != nil {
		return DetectResult{Package: pkg}, mapError(err)
	}
	candidates, err := s.matcher.Match(ctx, records)
	if err != nil {
		return DetectResult{Package: pkg}, mapError(err)
	}

	var result DetectResult
	var changes changeLog
	var created []*conflict.Conflict
	err = s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		result, changes, created = DetectResult{}, nil, nil
		var err error
		if pkg, err = s.deps.Packages.GetByID(txCtx, packageID); err != nil {
			return err
		}
		if err := requireStatus(pkg, "duplicate detection", allowed...); err != nil {
			return err
		}
		existing, err := s.deps.Conflicts.ListByPackage(txCtx, packageID)
		if err != nil {
			return err
		}
		known := make(map[pairKey]struct{}, len(existing))
		for _, c := range existing {
			known[pairKey{c.Type, c.First.ID, c.Second.ID}] = struct{}{}
		}
		for _, cand := range candidates {
			key := pairKey{cand.Type, cand.First.ID, cand.Second.ID}
			if _, ok := known[key]; ok {
				continue
			}
			known[key] = struct{}{}
			c, err := s.recordConflict(txCtx, pkg, cand)
			if errors.Is(err, conflict.ErrDuplicatePair) {
				continue
			}
			if err != nil {
				return err
			}
			created = append(created, c)
			result.ConflictsCreated++
			if c.IsAutoResolved {
				result.AutoResolved++
			}
		}
		if result.Pending, err = s.deps.Conflicts.CountPending(txCtx, packageID); err != nil {
			return err
		}
		if pkg, err = s.deps.refreshCounts(txCtx, packageID); err != nil {
			return err
		}
		next := importpackage.StatusReadyToCommit
		if result.Pending > 0 {
			next = importpackage.StatusReviewingConflicts
		}
		pkg, err = s.deps.move(txCtx, pkg, next, "", &changes)
		return err
	})
	if err != nil {
		return DetectResult{Package: pkg}, mapError(err)
	}
	result.Package = pkg
	s.deps.announce(pkg, &actor.UserID, changes)
	for _, c := range created {
		importConflictsDetected.WithLabelValues(string(c.Type), string(c.ConfidenceLevel)).Inc()
		if c.IsAutoResolved {
			recordConflictResolved(string(c.Resolution.Action), true)
		}
	}
	s.packageLog(pkg).WithFields(logrus.Fields{
		"created": result.ConflictsCreated, "auto_resolved": result.AutoResolved, "pending": result.Pending,
	}).Info("duplicate detection finished")
	s.auditPackage(ctx, actor, pkg, "detect_duplicates", "duplicate detection for package "+pkg.ExternalID(), nil,
		map[string]any{
			"status":            pkg.Status(),
			"conflicts_created": result.ConflictsCreated,
			"auto_resolved":     result.AutoResolved,
			"pending":           result.Pending,
		})
	return result, nil
}

// recordConflict stores one candidate, auto-resolving it when a rule applies.
// It runs in a savepoint so a lost race on the pair key leaves nothing behind.
func (s *PackageService) recordConflict(ctx context.Context, pkg importpackage.ImportPackage, cand Candidate) (*conflict.Conflict, error) {
	var out *conflict.Conflict
	err := s.deps.Transactor.InTx(ctx, func(spCtx context.Context) error {
		now := s.deps.now()
		number, err := s.deps.Conflicts.NextNumber(spCtx, now)
		if err != nil {
			return err
		}
		priority, hours := conflict.PriorityNormal, s.deps.Options.TargetResolutionHours
		if cand.Confidence == conflict.ConfidenceHigh || cand.Type == conflict.TypeClaimConflict {
			priority, hours = conflict.PriorityHigh, s.deps.Options.HighPriorityResolutionHrs
		}
		pkgID := pkg.ID()
		c := conflict.New(uuid.New(), conflict.NewParams{
			Number:                number,
			Type:                  cand.Type,
			EntityType:            string(cand.EntityType),
			First:                 cand.First,
			Second:                cand.Second,
			SimilarityScore:       cand.Score,
			ConfidenceLevel:       cand.Confidence,
			MatchingCriteria:      cand.Criteria,
			DataComparison:        cand.Comparison,
			Priority:              priority,
			TargetResolutionHours: hours,
			ImportPackageID:       &pkgID,
			DetectedAt:            now,
		})
		if s.autoResolvable(c) {
			action := conflict.ResolutionAction(s.deps.Options.AutoResolveAction)
			res := conflict.Resolution{Action: action}
			if err := s.effects.check(c, res); err != nil {
				return err
			}
			if _, err := s.effects.apply(spCtx, c, res); err != nil {
				return err
			}
			if err := c.AutoResolve(s.autoRule(c.Type), action, now); err != nil {
				return err
			}
		}
		if err := s.deps.Conflicts.Create(spCtx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// ApproveForCommit marks records approved and moves the package to
// ready_to_commit. Invalid and discarded records are never approved.
func (s *PackageService) ApproveForCommit(ctx context.Context, actor Actor, packageID uuid.UUID, params ApproveParams) (importpackage.ImportPackage, error) {
	if err := actor.check(); err != nil {
		return importpackage.ImportPackage{}, err
	}
	if !params.AllValid && len(params.RecordIDs) == 0 {
		return importpackage.ImportPackage{}, errInvalidRequest("either all_valid or record_ids is required")
	}
	var pkg importpackage.ImportPackage
	var changes changeLog
	approvedNow := 0
	err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		changes, approvedNow = nil, 0
		var err error
		if pkg, err = s.deps.Packages.GetByID(txCtx, packageID); err != nil {
			return err
		}
		if err := requireStatus(pkg, "approval",
			importpackage.StatusReviewingConflicts, importpackage.StatusReadyToCommit); err != nil {
			return err
		}
		pending, err := s.deps.Conflicts.CountPending(txCtx, packageID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return newServiceError(http.StatusConflict, CodePendingConflicts,
				fmt.Sprintf("%d conflicts are still pending review", pending), nil)
		}
		records, err := s.deps.Staging.ListByPackage(txCtx, packageID)
		if err != nil {
			return err
		}
		if params.AcknowledgeInvalid {
			pkg = pkg.AcknowledgeInvalid(s.deps.now())
		}
		invalid := countRecords(records).Invalid
		if s.deps.Options.InvalidRecordPolicy == configuration.InvalidRecordPolicyBlock && invalid > 0 && !pkg.InvalidAcknowledged() {
			return newServiceError(http.StatusConflict, CodeInvalidRecords,
				fmt.Sprintf("%d invalid records must be acknowledged before approval", invalid), nil)
		}

		var selected []*stagingrecord.StagingRecord
		if params.AllValid {
			for _, r := range records {
				if r.Eligible() {
					selected = append(selected, r)
				}
			}
		} else {
			byID := make(map[uuid.UUID]*stagingrecord.StagingRecord, len(records))
			for _, r := range records {
				byID[r.ID] = r
			}
			for _, id := range params.RecordIDs {
				r, ok := byID[id]
				if !ok {
					return newServiceError(http.StatusUnprocessableEntity, CodeRecordNotEligible,
						fmt.Sprintf("record %s is not part of the package", id), nil)
				}
				if !r.Eligible() {
					return newServiceError(http.StatusUnprocessableEntity, CodeRecordNotEligible,
						fmt.Sprintf("record %s (%s %q) cannot be approved", id, r.EntityType, r.LocalID), nil)
				}
				selected = append(selected, r)
			}
		}
		for _, r := range selected {
			if r.Approved {
				continue
			}
			r.Approved = true
			approvedNow++
			if err := s.deps.Staging.Update(txCtx, r); err != nil {
				return err
			}
		}
		pkg = pkg.WithCounts(countRecords(records), s.deps.now())
		if pkg.Counts().Approved == 0 {
			return newServiceError(http.StatusConflict, CodeNothingApproved, "no eligible records to approve", nil)
		}
		if err := s.deps.Packages.Update(txCtx, pkg); err != nil {
			return err
		}
		if !pkg.HasStatus(importpackage.StatusReadyToCommit) {
			pkg, err = s.deps.move(txCtx, pkg, importpackage.StatusReadyToCommit, "", &changes)
		}
		return err
	})
	if err != nil {
		return pkg, mapError(err)
	}
	s.deps.announce(pkg, &actor.UserID, changes)
	s.packageLog(pkg).WithFields(logrus.Fields{"approved": pkg.Counts().Approved, "newly_approved": approvedNow}).Info("records approved")
	s.auditPackage(ctx, actor, pkg, "approve", "records of package "+pkg.ExternalID()+" approved", nil,
		map[string]any{"approved": pkg.Counts().Approved, "acknowledge_invalid": params.AcknowledgeInvalid})
	return pkg, nil
}

func (s *PackageService) Commit(ctx context.Context, actor Actor, packageID uuid.UUID, params CommitParams) (*CommitReport, error) {
	return s.engine.Commit(ctx, actor, packageID, params)
}

// Cancel stops a package in any non-terminal state. Pending conflicts are
// closed as ignored.
func (s *PackageService) Cancel(ctx context.Context, actor Actor, packageID uuid.UUID, reason string, cleanupStaging bool) (importpackage.ImportPackage, error) {
	if err := actor.check(); err != nil {
		return importpackage.ImportPackage{}, err
	}
	reason = strings.TrimSpace(reason)
	var pkg importpackage.ImportPackage
	var changes changeLog
	var from importpackage.Status
	ignored := 0
	err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		changes, ignored = nil, 0
		var err error
		if pkg, err = s.deps.Packages.GetByID(txCtx, packageID); err != nil {
			return err
		}
		from = pkg.Status()
		if pkg.IsTerminal() {
			return errInvalidState(fmt.Sprintf("package is already %s", pkg.Status()), nil)
		}
		if !pkg.Status().CanTransitionTo(importpackage.StatusCancelled) {
			return mapError(&importpackage.TransitionError{From: pkg.Status(), To: importpackage.StatusCancelled})
		}
		conflicts, err := s.deps.Conflicts.ListByPackage(txCtx, packageID)
		if err != nil {
			return err
		}
		now := s.deps.now()
		for _, c := range conflicts {
			if !c.IsPending() {
				continue
			}
			if err := c.Resolve(actor.UserID, conflict.Resolution{Action: conflict.ActionIgnore, Reason: "package cancelled"}, now); err != nil {
				return err
			}
			if err := s.deps.Conflicts.Update(txCtx, c); err != nil {
				return err
			}
			ignored++
		}
		if cleanupStaging {
			if _, err := s.deps.Staging.DeleteByPackage(txCtx, packageID); err != nil {
				return err
			}
			if _, err := s.deps.Staging.DeleteAttachments(txCtx, packageID); err != nil {
				return err
			}
			pkg = pkg.WithCounts(importpackage.Counts{}, now)
		}
		pkg, err = s.deps.move(txCtx, pkg, importpackage.StatusCancelled, reason, &changes)
		return err
	})
	if err != nil {
		return pkg, mapError(err)
	}
	s.deps.announce(pkg, &actor.UserID, changes)
	s.packageLog(pkg).WithFields(logrus.Fields{"ignored_conflicts": ignored, "cleanup": cleanupStaging}).Info("package cancelled")
	s.auditPackage(ctx, actor, pkg, "cancel", "package "+pkg.ExternalID()+" cancelled",
		map[string]any{"status": from},
		map[string]any{"status": pkg.Status(), "reason": reason, "cleanup": cleanupStaging, "ignored_conflicts": ignored})
	return pkg, nil
}

// ResetFailedCommit reopens a package whose commit was rolled back so it can
// be committed again.
func (s *PackageService) ResetFailedCommit(ctx context.Context, actor Actor, packageID uuid.UUID) (importpackage.ImportPackage, error) {
	if err := actor.check(); err != nil {
		return importpackage.ImportPackage{}, err
	}
	var pkg importpackage.ImportPackage
	var changes changeLog
	err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
		changes = nil
		current, err := s.deps.Packages.GetByID(txCtx, packageID)
		if err != nil {
			return err
		}
		if pkg, err = current.ResetFailedCommit(s.deps.now()); err != nil {
			return err
		}
		if err := s.deps.Packages.Update(txCtx, pkg); err != nil {
			return err
		}
		changes = append(changes, statusChange{from: current.Status(), to: pkg.Status(), reason: "reset after failed commit"})
		records, err := s.deps.Staging.ListByPackage(txCtx, packageID)
		if err != nil {
			return err
		}
		for _, r := range records {
			if r.CommitStatus == stagingrecord.CommitCommitted || r.CommitStatus == stagingrecord.CommitPending {
				continue
			}
			r.ResetCommit()
			if err := s.deps.Staging.Update(txCtx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pkg, mapError(err)
	}
	s.deps.announce(pkg, &actor.UserID, changes)
	s.auditPackage(ctx, actor, pkg, "reset", "failed commit of package "+pkg.ExternalID()+" reset",
		map[string]any{"status": importpackage.StatusFailed}, map[string]any{"status": pkg.Status()})
	return pkg, nil
}

func (s *PackageService) GetPackage(ctx context.Context, packageID uuid.UUID) (importpackage.ImportPackage, error) {
	pkg, err := s.deps.Packages.GetByID(ctx, packageID)
	if err != nil {
		return pkg, mapError(err)
	}
	return pkg, nil
}

func (s *PackageService) ListPackages(ctx context.Context, params *importpackage.FindParams) ([]importpackage.ImportPackage, int64, error) {
	items, total, err := s.deps.Packages.GetPaginated(ctx, params)
	if err != nil {
		return nil, 0, mapError(err)
	}
	return items, total, nil
}

func (s *PackageService) ListStagingRecords(ctx context.Context, params *stagingrecord.FindParams) ([]*stagingrecord.StagingRecord, int64, error) {
	if params == nil || params.PackageID == uuid.Nil {
		return nil, 0, errInvalidRequest("package id is required")
	}
	if _, err := s.deps.Packages.GetByID(ctx, params.PackageID); err != nil {
		return nil, 0, mapError(err)
	}
	items, total, err := s.deps.Staging.GetPaginated(ctx, params)
	if err != nil {
		return nil, 0, mapError(err)
	}
	return items, total, nil
}

func (s *PackageService) GetStagingSummary(ctx context.Context, packageID uuid.UUID) (*StagingSummary, error) {
	pkg, err := s.deps.Packages.GetByID(ctx, packageID)
	if err != nil {
		return nil, mapError(err)
	}
	records, err := s.deps.Staging.ListByPackage(ctx, packageID)
	if err != nil {
		return nil, mapError(err)
	}
	pending, err := s.deps.Conflicts.CountPending(ctx, packageID)
	if err != nil {
		return nil, mapError(err)
	}
	hashes, err := s.deps.Staging.AttachmentHashes(ctx, packageID)
	if err != nil {
		return nil, mapError(err)
	}
	summary := &StagingSummary{
		Package:          pkg,
		ByEntityType:     make(map[stagingrecord.EntityType]EntitySummary),
		PendingConflicts: pending,
		Attachments:      len(hashes),
	}
	for _, r := range records {
		es := summary.ByEntityType[r.EntityType]
		es.Total++
		switch r.Outcome {
		case stagingrecord.OutcomeValid:
			es.Valid++
		case stagingrecord.OutcomeWarning:
			es.Warning++
		case stagingrecord.OutcomeInvalid:
			es.Invalid++
		}
		if r.Approved {
			es.Approved++
		}
		if r.IsDiscarded() {
			es.Discarded++
		}
		summary.ByEntityType[r.EntityType] = es
	}
	return summary, nil
}

func (s *PackageService) GetCommitReport(ctx context.Context, packageID uuid.UUID) (*CommitReport, error) {
	pkg, err := s.deps.Packages.GetByID(ctx, packageID)
	if err != nil {
		return nil, mapError(err)
	}
	records, err := s.deps.Staging.ListByPackage(ctx, packageID)
	if err != nil {
		return nil, mapError(err)
	}
	return BuildCommitReport(pkg, records), nil
}

// PurgeExpiredStaging drops staging payloads and attachments of finished
// packages older than the retention window. Quarantined packages are kept.
func (s *PackageService) PurgeExpiredStaging(ctx context.Context) (int, error) {
	retention := s.deps.Options.StagingRetention
	if retention <= 0 {
		return 0, nil
	}
	now := s.deps.now()
	expired, err := s.deps.Packages.ListRetentionExpired(ctx, now.Add(-retention))
	if err != nil {
		return 0, mapError(err)
	}
	purged := 0
	for _, pkg := range expired {
		if pkg.HasStatus(importpackage.StatusQuarantined) {
			continue
		}
		err := s.deps.Transactor.InTx(ctx, func(txCtx context.Context) error {
			if _, err := s.deps.Staging.PurgePayloads(txCtx, pkg.ID(), now); err != nil {
				return err
			}
			_, err := s.deps.Staging.DeleteAttachments(txCtx, pkg.ID())
			return err
		})
		if err != nil {
			return purged, mapError(err)
		}
		purged++
	}
	if purged > 0 {
		s.log.WithField("packages", purged).Info("expired staging data purged")
	}
	return purged, nil
}
