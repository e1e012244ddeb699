package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/domain/events"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/attachments"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/blobstore"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/persistence"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/vocabulary"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	registrypersistence "github.com/iota-uz/field-registry/modules/registry/infrastructure/persistence"
	registry "github.com/iota-uz/field-registry/modules/registry/services"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/eventbus"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *recordingAudit) LogAction(_ context.Context, entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.ActionType
	}
	return out
}

type harness struct {
	ctx         context.Context
	db          *inmem.DB
	deps        *Dependencies
	registry    registry.Repositories
	attachments *attachments.FileStore
	blobs       *blobstore.FileStore
	audit       *recordingAudit
	bus         eventbus.EventBus
	packages    *PackageService
	conflicts   *ConflictService
	engine      *CommitEngine
	actor       Actor
}

func testOptions() configuration.ImportOptions {
	return configuration.ImportOptions{
		MatchFloor:                0.5,
		HighConfidence:            0.9,
		MediumConfidence:          0.7,
		AutoResolveThreshold:      1,
		AutoResolveTypes:          []string{"property_duplicate"},
		AutoResolveAction:         "keep_second",
		MatchWorkers:              4,
		CandidateLimit:            50,
		InvalidRecordPolicy:       configuration.InvalidRecordPolicySkip,
		TargetResolutionHours:     72,
		HighPriorityResolutionHrs: 24,
		StageBatchSize:            2,
		StagingRetention:          720 * time.Hour,
		MaxPackageBytes:           1 << 20,
	}
}

func newHarness(t *testing.T, tune ...func(*configuration.ImportOptions)) *harness {
	t.Helper()
	opts := testOptions()
	for _, fn := range tune {
		fn(&opts)
	}
	db := inmem.NewDB()
	importStore := persistence.NewInmemStore(db)
	registryStore := registrypersistence.NewInmemStore(db)
	repos := registry.Repositories{
		Persons:       registryStore.Persons(),
		PropertyUnits: registryStore.PropertyUnits(),
		Relations:     registryStore.Relations(),
		Claims:        registryStore.Claims(),
		Evidence:      registryStore.Evidence(),
	}
	cas, err := attachments.NewFileStore(t.TempDir())
	require.NoError(t, err)
	blobs, err := blobstore.NewFileStore(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	h := &harness{
		ctx:         context.Background(),
		db:          db,
		registry:    repos,
		attachments: cas,
		blobs:       blobs,
		audit:       &recordingAudit{},
		bus:         eventbus.NewEventPublisher(nil),
		actor:       Actor{UserID: uuid.New()},
	}
	h.deps = &Dependencies{
		Packages:    importStore.Packages(),
		Staging:     importStore.Staging(),
		Conflicts:   importStore.Conflicts(),
		Registry:    repos,
		Transactor:  db,
		Codes:       vocabulary.Default(),
		Attachments: cas,
		Blobs:       blobs,
		Audit:       h.audit,
		Events:      h.bus,
		Options:     opts,
		Clock:       func() time.Time { return testNow },
	}
	validator := NewValidator(h.deps.Codes, repos, h.deps.Clock)
	h.engine = NewCommitEngine(h.deps)
	h.packages = NewPackageService(h.deps, validator, NewDuplicateMatcher(repos, opts, nil), h.engine)
	h.conflicts = NewConflictService(h.deps, validator)
	return h
}

// entity builds a package entity from a payload map.
func entity(t *testing.T, typ, localID string, payload map[string]any) packagecodec.Entity {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return packagecodec.Entity{LocalID: localID, Type: typ, Payload: raw}
}

func personEntity(t *testing.T, localID, nationalID, first, last string) packagecodec.Entity {
	return entity(t, "person", localID, map[string]any{
		"national_id":   nationalID,
		"first_name":    first,
		"last_name":     last,
		"date_of_birth": "1980-05-01",
		"gender":        "male",
		"phone":         "+963 991 234 567",
	})
}

const testBuilding = "01020304050607080"

func unitEntity(t *testing.T, localID, unit string) packagecodec.Entity {
	return entity(t, "property_unit", localID, map[string]any{
		"building_code":   testBuilding,
		"unit_identifier": unit,
		"unit_type":       "apartment",
		"status":          "occupied",
		"floor":           2,
		"area_sqm":        "85.5",
	})
}

func personAggregate(id uuid.UUID, nationalID, first, last string, dob *time.Time) person.Person {
	return person.New(id, person.Details{
		NationalID:  nationalID,
		FirstName:   first,
		LastName:    last,
		DateOfBirth: dob,
	}, uuid.Nil)
}

// propertyUnit builds a production unit in the test building.
func propertyUnit(id uuid.UUID, unit string, area int64) propertyunit.PropertyUnit {
	return propertyunit.New(id, propertyunit.Details{
		BuildingCode:   testBuilding,
		UnitIdentifier: unit,
		UnitType:       "apartment",
		Status:         propertyunit.StatusOccupied,
		AreaSqm:        decimal.NewNullDecimal(decimal.NewFromInt(area)),
	}, uuid.Nil)
}

func buildPackage(t *testing.T, packageID string, entities []packagecodec.Entity, atts ...packagecodec.Attachment) []byte {
	t.Helper()
	env := &packagecodec.Envelope{
		Manifest: packagecodec.Manifest{
			PackageID:     packageID,
			SchemaVersion: "1.2",
			DeviceID:      "tablet-07",
			CollectorID:   "collector-3",
			CreatedAt:     testNow.Add(-24 * time.Hour),
		},
		Entities:    entities,
		Attachments: atts,
	}
	require.NoError(t, packagecodec.Seal(env))
	raw, err := packagecodec.Encode(env, packagecodec.FormatJSON)
	require.NoError(t, err)
	return raw
}

func (h *harness) upload(t *testing.T, raw []byte) importpackage.ImportPackage {
	t.Helper()
	pkg, err := h.packages.Upload(h.ctx, h.actor, raw)
	require.NoError(t, err)
	require.Equal(t, importpackage.StatusStaging, pkg.Status())
	return pkg
}

// prepare uploads, validates and runs duplicate detection.
func (h *harness) prepare(t *testing.T, raw []byte) (importpackage.ImportPackage, DetectResult) {
	t.Helper()
	pkg := h.upload(t, raw)
	_, err := h.packages.Validate(h.ctx, h.actor, pkg.ID())
	require.NoError(t, err)
	res, err := h.packages.DetectDuplicates(h.ctx, h.actor, pkg.ID())
	require.NoError(t, err)
	return res.Package, res
}

func (h *harness) record(t *testing.T, pkgID uuid.UUID, typ stagingrecord.EntityType, localID string) *stagingrecord.StagingRecord {
	t.Helper()
	r, err := h.deps.Staging.GetByID(h.ctx, stagingrecord.IDFor(pkgID, typ, localID))
	require.NoError(t, err)
	return r
}

func (h *harness) captureCommits() *[]*events.PackageCommittedV1 {
	var mu sync.Mutex
	got := &[]*events.PackageCommittedV1{}
	h.bus.Subscribe(func(e *events.PackageCommittedV1) {
		mu.Lock()
		defer mu.Unlock()
		*got = append(*got, e)
	})
	return got
}

func requireServiceError(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr), "expected a ServiceError, got %T: %v", err, err)
	require.Equal(t, status, svcErr.Status, svcErr.Error())
	require.Equal(t, code, svcErr.Code, svcErr.Error())
}
