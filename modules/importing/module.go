package importing

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/modules/importing/handlers"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/attachments"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/audit"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/blobstore"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/persistence"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/vocabulary"
	"github.com/iota-uz/field-registry/modules/importing/presentation/controllers"
	"github.com/iota-uz/field-registry/modules/importing/services"
	logging "github.com/iota-uz/field-registry/modules/logging/services"
	"github.com/iota-uz/field-registry/modules/registry"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/configuration"
)

type ModuleOptions struct {
	// Import overrides configuration.Use().Import when set.
	Import *configuration.ImportOptions
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

// Dependencies assembles the pipeline dependencies for app. The logging
// module must be registered first: its action log is the audit sink.
func Dependencies(app application.Application, opts configuration.ImportOptions) (*services.Dependencies, error) {
	log := logrus.NewEntry(app.Logger()).WithField("module", "importing")

	codes, err := vocabulary.Load(opts.VocabularyPath)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	cas, err := attachments.NewFileStore(opts.AttachmentsDir, attachments.WithLogger(log))
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.NewFileStore(opts.IncomingDir, opts.ArchiveDir)
	if err != nil {
		return nil, err
	}
	logs := app.Service(logging.LogsService{}).(*logging.LogsService)

	deps := &services.Dependencies{
		Registry:    registry.Repositories(app),
		Transactor:  app.Transactor(),
		Codes:       codes,
		Attachments: cas,
		Blobs:       blobs,
		Audit:       audit.NewActionLogSink(logs),
		Events:      app.EventPublisher(),
		Options:     opts,
		Logger:      log,
	}
	if app.DB() == nil && app.Memory() != nil {
		store := persistence.NewInmemStore(app.Memory())
		deps.Packages, deps.Staging, deps.Conflicts = store.Packages(), store.Staging(), store.Conflicts()
	} else {
		deps.Packages = persistence.NewImportPackageRepository()
		deps.Staging = persistence.NewStagingRecordRepository()
		deps.Conflicts = persistence.NewConflictRepository()
	}
	return deps, nil
}

func (m *Module) Register(app application.Application) error {
	opts := configuration.Use().Import
	if m.options.Import != nil {
		opts = *m.options.Import
	}
	deps, err := Dependencies(app, opts)
	if err != nil {
		return err
	}
	validator := services.NewValidator(deps.Codes, deps.Registry, nil)
	matcher := services.NewDuplicateMatcher(deps.Registry, opts, deps.Logger)
	packages := services.NewPackageService(deps, validator, matcher, services.NewCommitEngine(deps))
	conflicts := services.NewConflictService(deps, validator)

	app.RegisterServices(
		packages,
		conflicts,
		services.NewSweeper(packages, conflicts, opts.SweepInterval),
	)
	app.RegisterControllers(
		controllers.NewImportAPIController(app, opts.MaxPackageBytes),
	)
	handlers.RegisterPackageEventHandlers(app)
	return nil
}

func (m *Module) Name() string {
	return "importing"
}
