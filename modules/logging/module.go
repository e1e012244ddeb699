package logging

import (
	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
	"github.com/iota-uz/field-registry/modules/logging/handlers"
	"github.com/iota-uz/field-registry/modules/logging/infrastructure/persistence"
	"github.com/iota-uz/field-registry/modules/logging/presentation/controllers"
	"github.com/iota-uz/field-registry/modules/logging/services"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/configuration"
)

func NewModule() application.Module {
	return &Module{}
}

type Module struct {
}

func (m *Module) Register(app application.Application) error {
	var repo actionlog.Repository = persistence.NewActionLogRepository()
	if app.DB() == nil && app.Memory() != nil {
		repo = persistence.NewInmemActionLogRepository(app.Memory())
	}
	logs := services.NewLogsService(repo, configuration.Use().ActionLogEnabled)
	app.RegisterServices(logs)
	app.RegisterControllers(
		controllers.NewLogsController(app),
	)
	app.RegisterMiddleware(handlers.ActionLogMiddleware(logs))
	return nil
}

func (m *Module) Name() string {
	return "logging"
}
