package registry

import (
	"github.com/iota-uz/field-registry/modules/registry/infrastructure/persistence"
	"github.com/iota-uz/field-registry/modules/registry/presentation/controllers"
	"github.com/iota-uz/field-registry/modules/registry/services"
	"github.com/iota-uz/field-registry/pkg/application"
)

func NewModule() application.Module {
	return &Module{}
}

type Module struct{}

// Repositories picks the Postgres or in-memory production store for app.
func Repositories(app application.Application) services.Repositories {
	if app.DB() == nil && app.Memory() != nil {
		store := persistence.NewInmemStore(app.Memory())
		return services.Repositories{
			Persons:       store.Persons(),
			PropertyUnits: store.PropertyUnits(),
			Relations:     store.Relations(),
			Claims:        store.Claims(),
			Evidence:      store.Evidence(),
		}
	}
	return services.Repositories{
		Persons:       persistence.NewPersonRepository(),
		PropertyUnits: persistence.NewPropertyUnitRepository(),
		Relations:     persistence.NewRelationRepository(),
		Claims:        persistence.NewClaimRepository(),
		Evidence:      persistence.NewEvidenceRepository(),
	}
}

func (m *Module) Register(app application.Application) error {
	app.RegisterServices(services.NewRegistryService(Repositories(app)))
	app.RegisterControllers(controllers.NewRegistryAPIController(app))
	return nil
}

func (m *Module) Name() string {
	return "registry"
}
