package modules

import (
	"github.com/iota-uz/field-registry/modules/importing"
	"github.com/iota-uz/field-registry/modules/logging"
	"github.com/iota-uz/field-registry/modules/registry"
	"github.com/iota-uz/field-registry/pkg/application"
)

// BuiltInModules in registration order: importing depends on services
// registered by logging and on the registry repositories.
var BuiltInModules = []application.Module{
	logging.NewModule(),
	registry.NewModule(),
	importing.NewModule(nil),
}

func Load(app application.Application, externalModules ...application.Module) error {
	for _, module := range externalModules {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
