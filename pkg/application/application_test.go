package application

import (
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

type stubService struct{ name string }

type stubController struct{ key string }

func (c *stubController) Register(r *mux.Router) {}
func (c *stubController) Key() string            { return c.key }

func TestApplication_ServiceRegistry(t *testing.T) {
	app := New(&ApplicationOptions{})
	svc := &stubService{name: "packages"}
	app.RegisterServices(svc)

	got := app.Service(stubService{}).(*stubService)
	require.Same(t, svc, got)
	require.Panics(t, func() { app.Service(stubController{}) })
}

func TestApplication_ControllersKeepRegistrationOrder(t *testing.T) {
	app := New(&ApplicationOptions{})
	app.RegisterControllers(&stubController{key: "/b"}, &stubController{key: "/a"})
	app.RegisterControllers(&stubController{key: "/b"})

	keys := []string{}
	for _, c := range app.Controllers() {
		keys = append(keys, c.Key())
	}
	require.Equal(t, []string{"/b", "/a"}, keys)
}

func TestApplication_TransactorFollowsStorage(t *testing.T) {
	db := inmem.NewDB()
	app := New(&ApplicationOptions{Memory: db})
	require.Same(t, db, app.Transactor())

	app = New(&ApplicationOptions{})
	require.IsType(t, composables.PgTransactor{}, app.Transactor())
}
