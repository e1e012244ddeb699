package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/modules/registry/domain/entities/claim"
	"github.com/iota-uz/field-registry/modules/registry/infrastructure/persistence"
	"github.com/iota-uz/field-registry/modules/registry/services"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

func newTestRouter(t *testing.T) (*mux.Router, services.Repositories) {
	t.Helper()
	store := persistence.NewInmemStore(inmem.NewDB())
	repos := services.Repositories{
		Persons:       store.Persons(),
		PropertyUnits: store.PropertyUnits(),
		Relations:     store.Relations(),
		Claims:        store.Claims(),
		Evidence:      store.Evidence(),
	}
	c := &RegistryAPIController{registry: services.NewRegistryService(repos), basePath: "/registry/api"}
	r := mux.NewRouter()
	c.Register(r)
	return r, repos
}

func withActor(req *http.Request) *http.Request {
	return req.WithContext(composables.WithActorID(req.Context(), uuid.New()))
}

func TestRegistryAPI_RequiresActor(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/registry/api/persons", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegistryAPI_ListPersons(t *testing.T) {
	r, repos := newTestRouter(t)
	ctx := context.Background()
	_, err := repos.Persons.Create(ctx, person.New(uuid.New(), person.Details{FirstName: "Rana", LastName: "Haddad"}, uuid.Nil))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, withActor(httptest.NewRequest(http.MethodGet, "/registry/api/persons?q=hadd", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []map[string]any `json:"items"`
		Total int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 1, body.Total)
	require.Equal(t, "Haddad", body.Items[0]["last_name"])
}

func TestRegistryAPI_GetPropertyUnit(t *testing.T) {
	r, repos := newTestRouter(t)
	ctx := context.Background()
	p, err := repos.Persons.Create(ctx, person.New(uuid.New(), person.Details{FirstName: "Rana", LastName: "Haddad"}, uuid.Nil))
	require.NoError(t, err)
	u, err := repos.PropertyUnits.Create(ctx, propertyunit.New(uuid.New(), propertyunit.Details{
		BuildingCode:   "01020304050607080",
		UnitIdentifier: "2A",
		UnitType:       "apartment",
	}, uuid.Nil))
	require.NoError(t, err)
	require.NoError(t, repos.Claims.Create(ctx, claim.New(uuid.New(), "CLM-2026-0000AAAA", p.ID(), u.ID(), claim.TypeOwnership, decimal.NewFromInt(100))))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, withActor(httptest.NewRequest(http.MethodGet, "/registry/api/property-units/"+u.ID().String(), nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Unit   map[string]any   `json:"unit"`
		Claims []map[string]any `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "2A", body.Unit["unit_identifier"])
	require.Len(t, body.Claims, 1)
	require.Equal(t, "100", body.Claims[0]["share"])
}

func TestRegistryAPI_UnknownPerson(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, withActor(httptest.NewRequest(http.MethodGet, "/registry/api/persons/"+uuid.NewString(), nil)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
