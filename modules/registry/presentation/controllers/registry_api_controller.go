package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/person"
	"github.com/iota-uz/field-registry/modules/registry/domain/aggregates/propertyunit"
	"github.com/iota-uz/field-registry/modules/registry/presentation/mappers"
	"github.com/iota-uz/field-registry/modules/registry/services"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/httpapi"
	"github.com/iota-uz/field-registry/pkg/middleware"
)

type RegistryAPIController struct {
	registry *services.RegistryService
	basePath string
}

func NewRegistryAPIController(app application.Application) application.Controller {
	return &RegistryAPIController{
		registry: app.Service(services.RegistryService{}).(*services.RegistryService),
		basePath: "/registry/api",
	}
}

func (c *RegistryAPIController) Key() string {
	return c.basePath
}

func (c *RegistryAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.WithReadTransaction())
	router.HandleFunc("/persons", c.ListPersons).Methods(http.MethodGet)
	router.HandleFunc("/persons/{id}", c.GetPerson).Methods(http.MethodGet)
	router.HandleFunc("/property-units", c.ListPropertyUnits).Methods(http.MethodGet)
	router.HandleFunc("/property-units/{id}", c.GetPropertyUnit).Methods(http.MethodGet)
}

func (c *RegistryAPIController) requireActor(w http.ResponseWriter, r *http.Request) bool {
	if _, err := composables.UseActorID(r.Context()); err != nil {
		writeAPIError(w, r, http.StatusUnauthorized, "REGISTRY_UNAUTHENTICATED", "missing user id")
		return false
	}
	return true
}

func (c *RegistryAPIController) ListPersons(w http.ResponseWriter, r *http.Request) {
	if !c.requireActor(w, r) {
		return
	}
	limit, offset := pageParams(r)
	items, total, err := c.registry.GetPersons(r.Context(), &person.FindParams{
		Q:      r.URL.Query().Get("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("list persons")
		writeAPIError(w, r, http.StatusInternalServerError, "REGISTRY_INTERNAL", "internal error")
		return
	}
	out := make([]mappers.PersonDTO, 0, len(items))
	for _, p := range items {
		out = append(out, mappers.PersonToDTO(p))
	}
	writeJSON(w, http.StatusOK, httpapi.ListEnvelope[mappers.PersonDTO]{Items: out, Total: total})
}

func (c *RegistryAPIController) GetPerson(w http.ResponseWriter, r *http.Request) {
	if !c.requireActor(w, r) {
		return
	}
	id, ok := pathUUID(r, "id")
	if !ok {
		writeAPIError(w, r, http.StatusBadRequest, "REGISTRY_INVALID_ID", "invalid id")
		return
	}
	p, err := c.registry.GetPerson(r.Context(), id)
	if err != nil {
		if errors.Is(err, person.ErrNotFound) {
			writeAPIError(w, r, http.StatusNotFound, "REGISTRY_PERSON_NOT_FOUND", "person not found")
			return
		}
		composables.UseLogger(r.Context()).WithError(err).Error("get person")
		writeAPIError(w, r, http.StatusInternalServerError, "REGISTRY_INTERNAL", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, mappers.PersonToDTO(p))
}

func (c *RegistryAPIController) ListPropertyUnits(w http.ResponseWriter, r *http.Request) {
	if !c.requireActor(w, r) {
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("building_code"))
	if code != "" && !propertyunit.ValidBuildingCode(code) {
		writeAPIError(w, r, http.StatusBadRequest, "REGISTRY_INVALID_BUILDING_CODE", "building code must be 17 digits")
		return
	}
	limit, offset := pageParams(r)
	items, total, err := c.registry.GetPropertyUnits(r.Context(), &propertyunit.FindParams{
		BuildingCode: code,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("list property units")
		writeAPIError(w, r, http.StatusInternalServerError, "REGISTRY_INTERNAL", "internal error")
		return
	}
	out := make([]mappers.PropertyUnitDTO, 0, len(items))
	for _, u := range items {
		out = append(out, mappers.PropertyUnitToDTO(u))
	}
	writeJSON(w, http.StatusOK, httpapi.ListEnvelope[mappers.PropertyUnitDTO]{Items: out, Total: total})
}

func (c *RegistryAPIController) GetPropertyUnit(w http.ResponseWriter, r *http.Request) {
	if !c.requireActor(w, r) {
		return
	}
	id, ok := pathUUID(r, "id")
	if !ok {
		writeAPIError(w, r, http.StatusBadRequest, "REGISTRY_INVALID_ID", "invalid id")
		return
	}
	dossier, err := c.registry.GetUnitDossier(r.Context(), id)
	if err != nil {
		if errors.Is(err, propertyunit.ErrNotFound) {
			writeAPIError(w, r, http.StatusNotFound, "REGISTRY_UNIT_NOT_FOUND", "property unit not found")
			return
		}
		composables.UseLogger(r.Context()).WithError(err).Error("get property unit")
		writeAPIError(w, r, http.StatusInternalServerError, "REGISTRY_INTERNAL", "internal error")
		return
	}
	relations := make([]mappers.RelationDTO, 0, len(dossier.Relations))
	for _, rel := range dossier.Relations {
		relations = append(relations, mappers.RelationToDTO(rel))
	}
	claims := make([]mappers.ClaimDTO, 0, len(dossier.Claims))
	for _, cl := range dossier.Claims {
		claims = append(claims, mappers.ClaimToDTO(cl, dossier.Evidence[cl.ID]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unit":      mappers.PropertyUnitToDTO(dossier.Unit),
		"relations": relations,
		"claims":    claims,
	})
}
