package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iota-uz/field-registry/modules/logging/presentation/mappers"
	"github.com/iota-uz/field-registry/modules/logging/services"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/httpapi"
	"github.com/iota-uz/field-registry/pkg/middleware"
	"github.com/iota-uz/field-registry/pkg/repo"
)

type LogsController struct {
	logsService *services.LogsService
	basePath    string
}

func NewLogsController(app application.Application) application.Controller {
	return &LogsController{
		logsService: app.Service(services.LogsService{}).(*services.LogsService),
		basePath:    "/logging/api",
	}
}

func (c *LogsController) Key() string {
	return c.basePath
}

func (c *LogsController) Register(r *mux.Router) {
	sub := r.PathPrefix(c.basePath).Subrouter()
	sub.Use(middleware.WithReadTransaction())
	sub.HandleFunc("/actions", c.List).Methods(http.MethodGet)
}

func (c *LogsController) fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	_ = httpapi.WriteError(w, status, code, message, map[string]string{
		"request_id": httpapi.EnsureRequestID(r, configuration.Use().RequestIDHeader),
	})
}

// List serves the audit trail, newest first.
func (c *LogsController) List(w http.ResponseWriter, r *http.Request) {
	if _, err := composables.UseActorID(r.Context()); err != nil {
		c.fail(w, r, http.StatusUnauthorized, "LOGGING_UNAUTHENTICATED", "missing user id")
		return
	}

	query, err := composables.UseQuery(&mappers.ActionLogQuery{}, r)
	if err != nil {
		c.fail(w, r, http.StatusBadRequest, "LOGGING_INVALID_FILTER", err.Error())
		return
	}
	conf := configuration.Use()
	limit, offset := repo.Page(query.Page, query.PageSize, conf.PageSize, conf.MaxPageSize)
	params, err := query.FindParams(limit, offset)
	if err != nil {
		c.fail(w, r, http.StatusBadRequest, "LOGGING_INVALID_FILTER", err.Error())
		return
	}

	logs, total, err := c.logsService.ListActionLogs(r.Context(), params)
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("list action logs")
		c.fail(w, r, http.StatusInternalServerError, "LOGGING_INTERNAL", "internal error")
		return
	}
	items := make([]mappers.ActionLogDTO, 0, len(logs))
	for _, l := range logs {
		items = append(items, mappers.ActionLogToDTO(l))
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, httpapi.ListEnvelope[mappers.ActionLogDTO]{Items: items, Total: total})
}
