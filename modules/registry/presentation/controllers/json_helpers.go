package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/httpapi"
	"github.com/iota-uz/field-registry/pkg/repo"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		panic(err)
	}
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	requestID := httpapi.EnsureRequestID(r, configuration.Use().RequestIDHeader)
	w.Header().Set(configuration.Use().RequestIDHeader, requestID)
	_ = httpapi.WriteError(w, status, code, message, map[string]string{"request_id": requestID})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	return id, err == nil
}

// pageParams reads page/page_size with the configured defaults.
func pageParams(r *http.Request) (int, int) {
	conf := configuration.Use()
	page, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("page")))
	size, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("page_size")))
	return repo.Page(page, size, conf.PageSize, conf.MaxPageSize)
}
