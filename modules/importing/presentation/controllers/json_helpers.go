package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/field-registry/modules/importing/services"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/constants"
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

// writeServiceError renders err with the status and code the service chose.
// Anything else is logged and reported as an internal error.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.Status >= http.StatusInternalServerError {
			composables.UseLogger(r.Context()).WithError(err).Error(op)
		}
		writeAPIError(w, r, svcErr.Status, svcErr.Code, svcErr.Message)
		return
	}
	composables.UseLogger(r.Context()).WithError(err).Error(op)
	writeAPIError(w, r, http.StatusInternalServerError, services.CodeInternal, "internal error")
}

// decodeBody decodes and validates an optional JSON body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if err := httpapi.DecodeJSON(r, dst); err != nil {
		if !(optional && errors.Is(err, httpapi.ErrEmptyBody)) {
			writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid request body: "+err.Error())
			return false
		}
	}
	if err := constants.Validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeAPIError(w, r, http.StatusUnprocessableEntity, services.CodeInvalidRequest,
				strings.ToLower(fe.Field())+": failed "+fe.Tag())
			return false
		}
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, err.Error())
		return false
	}
	return true
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	return id, err == nil
}

func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// parseDay parses a YYYY-MM-DD query value; endOfDay moves it to the last
// instant of that day.
func parseDay(v string, endOfDay bool) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// pageParams reads page/page_size with the configured defaults.
func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("page")))
	size, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("page_size")))
	return pageOf(page, size)
}

func pageOf(page, size int) (int, int) {
	conf := configuration.Use()
	return repo.Page(page, size, conf.PageSize, conf.MaxPageSize)
}
