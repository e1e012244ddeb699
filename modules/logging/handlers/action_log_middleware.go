package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/iota-uz/field-registry/modules/logging/domain/entities/actionlog"
	"github.com/iota-uz/field-registry/modules/logging/services"
	"github.com/iota-uz/field-registry/pkg/composables"
)

// ActionRejectedType marks mutating requests that the API refused.
const ActionRejectedType = "http.rejected"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ActionLogMiddleware records refused mutating requests made by an identified
// user. Accepted operations are audited by the services that perform them.
// Logging is best effort and never changes the response.
func ActionLogMiddleware(logs *services.LogsService) mux.MiddlewareFunc {
	if !logs.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				return
			}
			if rec.status < http.StatusBadRequest {
				return
			}
			actor, err := composables.UseActorID(r.Context())
			if err != nil {
				return
			}

			payload, _ := json.Marshal(map[string]any{"status": rec.status})
			entry := &actionlog.ActionLog{
				ActionType:  ActionRejectedType,
				Description: fmt.Sprintf("%s %s", strings.ToUpper(r.Method), r.URL.Path),
				EntityType:  "http_request",
				NewValues:   payload,
				UserID:      &actor,
				UserAgent:   r.UserAgent(),
				IP:          r.RemoteAddr,
				CreatedAt:   time.Now(),
			}
			if err := logs.CreateActionLog(r.Context(), entry); err != nil {
				composables.UseLogger(r.Context()).WithError(err).Warn("action-log: failed to persist rejected request")
			}
		})
	}
}
