package middleware

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/httpapi"
)

// WithReadTransaction runs the handler inside a read-only repeatable read
// transaction so list pages and their totals see one snapshot.
func WithReadTransaction() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pool, err := composables.UsePool(r.Context())
			if err != nil {
				// In-memory deployments run without a pool.
				next.ServeHTTP(w, r)
				return
			}
			tx, err := pool.BeginTx(r.Context(), pgx.TxOptions{
				IsoLevel:   pgx.RepeatableRead,
				AccessMode: pgx.ReadOnly,
			})
			if err != nil {
				_ = httpapi.WriteError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "database unavailable", nil)
				return
			}
			defer func() {
				if err := tx.Rollback(r.Context()); err != nil {
					if errors.Is(err, pgx.ErrTxClosed) {
						return
					}
					composables.UseLogger(r.Context()).WithError(err).Error("failed to rollback read transaction")
				}
			}()
			next.ServeHTTP(w, r.WithContext(composables.WithTx(r.Context(), tx)))
		})
	}
}
