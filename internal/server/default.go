package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/constants"
	"github.com/iota-uz/field-registry/pkg/httpapi"
	"github.com/iota-uz/field-registry/pkg/metrics"
	"github.com/iota-uz/field-registry/pkg/middleware"
	"github.com/iota-uz/field-registry/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
	Pool          *pgxpool.Pool
	// HTTPMetrics is optional; when set every routed request is counted.
	HTTPMetrics *metrics.HTTPMetrics
}

func Default(options *DefaultOptions) (*server.HTTPServer, error) {
	app := options.Application
	conf := options.Configuration

	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, middleware.DefaultLoggerOptions()),
		middleware.TracedMiddleware("database"),
		middleware.Provide(constants.AppKey, app),
		middleware.Provide(constants.PoolKey, options.Pool),
		middleware.TracedMiddleware("actor"),
		middleware.ProvideActor(conf.UserIDHeader),

		middleware.TracedMiddleware("cors"),
		middleware.Cors(conf.CorsAllowedOrigins...),
	}

	if conf.RateLimit.Enabled {
		var store limiter.Store
		var err error

		switch conf.RateLimit.Storage {
		case "redis":
			store, err = middleware.NewRedisStore(conf.RateLimit.RedisURL)
			if err != nil {
				options.Logger.WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
				store = middleware.NewMemoryStore()
			}
		default:
			store = middleware.NewMemoryStore()
		}

		middlewares = append(middlewares,
			middleware.TracedMiddleware("rateLimit"),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerPeriod: conf.RateLimit.GlobalRPS,
				Store:             store,
				RequestIDHeader:   conf.RequestIDHeader,
			}),
		)
	}

	middlewares = append(middlewares,
		middleware.TracedMiddleware("requestParams"),
		middleware.RequestParams(),
	)
	if options.HTTPMetrics != nil {
		middlewares = append(middlewares, options.HTTPMetrics.Middleware())
	}
	srv := server.NewHTTPServer(app, NotFound(conf), MethodNotAllowed(conf))
	// Module middleware runs inside the defaults so it sees the actor and pool.
	srv.Middlewares = append(middlewares, app.Middleware()...)
	return srv, nil
}

func NotFound(conf *configuration.Configuration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httpapi.WriteError(w, http.StatusNotFound, "NOT_FOUND", "route not found", map[string]string{
			"request_id": httpapi.EnsureRequestID(r, conf.RequestIDHeader),
			"path":       r.URL.Path,
		})
	})
}

func MethodNotAllowed(conf *configuration.Configuration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httpapi.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", map[string]string{
			"request_id": httpapi.EnsureRequestID(r, conf.RequestIDHeader),
			"path":       r.URL.Path,
		})
	})
}
