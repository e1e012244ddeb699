package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules"
	"github.com/iota-uz/field-registry/modules/importing"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
	"github.com/iota-uz/field-registry/modules/logging"
	"github.com/iota-uz/field-registry/modules/registry"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/httpapi"
	"github.com/iota-uz/field-registry/pkg/inmem"
	pkgserver "github.com/iota-uz/field-registry/pkg/server"
)

func buildMemoryServer(t *testing.T) *pkgserver.HTTPServer {
	t.Helper()

	conf := configuration.Use()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	opts := conf.Import
	opts.IncomingDir = t.TempDir()
	opts.ArchiveDir = t.TempDir()
	opts.AttachmentsDir = t.TempDir()
	opts.SweepInterval = 0

	app := application.New(&application.ApplicationOptions{
		Memory: inmem.NewDB(),
		Logger: logger,
	})
	require.NoError(t, modules.Load(app,
		logging.NewModule(),
		registry.NewModule(),
		importing.NewModule(&importing.ModuleOptions{Import: &opts}),
	))

	srv, err := Default(&DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
	})
	require.NoError(t, err)
	return srv
}

func collectRoutePaths(t *testing.T, router *mux.Router) []string {
	t.Helper()

	var paths []string
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		p, err := route.GetPathTemplate()
		if err != nil || strings.TrimSpace(p) == "" {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(paths)
	return paths
}

func TestDefault_RoutesStayUnderModulePrefixes(t *testing.T) {
	router := buildMemoryServer(t).Router()
	prefixes := []string{"/import/api", "/registry/api", "/logging/api"}

	var offending []string
	for _, p := range collectRoutePaths(t, router) {
		ok := false
		for _, prefix := range prefixes {
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				ok = true
				break
			}
		}
		if !ok {
			offending = append(offending, p)
		}
	}
	require.Empty(t, offending, "routes outside module prefixes")
}

func TestDefault_ErrorsAreJSON(t *testing.T) {
	router := buildMemoryServer(t).Router()

	t.Run("404", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "http://example.com/import/api/__nonexistent__", nil)
		req.Header.Set("X-Request-ID", "req-404")
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusNotFound, rr.Code)
		require.Contains(t, rr.Header().Get("Content-Type"), "application/json")
		var payload httpapi.ErrorEnvelope
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&payload))
		require.Equal(t, "NOT_FOUND", payload.Code)
		require.Equal(t, "req-404", payload.Meta["request_id"])
		require.Equal(t, "/import/api/__nonexistent__", payload.Meta["path"])
	})

	t.Run("405", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodDelete, "http://example.com/import/api/packages", nil)
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		require.Contains(t, rr.Header().Get("Content-Type"), "application/json")
		var payload httpapi.ErrorEnvelope
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&payload))
		require.Equal(t, "METHOD_NOT_ALLOWED", payload.Code)
		require.NotEmpty(t, payload.Meta["request_id"])
	})
}

func TestDefault_UploadUsesActorHeader(t *testing.T) {
	router := buildMemoryServer(t).Router()
	conf := configuration.Use()

	payload, err := json.Marshal(map[string]any{
		"national_id":   "12345678901",
		"first_name":    "Lina",
		"last_name":     "Saleh",
		"date_of_birth": "1985-02-11",
		"gender":        "female",
	})
	require.NoError(t, err)
	env := &packagecodec.Envelope{
		Manifest: packagecodec.Manifest{
			PackageID:     "PKG-SRV-1",
			SchemaVersion: "1.2",
			DeviceID:      "tablet-01",
			CreatedAt:     time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		},
		Entities: []packagecodec.Entity{{LocalID: "p-1", Type: "person", Payload: payload}},
	}
	require.NoError(t, packagecodec.Seal(env))
	raw, err := packagecodec.Encode(env, packagecodec.FormatCBOR)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "http://example.com/import/api/packages", bytes.NewReader(raw))
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "http://example.com/import/api/packages", bytes.NewReader(raw))
	req.Header.Set(conf.UserIDHeader, uuid.NewString())
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "staging", body.Status)
}
