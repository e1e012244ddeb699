package main

import (
	"context"
	"math/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/internal/server"
	"github.com/iota-uz/field-registry/modules"
	"github.com/iota-uz/field-registry/modules/importing"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
	"github.com/iota-uz/field-registry/modules/logging"
	"github.com/iota-uz/field-registry/modules/registry"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/inmem"
)

func TestPercentiles(t *testing.T) {
	p50, p95, p99 := percentiles(nil)
	require.Zero(t, p50+p95+p99)

	ms := make([]int, 0, 100)
	for i := 100; i >= 1; i-- {
		ms = append(ms, i)
	}
	p50, p95, p99 = percentiles(ms)
	require.Equal(t, 50, p50)
	require.Equal(t, 95, p95)
	require.Equal(t, 99, p99)
	require.Equal(t, 100, ms[0], "input must not be reordered")
}

func TestPickTarget_RespectsWeights(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	targets := []target{{Endpoint: "never", Weight: 0}, {Endpoint: "always", Weight: 5}}
	for i := 0; i < 50; i++ {
		require.Equal(t, "always", pickTarget(r, targets).Endpoint)
	}
}

func TestBuiltinProfile(t *testing.T) {
	for _, name := range []string{"import_smoke", "import_steady", "import_read_heavy"} {
		p, err := builtinProfile(name)
		require.NoError(t, err, name)
		require.Positive(t, p.VUs)
		require.Positive(t, p.PersonsPerPackage)
		require.True(t, p.Targets[0].Pipeline)
	}
	_, err := builtinProfile("nope")
	require.Error(t, err)
}

func TestSyntheticPackage_IsSealed(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, format := range []packagecodec.Format{packagecodec.FormatJSON, packagecodec.FormatCBOR} {
		id, raw, err := syntheticPackage(r, 3, format, time.Now().UTC())
		require.NoError(t, err)
		env, err := packagecodec.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, id, env.Manifest.PackageID)
		require.NoError(t, packagecodec.Verify(env))
		require.Equal(t, 3, env.Manifest.EntityCounts["person"])
	}
	require.Len(t, randomNationalID(r), 11)
}

func TestRunPipeline_CommitsAgainstMemoryServer(t *testing.T) {
	conf := configuration.Use()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	importOpts := conf.Import
	importOpts.IncomingDir = t.TempDir()
	importOpts.ArchiveDir = t.TempDir()
	importOpts.AttachmentsDir = t.TempDir()
	importOpts.SweepInterval = 0

	app := application.New(&application.ApplicationOptions{Memory: inmem.NewDB(), Logger: logger})
	require.NoError(t, modules.Load(app,
		logging.NewModule(),
		registry.NewModule(),
		importing.NewModule(&importing.ModuleOptions{Import: &importOpts}),
	))
	srv, err := server.Default(&server.DefaultOptions{Logger: logger, Configuration: conf, Application: app})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	opts := runOptions{BaseURL: ts.URL, ActorID: uuid.NewString(), UserHeader: conf.UserIDHeader}
	client := newHTTPClient(5*time.Second, 1)
	require.NoError(t, smokeCheck(context.Background(), client, opts))

	st := newStats()
	r := rand.New(rand.NewSource(7))
	runPipeline(context.Background(), client, opts, r, 4, packagecodec.FormatCBOR, st)

	uploaded, committed, blocked := st.packageCounts()
	require.Equal(t, 1, uploaded)
	require.Equal(t, 1, committed)
	require.Zero(t, blocked)
	for _, res := range st.results() {
		require.Zero(t, res.Errors, res.Endpoint)
	}
}
