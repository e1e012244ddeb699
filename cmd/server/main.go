package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/internal/server"
	"github.com/iota-uz/field-registry/migrations"
	"github.com/iota-uz/field-registry/modules"
	"github.com/iota-uz/field-registry/modules/importing/services"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/eventbus"
	"github.com/iota-uz/field-registry/pkg/logging"
	"github.com/iota-uz/field-registry/pkg/metrics"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	// Set up OpenTelemetry if enabled
	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(
			context.Background(),
			conf.OpenTelemetry.ServiceName,
			conf.OpenTelemetry.TempoURL,
		)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	migrationManager := application.NewMigrationManager(conf.Database.Opts, migrations.FS, ".", logger)
	if err := migrationManager.Up(context.Background()); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	app := application.New(&application.ApplicationOptions{
		Pool:       pool,
		EventBus:   eventbus.NewEventPublisher(logger),
		Logger:     logger,
		Migrations: migrationManager,
	})
	if err := modules.Load(app, modules.BuiltInModules...); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}
	var httpMetrics *metrics.HTTPMetrics
	if conf.Prometheus.Enabled {
		httpMetrics = metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startSweeper(runCtx, app, pool, logger)

	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
		HTTPMetrics:   httpMetrics,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	log.Printf("Listening on: %s\n", conf.Origin)
	if err := serverInstance.Serve(runCtx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

// startSweeper refreshes overdue conflicts and purges expired staging data in
// the background until ctx is cancelled.
func startSweeper(ctx context.Context, app application.Application, pool *pgxpool.Pool, logger *logrus.Logger) {
	sweeper := app.Service(services.Sweeper{}).(*services.Sweeper)
	sweepCtx := composables.WithPool(ctx, pool)
	sweepCtx = composables.WithLogger(sweepCtx, logger.WithField("component", "sweeper"))
	go func() {
		if err := sweeper.Run(sweepCtx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("sweeper stopped")
		}
	}()
}
