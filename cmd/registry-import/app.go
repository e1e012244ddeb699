package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/field-registry/migrations"
	"github.com/iota-uz/field-registry/modules"
	"github.com/iota-uz/field-registry/modules/importing/services"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/configuration"
	"github.com/iota-uz/field-registry/pkg/eventbus"
)

type session struct {
	ctx      context.Context
	app      application.Application
	packages *services.PackageService
	pool     *pgxpool.Pool
}

func (s *session) Close() {
	s.pool.Close()
}

func connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, configuration.Use().Database.Opts)
	if err != nil {
		return nil, withCode(exitDB, fmt.Errorf("db connect failed: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, withCode(exitDB, fmt.Errorf("db ping failed: %w", err))
	}
	return pool, nil
}

func openSession(ctx context.Context) (*session, error) {
	conf := configuration.Use()
	logger := conf.Logger()
	pool, err := connectDB(ctx)
	if err != nil {
		return nil, err
	}
	app := application.New(&application.ApplicationOptions{
		Pool:       pool,
		EventBus:   eventbus.NewEventPublisher(logger),
		Logger:     logger,
		Migrations: application.NewMigrationManager(conf.Database.Opts, migrations.FS, ".", logger),
	})
	if err := modules.Load(app, modules.BuiltInModules...); err != nil {
		pool.Close()
		return nil, fmt.Errorf("load modules: %w", err)
	}
	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithLogger(ctx, logger.WithField("component", "registry-import"))
	return &session{
		ctx:      ctx,
		app:      app,
		packages: app.Service(services.PackageService{}).(*services.PackageService),
		pool:     pool,
	}, nil
}

func parseActor(raw string) (services.Actor, error) {
	if raw == "" {
		return services.Actor{}, withCode(exitUsage, fmt.Errorf("--actor is required"))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return services.Actor{}, withCode(exitUsage, fmt.Errorf("invalid --actor: %w", err))
	}
	return services.Actor{UserID: id}, nil
}

func parsePackageID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, withCode(exitUsage, fmt.Errorf("invalid package id %q: %w", raw, err))
	}
	return id, nil
}
