package application

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

type MigrationManager interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Status(ctx context.Context) error
}

type gooseMigrations struct {
	dsn    string
	fsys   fs.FS
	dir    string
	logger *logrus.Logger
}

// NewMigrationManager runs the goose migrations found in dir of fsys against dsn.
func NewMigrationManager(dsn string, fsys fs.FS, dir string, logger *logrus.Logger) MigrationManager {
	if dir == "" {
		dir = "."
	}
	return &gooseMigrations{dsn: dsn, fsys: fsys, dir: dir, logger: logger}
}

func (m *gooseMigrations) open() (*sql.DB, error) {
	goose.SetBaseFS(m.fsys)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	if m.logger != nil {
		goose.SetLogger(m.logger)
	}
	db, err := goose.OpenDBWithDriver("postgres", m.dsn)
	if err != nil {
		return nil, fmt.Errorf("open migrations db: %w", err)
	}
	return db, nil
}

func (m *gooseMigrations) Up(ctx context.Context) error {
	db, err := m.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.UpContext(ctx, db, m.dir)
}

func (m *gooseMigrations) Down(ctx context.Context) error {
	db, err := m.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.DownContext(ctx, db, m.dir)
}

func (m *gooseMigrations) Status(ctx context.Context) error {
	db, err := m.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.StatusContext(ctx, db, m.dir)
}
