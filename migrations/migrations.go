// Package migrations embeds the schema and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Manager applies the embedded migrations to one database.
type Manager struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

// NewManager opens the database behind dsn. postgres:// and postgresql://
// DSNs are rewritten to the pgx5 driver scheme.
func NewManager(dsn string, logger *slog.Logger) (*Manager, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, DriverURL(dsn))
	if err != nil {
		return nil, fmt.Errorf("migrations: open database: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{m: m, logger: logger}, nil
}

// DriverURL maps a libpq-style URL onto the pgx5 scheme.
func DriverURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// Up applies every pending migration. No pending work is not an error.
func (mg *Manager) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	mg.logVersion("migrations applied")
	return nil
}

// Down rolls back the given number of steps.
func (mg *Manager) Down(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	if err := mg.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: down: %w", err)
	}
	mg.logVersion("migrations rolled back")
	return nil
}

// Version reports the current schema version; 0 means nothing applied.
func (mg *Manager) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close releases the source and database handles.
func (mg *Manager) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

func (mg *Manager) logVersion(msg string) {
	v, dirty, err := mg.Version()
	if err != nil {
		mg.logger.Warn("read migration version", slog.Any("error", err))
		return
	}
	mg.logger.Info(msg, slog.Uint64("version", uint64(v)), slog.Bool("dirty", dirty))
}
