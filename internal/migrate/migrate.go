// Package migrate applies the embedded journal schema.
package migrate

import (
	"context"
	"embed"
	"sort"
	"strings"

	"github.com/example/shift-scheduler/internal/db"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/logger"
)

//go:embed *.sql
var files embed.FS

// Execer is the part of *db.DB migrations need.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) db.Row
}

// Pending lists the embedded migration files in apply order.
func Pending() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, errors.Wrap(err, "list migrations")
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Up applies every migration not yet recorded in schema_migrations and
// returns the names it applied.
func Up(ctx context.Context, d Execer) ([]string, error) {
	names, err := Pending()
	if err != nil {
		return nil, err
	}

	if err := d.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return nil, errors.Wrap(err, "create schema_migrations")
	}

	var applied []string
	for _, f := range names {
		var done bool
		if err := d.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, f).Scan(&done); err != nil {
			return applied, errors.Wrapf(err, "check %s", f)
		}
		if done {
			continue
		}

		b, err := files.ReadFile(f)
		if err != nil {
			return applied, errors.Wrapf(err, "read %s", f)
		}
		if err := d.Exec(ctx, string(b)); err != nil {
			return applied, errors.Wrapf(err, "apply %s", f)
		}
		if err := d.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, f); err != nil {
			return applied, errors.Wrapf(err, "record %s", f)
		}
		logger.Logger.Infow("migration applied", "version", f)
		applied = append(applied, f)
	}
	return applied, nil
}
