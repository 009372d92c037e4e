// Package migrate applies the embedded SQL migrations and keeps the
// append-only migrations ledger.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedded embed.FS

// ErrUnknownMigration is returned by Rollback for a name with no down script.
var ErrUnknownMigration = errors.New("unknown migration")

// ErrNotApplied is returned by Rollback when the ledger has no such entry.
var ErrNotApplied = errors.New("migration not applied")

const ledgerDDL = `CREATE TABLE IF NOT EXISTS migrations (
    id SERIAL PRIMARY KEY,
    name VARCHAR(255) UNIQUE NOT NULL,
    executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// Migration is one named schema change.
type Migration struct {
	Name string
	Up   string
	Down string
}

// Record is a row of the ledger.
type Record struct {
	Name       string    `db:"name"`
	ExecutedAt time.Time `db:"executed_at"`
}

// Runner applies and rolls back migrations against one database.
type Runner struct {
	db         *sqlx.DB
	log        *zap.Logger
	migrations []Migration
}

// New returns a Runner over the embedded migrations.
func New(db *sqlx.DB, log *zap.Logger) (*Runner, error) {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	migrations, err := Load(sub)
	if err != nil {
		return nil, err
	}
	return &Runner{db: db, log: log, migrations: migrations}, nil
}

// Load reads NAME.up.sql / NAME.down.sql pairs from fsys, ordered by name.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byName := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		var (
			name string
			up   bool
		)
		switch {
		case strings.HasSuffix(file, ".up.sql"):
			name, up = strings.TrimSuffix(file, ".up.sql"), true
		case strings.HasSuffix(file, ".down.sql"):
			name = strings.TrimSuffix(file, ".down.sql")
		default:
			continue
		}

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		m, ok := byName[name]
		if !ok {
			m = &Migration{Name: name}
			byName[name] = m
		}
		if up {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	out := make([]Migration, 0, len(byName))
	for _, m := range byName {
		if strings.TrimSpace(m.Up) == "" {
			return nil, fmt.Errorf("migration %s has no up script", m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Up applies every pending migration, each in its own transaction together
// with its ledger insert. It returns the names it applied.
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	if _, err := r.db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, fmt.Errorf("ensure migrations table: %w", err)
	}

	var applied []string
	for _, m := range r.migrations {
		done, err := r.isApplied(ctx, m.Name)
		if err != nil {
			return applied, fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if done {
			r.log.Debug("migration already executed, skipping", zap.String("migration", m.Name))
			continue
		}

		err = r.inTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return fmt.Errorf("exec migration %s: %w", m.Name, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO migrations (name) VALUES ($1)`, m.Name); err != nil {
				return fmt.Errorf("record migration %s: %w", m.Name, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		r.log.Info("migration applied", zap.String("migration", m.Name))
		applied = append(applied, m.Name)
	}
	return applied, nil
}

// Rollback runs the down script of name and removes its ledger entry.
func (r *Runner) Rollback(ctx context.Context, name string) error {
	var target *Migration
	for i := range r.migrations {
		if r.migrations[i].Name == name && strings.TrimSpace(r.migrations[i].Down) != "" {
			target = &r.migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s", ErrUnknownMigration, name)
	}

	if _, err := r.db.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}
	done, err := r.isApplied(ctx, name)
	if err != nil {
		return fmt.Errorf("check migration %s: %w", name, err)
	}
	if !done {
		return fmt.Errorf("%w: %s", ErrNotApplied, name)
	}

	err = r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, target.Down); err != nil {
			return fmt.Errorf("exec rollback %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM migrations WHERE name = $1`, name); err != nil {
			return fmt.Errorf("delete ledger entry %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("migration rolled back", zap.String("migration", name))
	return nil
}

// Status lists the ledger in execution order.
func (r *Runner) Status(ctx context.Context) ([]Record, error) {
	if _, err := r.db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, fmt.Errorf("ensure migrations table: %w", err)
	}
	var records []Record
	if err := r.db.SelectContext(ctx, &records,
		`SELECT name, executed_at FROM migrations ORDER BY executed_at`); err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return records, nil
}

func (r *Runner) isApplied(ctx context.Context, name string) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM migrations WHERE name = $1`, name); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Runner) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
