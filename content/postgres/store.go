// Package postgres reads and writes content documents stored as JSONB
// rows in PostgreSQL through the Bun query builder on the pgx driver.
//
// Documents live in ripple_documents keyed by (collection, id). Aggregate
// write-backs run in a transaction with the ripple.recalculating setting
// enabled so database triggers that feed change hooks can tell them apart
// from user edits.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/xraph/ripple/content"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ content.Store = (*Store)(nil)

type documentModel struct {
	bun.BaseModel `bun:"table:ripple_documents,alias:d"`

	Collection string      `bun:"collection,pk"`
	ID         string      `bun:"id,pk"`
	Data       content.Doc `bun:"data,type:jsonb,notnull"`
}

// Store is a PostgreSQL content store. Stores built with New leave the
// *bun.DB lifecycle to the caller; Open hands it to Close.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open connects to dsn with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("ripple/postgres: open: %w", err)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("ripple/postgres: connect: %w", err)
	}
	return New(bun.NewDB(sqldb, pgdialect.New()), opts...), nil
}

// New wraps an existing Bun handle.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB.
func (s *Store) DB() *bun.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ripple_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("ripple/postgres: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ripple/postgres: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM ripple_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("ripple/postgres: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("ripple/postgres: read migration %s: %w", entry.Name(), readErr)
		}
		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("ripple/postgres: execute migration %s: %w", entry.Name(), execErr)
		}
		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO ripple_migrations (filename) VALUES (?)`,
			entry.Name(),
		); recErr != nil {
			return fmt.Errorf("ripple/postgres: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}
	return nil
}

const approvedRatingsQuery = `
	SELECT (data->>'rating')::float8
	FROM ripple_documents
	WHERE collection = 'reviews'
	  AND data->>'status' = 'approved'
	  AND data->>'rating' IS NOT NULL
	  AND CASE jsonb_typeof(data->'entity')
	        WHEN 'object' THEN data->'entity'->>'id'
	        ELSE data->>'entity'
	      END = ?0
	  AND COALESCE(NULLIF(data->>'entityKind', ''), 'locations') = ?1`

// ApprovedRatings implements content.Store.
func (s *Store) ApprovedRatings(ctx context.Context, kind, id string) ([]float64, error) {
	var ratings []float64
	if err := s.db.NewRaw(approvedRatingsQuery, id, kind).Scan(ctx, &ratings); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ripple/postgres: approved ratings: %w", err)
	}
	return ratings, nil
}

// WriteAggregate implements content.Store.
func (s *Store) WriteAggregate(ctx context.Context, kind, id string, agg content.Aggregate) error {
	updatedAt := agg.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT set_config('ripple.recalculating', 'on', true)`); err != nil {
			return fmt.Errorf("ripple/postgres: mark recalculating: %w", err)
		}

		res, err := tx.NewUpdate().
			Model((*documentModel)(nil)).
			Set(`data = data || jsonb_build_object('reviewCount', ?::int, 'averageRating', ?::float8, 'ratingsUpdatedAt', ?::text)`,
				agg.Count, agg.Average, updatedAt.Format(time.RFC3339Nano)).
			Set("updated_at = NOW()").
			Where("collection = ?", kind).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("ripple/postgres: write aggregate: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("ripple/postgres: write aggregate: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s/%s", content.ErrNotFound, kind, id)
		}
		return nil
	})
}

// Put inserts or replaces a document.
func (s *Store) Put(ctx context.Context, collection string, doc content.Doc) error {
	m := &documentModel{Collection: collection, ID: doc.ID(), Data: doc}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (collection, id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("updated_at = NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ripple/postgres: put document: %w", err)
	}
	return nil
}

// Get returns a document.
func (s *Store) Get(ctx context.Context, collection, id string) (content.Doc, error) {
	m := new(documentModel)
	err := s.db.NewSelect().
		Model(m).
		Column("data").
		Where("collection = ?", collection).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s/%s", content.ErrNotFound, collection, id)
		}
		return nil, fmt.Errorf("ripple/postgres: get document: %w", err)
	}
	return m.Data, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
