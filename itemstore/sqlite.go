// Package itemstore reads the ordered item sequence from a relational database
// and resolves the file names written to the sync file back to item ids.
package itemstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/pkg/retry"
	"github.com/c360/windowcache/types"
)

// DefaultQuery lists item ids in ascending order from the files table.
const DefaultQuery = "SELECT file_id FROM files ORDER BY file_id"

// DefaultLookupQuery finds the item whose original file name contains the
// argument pattern.
const DefaultLookupQuery = "SELECT file_id FROM files WHERE original_filename LIKE ?"

// Config configures a SQL-backed item store.
type Config struct {
	Driver string
	DSN    string
	Query  string

	// LookupQuery takes one LIKE pattern and returns matching ids in its
	// first column. The first row wins.
	LookupQuery string
	Retry       retry.Config
}

// SQLStore implements sequence.ItemStore over database/sql.
type SQLStore struct {
	db          *sql.DB
	query       string
	lookupQuery string
	retry       retry.Config
	logger      *slog.Logger
}

// Open opens the database described by cfg. The connection is verified lazily
// on the first query so a store that is not yet populated does not block startup.
func Open(cfg Config, logger *slog.Logger) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, errors.WrapInvalid(errors.New("dsn is required"), "SQLStore", "Open", "validate config")
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}
	if cfg.LookupQuery == "" {
		cfg.LookupQuery = DefaultLookupQuery
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Quick()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = errors.IsTransient
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.WrapInvalid(err, "SQLStore", "Open", "open database")
	}

	return &SQLStore{
		db:          db,
		query:       cfg.Query,
		lookupQuery: cfg.LookupQuery,
		retry:       cfg.Retry,
		logger:      logger.With("component", "itemstore", "driver", cfg.Driver),
	}, nil
}

// ListItemIDsAscending runs the configured query and returns the first column
// of every row. Busy or locked databases are retried with backoff.
func (s *SQLStore) ListItemIDsAscending(ctx context.Context) ([]types.ItemID, error) {
	attempt := 0
	ids, err := retry.DoWithResult(ctx, s.retry, func() ([]types.ItemID, error) {
		attempt++
		ids, err := s.list(ctx)
		if err != nil && errors.IsTransient(err) {
			s.logger.Debug("Item query retrying", "attempt", attempt, "error", err)
		}
		return ids, err
	})
	if err != nil {
		return nil, fmt.Errorf("SQLStore.ListItemIDsAscending: %w: %w", err, errors.ErrStoreUnavailable)
	}
	return ids, nil
}

func (s *SQLStore) list(ctx context.Context) ([]types.ItemID, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, classify(err, "ListItemIDsAscending", "query items")
	}
	defer rows.Close()

	ids := []types.ItemID{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapInvalid(err, "SQLStore", "ListItemIDsAscending", "scan item id")
		}
		ids = append(ids, types.ItemID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "ListItemIDsAscending", "iterate items")
	}
	return ids, nil
}

// LookupByFilename returns the item whose original file name contains name.
// Callers pass the base name of the path found in the sync file. The bool is
// false when no row matches.
func (s *SQLStore) LookupByFilename(ctx context.Context, name string) (types.ItemID, bool, error) {
	if name == "" {
		return 0, false, errors.WrapInvalid(errors.New("empty file name"), "SQLStore", "LookupByFilename", "validate name")
	}

	type result struct {
		id    types.ItemID
		found bool
	}
	res, err := retry.DoWithResult(ctx, s.retry, func() (result, error) {
		var id int64
		err := s.db.QueryRowContext(ctx, s.lookupQuery, "%"+name+"%").Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return result{}, nil
		case err != nil:
			return result{}, classify(err, "LookupByFilename", "query file name")
		}
		return result{id: types.ItemID(id), found: true}, nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("SQLStore.LookupByFilename: %w: %w", err, errors.ErrStoreUnavailable)
	}
	return res.id, res.found, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "SQLStore", "Close", "close database")
	}
	return nil
}

// classify marks lock contention as transient and everything else as invalid,
// so retries only happen where waiting can help.
func classify(err error, method, action string) error {
	if isBusy(err) {
		return errors.WrapTransient(err, "SQLStore", method, action)
	}
	return errors.WrapInvalid(err, "SQLStore", method, action)
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}
