// Package store persists extended tables of contents in SQLite, one set of
// rows per parsed asset.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/coolbeans/clausemap/pkg/clause"
	"github.com/coolbeans/clausemap/pkg/toc"
)

// ErrNotFound is returned when an asset has no stored rows.
var ErrNotFound = errors.New("asset not found")

// Asset describes one parsed source document.
type Asset struct {
	ID         string    `json:"id" yaml:"id"`
	Source     string    `json:"source" yaml:"source"`
	Kind       string    `json:"kind" yaml:"kind"`
	PageCount  int       `json:"pageCount" yaml:"pageCount"`
	EntryCount int       `json:"entryCount" yaml:"entryCount"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Store is a single SQLite connection shared by all callers.
type Store struct {
	mu   sync.Mutex
	conn *sqlite.Conn
	log  *zap.Logger
}

type options struct {
	logger   *zap.Logger
	attempts uint
	delay    time.Duration
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRetry sets how often and how far apart opening is retried while the
// database is locked by another process.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(o *options) {
		o.attempts = attempts
		o.delay = delay
	}
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{logger: zap.NewNop(), attempts: 5, delay: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	var conn *sqlite.Conn
	err := retry.Do(
		func() error {
			c, err := sqlite.OpenConn(path)
			if err != nil {
				return err
			}
			if err := migrate(c); err != nil {
				return multierr.Append(err, c.Close())
			}
			conn = c
			return nil
		},
		retry.Attempts(o.attempts),
		retry.Delay(o.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isBusy),
		retry.OnRetry(func(n uint, err error) {
			o.logger.Debug("Database busy, retrying", zap.String("path", path), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	o.logger.Debug("Store opened", zap.String("path", path))
	return &Store{conn: conn, log: o.logger}, nil
}

func migrate(conn *sqlite.Conn) error {
	var version int
	err := sqlitex.Execute(conn, "PRAGMA user_version;", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, schemaVersion)
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	if err := sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion), nil); err != nil {
		return fmt.Errorf("writing schema version: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return true
	}
	return false
}

// Close releases the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := sqlitex.ExecuteTransient(s.conn, "PRAGMA optimize;", nil)
	err = multierr.Append(err, s.conn.Close())
	s.conn = nil
	if err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// withConn serializes access to the connection and interrupts the running
// statement when ctx is done.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return errors.New("store is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)
	return fn(s.conn)
}

// SaveExtendedToc replaces all stored rows of asset with entries. When a
// clause number repeats, the first entry is kept.
func (s *Store) SaveExtendedToc(ctx context.Context, asset Asset, entries []toc.Entry) error {
	if asset.ID == "" {
		return errors.New("asset ID is required")
	}
	if asset.UpdatedAt.IsZero() {
		asset.UpdatedAt = time.Now().UTC()
	}

	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)

		err = sqlitex.Execute(conn, `DELETE FROM extended_toc WHERE asset_id = ?;`, &sqlitex.ExecOptions{
			Args: []any{asset.ID},
		})
		if err != nil {
			return fmt.Errorf("clearing rows: %w", err)
		}

		stored := 0
		for i, e := range entries {
			err = sqlitex.Execute(conn, `
				INSERT OR IGNORE INTO extended_toc (asset_id, clause_number, description, page_no, position)
				VALUES (?, ?, ?, ?, ?);`, &sqlitex.ExecOptions{
				Args: []any{asset.ID, e.ClauseNumber, e.Description, e.PageNo, i},
			})
			if err != nil {
				return fmt.Errorf("inserting clause %s: %w", e.ClauseNumber, err)
			}
			stored += conn.Changes()
		}

		err = sqlitex.Execute(conn, `
			INSERT INTO assets (asset_id, source, kind, page_count, entry_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (asset_id) DO UPDATE SET
				source = excluded.source,
				kind = excluded.kind,
				page_count = excluded.page_count,
				entry_count = excluded.entry_count,
				updated_at = excluded.updated_at;`, &sqlitex.ExecOptions{
			Args: []any{asset.ID, asset.Source, asset.Kind, asset.PageCount, stored, asset.UpdatedAt.UTC().Format(time.RFC3339Nano)},
		})
		if err != nil {
			return fmt.Errorf("saving asset: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving extended TOC for %s: %w", asset.ID, err)
	}

	s.log.Debug("Extended TOC saved", zap.String("asset", asset.ID), zap.Int("entries", len(entries)))
	return nil
}

// ExtendedToc returns the stored rows of an asset in hierarchical order.
func (s *Store) ExtendedToc(ctx context.Context, assetID string) ([]toc.Entry, error) {
	var entries []toc.Entry
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		if _, err := getAsset(conn, assetID); err != nil {
			return err
		}
		return sqlitex.Execute(conn, `
			SELECT clause_number, description, page_no FROM extended_toc
			WHERE asset_id = ? ORDER BY position;`, &sqlitex.ExecOptions{
			Args: []any{assetID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entries = append(entries, toc.Entry{
					ClauseNumber: stmt.ColumnText(0),
					Description:  stmt.ColumnText(1),
					PageNo:       stmt.ColumnInt(2),
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading extended TOC for %s: %w", assetID, err)
	}

	toc.SortExtended(entries)
	return entries, nil
}

// ClauseMap returns the stored headings of an asset keyed by clause number.
func (s *Store) ClauseMap(ctx context.Context, assetID string) (clause.Map, error) {
	entries, err := s.ExtendedToc(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return toc.ClauseMap(entries), nil
}

// Asset returns the metadata of one asset.
func (s *Store) Asset(ctx context.Context, assetID string) (Asset, error) {
	var asset Asset
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		asset, err = getAsset(conn, assetID)
		return err
	})
	if err != nil {
		return Asset{}, fmt.Errorf("loading asset %s: %w", assetID, err)
	}
	return asset, nil
}

// Assets lists all assets in natural order of their IDs.
func (s *Store) Assets(ctx context.Context) ([]Asset, error) {
	var assets []Asset
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT asset_id, source, kind, page_count, entry_count, updated_at FROM assets;`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					assets = append(assets, scanAsset(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}

	sort.Slice(assets, func(i, j int) bool { return natural.Less(assets[i].ID, assets[j].ID) })
	return assets, nil
}

// DeleteAsset removes an asset and its rows.
func (s *Store) DeleteAsset(ctx context.Context, assetID string) error {
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)

		if err = sqlitex.Execute(conn, `DELETE FROM assets WHERE asset_id = ?;`, &sqlitex.ExecOptions{
			Args: []any{assetID},
		}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return ErrNotFound
		}
		return sqlitex.Execute(conn, `DELETE FROM extended_toc WHERE asset_id = ?;`, &sqlitex.ExecOptions{
			Args: []any{assetID},
		})
	})
	if err != nil {
		return fmt.Errorf("deleting asset %s: %w", assetID, err)
	}

	s.log.Debug("Asset deleted", zap.String("asset", assetID))
	return nil
}

func getAsset(conn *sqlite.Conn, assetID string) (Asset, error) {
	var (
		asset Asset
		found bool
	)
	err := sqlitex.Execute(conn, `
		SELECT asset_id, source, kind, page_count, entry_count, updated_at FROM assets
		WHERE asset_id = ?;`, &sqlitex.ExecOptions{
		Args: []any{assetID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			asset = scanAsset(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return Asset{}, err
	}
	if !found {
		return Asset{}, ErrNotFound
	}
	return asset, nil
}

func scanAsset(stmt *sqlite.Stmt) Asset {
	updated, _ := time.Parse(time.RFC3339Nano, stmt.ColumnText(5))
	return Asset{
		ID:         stmt.ColumnText(0),
		Source:     stmt.ColumnText(1),
		Kind:       stmt.ColumnText(2),
		PageCount:  stmt.ColumnInt(3),
		EntryCount: stmt.ColumnInt(4),
		UpdatedAt:  updated,
	}
}
