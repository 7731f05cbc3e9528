// Package cache persists transformation results across builds. Entries are
// keyed by the rule, its chain, the asset path and the asset bytes, so any
// change to one of them is a miss.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/achille-roussel/sqlrange"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	lru "github.com/hashicorp/golang-lru"
	_ "modernc.org/sqlite"

	"github.com/assetforge/assetforge/internal/logging"
	"github.com/assetforge/assetforge/internal/metrics"
	"github.com/assetforge/assetforge/internal/rules"
	"github.com/assetforge/assetforge/pkg/stage"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Cache struct {
	db  *sql.DB
	mem *lru.Cache
	log *logging.Logger
	now func() time.Time
}

type row struct {
	Path         string `sql:"path"`
	Data         []byte `sql:"data"`
	MediaType    string `sql:"media_type"`
	Disposition  int    `sql:"disposition"`
	Target       string `sql:"target"`
	NameTemplate string `sql:"name_template"`
	Meta         string `sql:"meta"`
}

// Open opens (or creates) the cache database at dsn and migrates it to the
// latest schema. size is the number of entries kept in memory in front of the
// database.
func Open(ctx context.Context, dsn string, size int) (*Cache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	mem, err := lru.New(max(size, 1))
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, mem: mem, log: logging.NewLoggerOrDefault(nil), now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return err
	}

	// m.Close would close db as well, only the source is released here.
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (c *Cache) WithLogger(log *logging.Logger) *Cache {
	c.log = logging.NewLoggerOrDefault(log)
	return c
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Key derives the cache key of running rule over an asset.
func Key(rule *rules.Rule, path string, data []byte) (string, error) {
	chain, err := json.Marshal(struct {
		Name  string
		Kind  stage.Kind
		Chain []rules.Step
	}{rule.Name, rule.Kind, rule.Chain})
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, part := range [][]byte{chain, []byte(path), data} {
		fmt.Fprintf(h, "%d:", len(part))
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns a copy of the cached result for key, if any.
func (c *Cache) Get(ctx context.Context, key string) (*stage.Asset, bool, error) {
	if v, ok := c.mem.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("memory").Inc()
		return v.(*stage.Asset).Clone(), true, nil
	}

	var found *row
	for r, err := range sqlrange.QueryContext[row](ctx, c.db,
		`SELECT path, data, media_type, disposition, target, name_template, meta FROM transforms WHERE key = ?`, key) {
		if err != nil {
			return nil, false, err
		}
		found = &r
		break
	}

	if found == nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}

	a := &stage.Asset{
		Path:         found.Path,
		Data:         found.Data,
		MediaType:    found.MediaType,
		Disposition:  stage.Disposition(found.Disposition),
		Target:       found.Target,
		NameTemplate: found.NameTemplate,
	}
	if err := json.Unmarshal([]byte(found.Meta), &a.Meta); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}

	if _, err := c.db.ExecContext(ctx, `UPDATE transforms SET used_at = ? WHERE key = ?`, c.now().Unix(), key); err != nil {
		c.log.Warnf("failed to touch cache entry %s: %v", key, err)
	}

	c.mem.Add(key, a)
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return a.Clone(), true, nil
}

// Put stores the result of a chain. Kind is not stored, it is derived from
// the rule, which is part of the key.
func (c *Cache) Put(ctx context.Context, key string, a *stage.Asset) error {
	meta, err := json.Marshal(a.Meta)
	if err != nil {
		return err
	}
	if a.Meta == nil {
		meta = []byte("{}")
	}

	now := c.now().Unix()
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO transforms (key, path, data, media_type, disposition, target, name_template, meta, created_at, used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET used_at = excluded.used_at`,
		key, a.Path, a.Data, a.MediaType, int(a.Disposition), a.Target, a.NameTemplate, string(meta), now, now); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	c.mem.Add(key, a.Clone())
	return nil
}

// Prune removes entries not used since before. It returns the number of
// removed entries.
func (c *Cache) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM transforms WHERE used_at < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	c.mem.Purge()
	return res.RowsAffected()
}

// Len returns the number of persisted entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transforms`).Scan(&n)
	return n, err
}
