// Package sqlcache is the local relational mirror of todo items: one table
// with an auto-incrementing key, reachable through database/sql with either
// the sqlite or the postgres driver.
package sqlcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Makepad-fr/tada/internal/stream"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Entity is a row of the todos table.
type Entity struct {
	ID          int64
	Title       string
	Description string
	IsCompleted bool
	UserID      string
	CreatedAt   time.Time
}

// Cache is an open connection to the todos table.
type Cache struct {
	db      *sql.DB
	driver  string
	changes *stream.Hub[uint64]
	version atomic.Uint64
}

// Open connects with driver and dsn and creates the table if needed.
func Open(ctx context.Context, driver, dsn string) (*Cache, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported cache driver: %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// a single connection serializes writers on the file
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := &Cache{db: db, driver: driver, changes: stream.NewHub[uint64]()}
	if _, err := db.ExecContext(ctx, c.schema()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create todos table: %w", err)
	}
	c.changes.Publish(0)
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) schema() string {
	if c.driver == DriverPostgres {
		return `CREATE TABLE IF NOT EXISTS todos (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NULL,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE,
			user_id TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`
	}
	return `CREATE TABLE IF NOT EXISTS todos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NULL,
		is_completed BOOLEAN NOT NULL DEFAULT 0,
		user_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`
}

// rebind turns ? placeholders into $n for postgres.
func (c *Cache) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *Cache) notify() {
	c.changes.Publish(c.version.Add(1))
}

const selectColumns = `SELECT id, title, description, is_completed, user_id, created_at FROM todos`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(s scanner) (*Entity, error) {
	var (
		e         Entity
		desc      sql.NullString
		createdAt int64
	)
	if err := s.Scan(&e.ID, &e.Title, &desc, &e.IsCompleted, &e.UserID, &createdAt); err != nil {
		return nil, err
	}
	e.Description = desc.String
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &e, nil
}

// Insert writes e and returns its id. A zero id inserts a new row;
// otherwise the row with that id is replaced, or created if missing.
func (c *Cache) Insert(ctx context.Context, e Entity) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	desc := sql.NullString{String: e.Description, Valid: e.Description != ""}

	var id int64
	if e.ID == 0 {
		query := c.rebind(`INSERT INTO todos (title, description, is_completed, user_id, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id`)
		err := c.db.QueryRowContext(ctx, query,
			e.Title, desc, e.IsCompleted, e.UserID, e.CreatedAt.UnixMilli()).Scan(&id)
		if err != nil {
			return 0, err
		}
	} else {
		query := c.rebind(`INSERT INTO todos (id, title, description, is_completed, user_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				is_completed = excluded.is_completed,
				user_id = excluded.user_id,
				created_at = excluded.created_at`)
		_, err := c.db.ExecContext(ctx, query,
			e.ID, e.Title, desc, e.IsCompleted, e.UserID, e.CreatedAt.UnixMilli())
		if err != nil {
			return 0, err
		}
		id = e.ID
	}
	c.notify()
	return id, nil
}

// Delete removes the row with e's id.
func (c *Cache) Delete(ctx context.Context, e Entity) error {
	result, err := c.db.ExecContext(ctx, c.rebind(`DELETE FROM todos WHERE id = ?`), e.ID)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		c.notify()
	}
	return nil
}

// Get returns the row with id, or nil when there is none.
func (c *Cache) Get(ctx context.Context, id int64) (*Entity, error) {
	row := c.db.QueryRowContext(ctx, c.rebind(selectColumns+` WHERE id = ?`), id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// All returns every row ordered by id.
func (c *Cache) All(ctx context.Context) ([]Entity, error) {
	rows, err := c.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := []Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

// Watch calls fn with the full table now and after every write made
// through this Cache.
func (c *Cache) Watch(fn func([]Entity, error)) stream.Unsubscribe {
	return c.changes.Subscribe(func(uint64) {
		entities, err := c.All(context.Background())
		fn(entities, err)
	})
}

// Watchers reports the number of registered watchers.
func (c *Cache) Watchers() int { return c.changes.Len() }
