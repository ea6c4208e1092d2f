package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Collection names.
const (
	Restaurants      = "restaurants"
	Reviews          = "reviews"
	PendingReviews   = "pending_reviews"
	PendingFavorites = "pending_favorites"
)

// SchemaVersion is the current layout of the local store.
const SchemaVersion = 2

// DBTX represents shared methods across sql.DB and sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MigrateFunc upgrades a store from one version to another inside a transaction.
type MigrateFunc func(ctx context.Context, tx DBTX, from, to int) error

// Index is a secondary index over a JSON field of the stored records.
type Index struct {
	Name string
	Path string // JSON field name, e.g. "restaurant_id"
}

// Collection describes a named keyed collection of JSON records.
type Collection struct {
	Name    string
	KeyPath string
	Indexes []Index
	// OrderIndex orders index lookups; insertion order is used when empty.
	OrderIndex string
}

// Schema is what Open needs to bring a store up to date.
type Schema struct {
	Version     int
	Migrate     MigrateFunc
	Collections []Collection
}

// DefaultCollections lists the collections of the restaurant cache.
var DefaultCollections = []Collection{
	{Name: Restaurants, KeyPath: "id"},
	{
		Name:    Reviews,
		KeyPath: "id",
		Indexes: []Index{
			{Name: "restaurant_id", Path: "restaurant_id"},
			{Name: "date", Path: "createdAt"},
		},
		OrderIndex: "date",
	},
	{Name: PendingFavorites, KeyPath: "restaurant_id"},
	{
		Name:    PendingReviews,
		KeyPath: "local_id",
		Indexes: []Index{
			{Name: "restaurant_id", Path: "restaurant_id"},
			{Name: "date", Path: "createdAt"},
		},
		OrderIndex: "date",
	},
}

// DefaultSchema returns the schema used by the application.
func DefaultSchema() Schema {
	return Schema{
		Version:     SchemaVersion,
		Migrate:     Migrate,
		Collections: DefaultCollections,
	}
}

const registrySQL = `
CREATE TABLE IF NOT EXISTS rr_sequences (
  name TEXT PRIMARY KEY,
  value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rr_sync_triggers (
  tag TEXT PRIMARY KEY,
  registered_at INTEGER NOT NULL,
  generation INTEGER NOT NULL DEFAULT 0,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_attempt_at INTEGER
);
`

// Migrate applies every step between from and to.
func Migrate(ctx context.Context, tx DBTX, from, to int) error {
	if from < 1 && to >= 1 {
		for _, c := range DefaultCollections {
			if err := CreateCollection(ctx, tx, c); err != nil {
				return err
			}
		}
	}
	if from < 2 && to >= 2 {
		if _, err := tx.ExecContext(ctx, registrySQL); err != nil {
			return err
		}
	}
	return nil
}

// CreateCollection creates the table and expression indexes backing c.
func CreateCollection(ctx context.Context, tx DBTX, c Collection) error {
	table := tableName(c.Name)
	stmts := []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		  key TEXT PRIMARY KEY,
		  seq INTEGER NOT NULL,
		  data TEXT NOT NULL
		)`, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_seq ON %s(seq)", table, table),
	}
	for _, idx := range c.Indexes {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)",
			table, idx.Name, table, jsonExpr(idx.Path),
		))
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create collection %s: %w", c.Name, err)
		}
	}
	return nil
}

func tableName(collection string) string {
	return "rr_" + collection
}

func jsonExpr(path string) string {
	return fmt.Sprintf("json_extract(data, '$.%s')", strings.ReplaceAll(path, "'", ""))
}

func (c Collection) index(name string) (Index, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

func (c Collection) orderClause() string {
	if idx, ok := c.index(c.OrderIndex); ok {
		return "ORDER BY " + jsonExpr(idx.Path) + ", seq"
	}
	return "ORDER BY seq"
}
