// Package store persists orders and their dispatch outbox in SQLite and serves
// the read-only basket and catalog lookups checkout depends on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS catalog_items (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	picture_uri TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS baskets (
	id INTEGER PRIMARY KEY,
	buyer_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS basket_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	basket_id INTEGER NOT NULL REFERENCES baskets(id),
	catalog_item_id INTEGER NOT NULL,
	unit_price TEXT NOT NULL,
	quantity INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	buyer_id TEXT NOT NULL,
	order_date TEXT NOT NULL,
	ship_street TEXT NOT NULL,
	ship_city TEXT NOT NULL,
	ship_state TEXT NOT NULL,
	ship_country TEXT NOT NULL,
	ship_zip TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL REFERENCES orders(id),
	catalog_item_id INTEGER NOT NULL,
	product_name TEXT NOT NULL,
	picture_uri TEXT NOT NULL,
	unit_price TEXT NOT NULL,
	units INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dispatch_outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL REFERENCES orders(id),
	kind TEXT NOT NULL,
	order_item_id INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	dispatched_at TEXT,
	UNIQUE (order_id, kind, order_item_id)
);

CREATE INDEX IF NOT EXISTS idx_dispatch_outbox_pending ON dispatch_outbox (dispatched_at, created_at);
`

// Open opens the SQLite database behind dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// placeholders returns "?, ?, ?" for n arguments along with the args slice.
func placeholders(ids []int) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}
