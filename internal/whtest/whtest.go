// Package whtest provides a seeded SQLite warehouse for tests.
package whtest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/ruslano69/whbridge/pkg/warehouse"
	_ "github.com/ruslano69/whbridge/pkg/warehouse/sqlite"
)

// Fixture tables:
//
//	orders(id TEXT, total REAL, customer_id INTEGER, created DATE)  5 rows
//	customers(id INTEGER, name TEXT, active BOOLEAN)                 3 rows
const seedSQL = `
CREATE TABLE orders (id TEXT, total REAL, customer_id INTEGER, created DATE);
CREATE TABLE customers (id INTEGER, name TEXT, active BOOLEAN);
INSERT INTO orders VALUES
	('o-1', 10.5, 1, '2024-01-01'),
	('o-2', 20.0, 1, '2024-01-02'),
	('o-3', 7.25, 2, '2024-01-03'),
	('o-4', 99.9, 3, '2024-02-01'),
	('o-5', 1.0, 4, '2024-02-02');
INSERT INTO customers VALUES
	(1, 'Ada', 1),
	(2, 'Linus', 0),
	(3, 'Grace', 1);
`

// OrdersRows and CustomersRows are the seeded row counts.
const (
	OrdersRows    = 5
	CustomersRows = 3
)

// NewSQLite creates a seeded database file under t.TempDir and returns a
// Config pointing at it.
func NewSQLite(t testing.TB) warehouse.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	Exec(t, path, seedSQL)
	return Config(path)
}

// NewEmptySQLite creates a database without tables.
func NewEmptySQLite(t testing.TB) warehouse.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.db")
	Exec(t, path, "CREATE TABLE _init (x INTEGER); DROP TABLE _init;")
	return Config(path)
}

// Config returns a sqlite Config for path.
func Config(path string) warehouse.Config {
	return warehouse.Config{Driver: "sqlite", Database: path, MaxOpenConns: 4}
}

// Exec runs statements directly against the database file.
func Exec(t testing.TB, path, statements string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()
	if _, err := db.ExecContext(context.Background(), statements); err != nil {
		t.Fatalf("exec seed: %v", err)
	}
}

// SeedSeries creates table(id INTEGER, label TEXT) holding ids 1..n.
func SeedSeries(t testing.TB, path, table string, n int) {
	t.Helper()
	Exec(t, path, fmt.Sprintf(`
CREATE TABLE %[1]q (id INTEGER, label TEXT);
INSERT INTO %[1]q (id, label)
	WITH RECURSIVE seq(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM seq WHERE n < %[2]d)
	SELECT n, 'row-' || n FROM seq;
`, table, n))
}

// Count returns the row count of table.
func Count(t testing.TB, cfg warehouse.Config, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", cfg.Database)
	if err != nil {
		t.Fatalf("open %s: %v", cfg.Database, err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
