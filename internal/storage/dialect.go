package storage

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported databases
type Dialect struct {
	Name       string
	DriverName string
	Schema     string
	numbered   bool
}

var (
	// SQLite uses github.com/mattn/go-sqlite3
	SQLite = Dialect{
		Name:       "sqlite",
		DriverName: "sqlite3",
		Schema: `
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			driver_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			escalation_level INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			resolved_at DATETIME,
			closed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_driver_id ON alerts(driver_id);
		CREATE INDEX IF NOT EXISTS idx_alerts_driver_category ON alerts(driver_id, category);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	`,
	}

	// Postgres uses github.com/jackc/pgx/v5/stdlib
	Postgres = Dialect{
		Name:       "postgres",
		DriverName: "pgx",
		numbered:   true,
		Schema: `
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			driver_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			escalation_level INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			closed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_driver_id ON alerts(driver_id);
		CREATE INDEX IF NOT EXISTS idx_alerts_driver_category ON alerts(driver_id, category);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	`,
	}
)

// Rebind rewrites ? placeholders into the dialect's bind style
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
