package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported engines. Queries
// are written with '?' placeholders and rebound per dialect.
type Dialect struct {
	Name        string
	JSONType    string
	Placeholder func(n int) string
}

// SQLite uses '?' placeholders and stores JSON as text.
var SQLite = Dialect{
	Name:        "sqlite",
	JSONType:    "TEXT",
	Placeholder: func(int) string { return "?" },
}

// Postgres uses ordinal placeholders and JSONB payloads.
var Postgres = Dialect{
	Name:        "postgres",
	JSONType:    "JSONB",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// Rebind rewrites '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if d.Placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rolls (
			id TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			payload %s NOT NULL
		)`, d.JSONType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			payload %s NOT NULL
		)`, d.JSONType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS recuts (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			recorded_at BIGINT NOT NULL,
			payload %s NOT NULL
		)`, d.JSONType),
		`CREATE INDEX IF NOT EXISTS recuts_order_idx ON recuts (order_id, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS revisions (
			collection TEXT PRIMARY KEY,
			revision BIGINT NOT NULL
		)`,
	}
}
