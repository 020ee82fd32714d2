package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Mohannadcse/DepsRAG/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS packages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	label TEXT NOT NULL,
	imported INTEGER NOT NULL DEFAULT 0,
	UNIQUE(name, version, label)
);
CREATE INDEX IF NOT EXISTS idx_packages_name ON packages(name, version);

CREATE TABLE IF NOT EXISTS depends_on (
	from_id INTEGER NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
	to_id INTEGER NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
	requirement TEXT NOT NULL DEFAULT '',
	PRIMARY KEY(from_id, to_id)
);
`

const sqliteSchemaDoc = `Tables (SQLite SQL):
  packages(id INTEGER, name TEXT, version TEXT, label TEXT, imported INTEGER)
    one row per package version; label is the ecosystem (%s)
  depends_on(from_id INTEGER, to_id INTEGER, requirement TEXT)
    the package from_id DEPENDS_ON the package to_id; requirement is the version constraint
Join depends_on.from_id and depends_on.to_id to packages.id to get names.`

var (
	readStart  = regexp.MustCompile(`(?i)^\s*(select|with|explain)\b`)
	writeWords = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|replace|attach|detach|pragma|vacuum)\b`)
)

// SQLiteStore is an embedded graph store on modernc.org/sqlite. It needs
// no server, which makes it the default and the test backend.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory graph.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "create graph directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "open sqlite graph")
	}
	// One connection: an in-memory database is per connection, and writes
	// are serialized anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys=ON;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, fmt.Sprintf("set sqlite pragma %q", stmt))
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "migrate graph schema")
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Dialect implements Store.
func (s *SQLiteStore) Dialect() string { return "SQLite SQL" }

// Exists implements Store.
func (s *SQLiteStore) Exists(ctx context.Context, name, version string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM packages WHERE name = ? AND version = ? LIMIT 1`, name, version).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "check package exists")
	}
	return true, nil
}

// ReadQuery implements Store. Only SELECT, WITH and EXPLAIN statements
// without write keywords are accepted. Parameters bind by name
// (:name, @name or $name).
func (s *SQLiteStore) ReadQuery(ctx context.Context, query string, params map[string]interface{}) QueryResult {
	if !readStart.MatchString(query) || writeWords.MatchString(query) {
		return QueryResult{Error: "only read queries (SELECT / WITH) are allowed"}
	}

	args := make([]interface{}, 0, len(params))
	for _, k := range sortedKeys(params) {
		args = append(args, sql.Named(k, params[k]))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return failed(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return failed(err)
	}
	res := QueryResult{Success: true}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return failed(err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return failed(err)
	}
	return res
}

// WriteQuery implements Store.
func (s *SQLiteStore) WriteQuery(ctx context.Context, query string) QueryResult {
	r, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return failed(err)
	}
	n, _ := r.RowsAffected()
	return QueryResult{Success: true, Rows: []map[string]interface{}{{"rows_affected": n}}}
}

// Schema implements Store.
func (s *SQLiteStore) Schema(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT label FROM packages ORDER BY label`)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeCollaborator, "read graph labels")
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return "", errors.WrapWithCode(err, errors.ErrCodeCollaborator, "read graph labels")
		}
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeCollaborator, "read graph labels")
	}
	present := "none yet"
	if len(labels) > 0 {
		present = strings.Join(labels, ", ")
	}
	return fmt.Sprintf(sqliteSchemaDoc, present), nil
}

// Snapshot implements Store.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, label, imported FROM packages ORDER BY id`)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "snapshot packages")
	}
	for rows.Next() {
		var n Node
		var imported int
		if err := rows.Scan(&n.Name, &n.Version, &n.Label, &imported); err != nil {
			rows.Close()
			return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "snapshot packages")
		}
		n.Imported = imported != 0
		snap.Nodes = append(snap.Nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "snapshot packages")
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT f.name, f.version, t.name, t.version, d.requirement
		FROM depends_on d
		JOIN packages f ON f.id = d.from_id
		JOIN packages t ON t.id = d.to_id
		ORDER BY d.from_id, d.to_id`)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "snapshot edges")
	}
	defer rows.Close()
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.From.Name, &e.From.Version, &e.To.Name, &e.To.Version, &e.Requirement); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "snapshot edges")
		}
		snap.Edges = append(snap.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "snapshot edges")
	}
	return snap, nil
}

// Merge implements Store.
func (s *SQLiteStore) Merge(ctx context.Context, label string, g *Resolved) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeCollaborator, "begin merge")
	}
	defer tx.Rollback()

	ids := make([]int64, len(g.Nodes))
	for i, n := range g.Nodes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO packages(name, version, label) VALUES(?, ?, ?)
			 ON CONFLICT(name, version, label) DO NOTHING`,
			n.Name, n.Version, label); err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeCollaborator, "merge package "+n.String())
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM packages WHERE name = ? AND version = ? AND label = ?`,
			n.Name, n.Version, label).Scan(&ids[i]); err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeCollaborator, "merge package "+n.String())
		}
	}

	for _, e := range g.Edges {
		if e.From < 0 || e.From >= len(ids) || e.To < 0 || e.To >= len(ids) {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO depends_on(from_id, to_id, requirement) VALUES(?, ?, ?)
			 ON CONFLICT(from_id, to_id) DO NOTHING`,
			ids[e.From], ids[e.To], e.Requirement); err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeCollaborator, "merge dependency edge")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeCollaborator, "commit merge")
	}
	return nil
}

// Unimported implements Store.
func (s *SQLiteStore) Unimported(ctx context.Context, label string) ([]PackageKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version FROM packages WHERE label = ? AND imported = 0 ORDER BY id`, label)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "list unimported packages")
	}
	defer rows.Close()

	var keys []PackageKey
	for rows.Next() {
		var k PackageKey
		if err := rows.Scan(&k.Name, &k.Version); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "list unimported packages")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// MarkImported implements Store.
func (s *SQLiteStore) MarkImported(ctx context.Context, label string, keys ...PackageKey) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE packages SET imported = 1 WHERE label = ? AND name = ? AND version = ?`,
			label, k.Name, k.Version); err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeCollaborator, "mark "+k.String()+" imported")
		}
	}
	return nil
}

// Counts implements Store.
func (s *SQLiteStore) Counts(ctx context.Context) (int, int, error) {
	var nodes, edges int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM packages), (SELECT COUNT(*) FROM depends_on)`).Scan(&nodes, &edges)
	if err != nil {
		return 0, 0, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "count graph")
	}
	return nodes, edges, nil
}

// Close implements Store.
func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}
