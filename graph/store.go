// Package graph holds the dependency graph: the stores it lives in, the
// deps.dev client that feeds it and the builder that constructs it.
//
// Packages are nodes labeled Package plus an ecosystem label (PyPi, NPM,
// ...), keyed by name and version. DEPENDS_ON edges carry the version
// requirement that selected the dependency.
package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Mohannadcse/DepsRAG/credentials"
	"github.com/Mohannadcse/DepsRAG/errors"
)

// QueryResult is the outcome of a read or write query. Errors are carried
// in the result so they can be shown to the model.
type QueryResult struct {
	Success bool
	Rows    []map[string]interface{}
	Error   string
}

// Text renders the result for a model prompt.
func (r QueryResult) Text() string {
	if !r.Success {
		return "There was an error in your query: " + r.Error
	}
	if len(r.Rows) == 0 {
		return "The query returned no results."
	}
	var b strings.Builder
	for i, row := range r.Rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(formatRow(row))
	}
	return b.String()
}

func failed(err error) QueryResult {
	return QueryResult{Error: err.Error()}
}

// PackageKey identifies a package version.
type PackageKey struct {
	Name    string
	Version string
}

func (k PackageKey) String() string { return k.Name + "@" + k.Version }

// Resolved is a resolved dependency graph as returned by deps.dev. Edges
// index into Nodes; Nodes[0] is the requested package.
type Resolved struct {
	Nodes []PackageKey
	Edges []ResolvedEdge
}

// ResolvedEdge is one dependency edge of a Resolved graph.
type ResolvedEdge struct {
	From        int
	To          int
	Requirement string
}

// Node is a package in a Snapshot.
type Node struct {
	Name     string
	Version  string
	Label    string
	Imported bool
}

// Edge is a DEPENDS_ON edge in a Snapshot.
type Edge struct {
	From        PackageKey
	To          PackageKey
	Requirement string
}

// Snapshot is the whole graph, for rendering.
type Snapshot struct {
	Nodes []Node
	Edges []Edge
}

// Store is the graph database.
type Store interface {
	// Exists reports whether a package version is already in the graph.
	Exists(ctx context.Context, name, version string) (bool, error)

	// ReadQuery runs a read-only query in the store's query language.
	ReadQuery(ctx context.Context, query string, params map[string]interface{}) QueryResult

	// WriteQuery runs a write query.
	WriteQuery(ctx context.Context, query string) QueryResult

	// Schema describes the node labels, edge types and properties.
	Schema(ctx context.Context) (string, error)

	// Snapshot returns every node and edge.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Merge adds the packages and edges of g under label. Existing nodes
	// and edges are kept as they are.
	Merge(ctx context.Context, label string, g *Resolved) error

	// Unimported lists packages under label whose own dependencies have
	// not been merged yet.
	Unimported(ctx context.Context, label string) ([]PackageKey, error)

	// MarkImported flags packages as expanded.
	MarkImported(ctx context.Context, label string, keys ...PackageKey) error

	// Counts returns the number of packages and edges.
	Counts(ctx context.Context) (nodes, edges int, err error)

	// Dialect names the query language ReadQuery accepts.
	Dialect() string

	Close(ctx context.Context) error
}

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Open opens the configured backend. path is the sqlite database file;
// neo4j connection details come from creds.
func Open(ctx context.Context, backend, path string, creds *credentials.Neo4jCreds) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendSQLite:
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendNeo4j:
		if creds == nil || creds.URI == "" {
			return nil, errors.New(errors.ErrCodeConfigInvalid,
				"neo4j backend requires a uri in credentials.toml [neo4j] or NEO4J_URI")
		}
		s, err := OpenNeo4j(ctx, *creds)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown graph backend %q (want sqlite or neo4j)", backend))
	}
}

func formatRow(row map[string]interface{}) string {
	keys := sortedKeys(row)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, row[k]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
