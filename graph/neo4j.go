package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Mohannadcse/DepsRAG/credentials"
	"github.com/Mohannadcse/DepsRAG/errors"
)

// Neo4jStore is the graph on a Neo4j server, queried with Cypher.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// OpenNeo4j connects to the server described by creds and verifies the
// connection.
func OpenNeo4j(ctx context.Context, creds credentials.Neo4jCreds) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(creds.URI,
		neo4j.BasicAuth(creds.Username, creds.Password, ""))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "create neo4j driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "connect to neo4j at "+creds.URI)
	}
	db := creds.Database
	if db == "" {
		db = "neo4j"
	}
	return &Neo4jStore{driver: driver, database: db}, nil
}

// Dialect implements Store.
func (s *Neo4jStore) Dialect() string { return "Cypher" }

func (s *Neo4jStore) read(ctx context.Context, query string, params map[string]interface{}) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database), neo4j.ExecuteQueryWithReadersRouting())
}

func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]interface{}) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database), neo4j.ExecuteQueryWithWritersRouting())
}

// Exists implements Store.
func (s *Neo4jStore) Exists(ctx context.Context, name, version string) (bool, error) {
	res, err := s.read(ctx,
		`MATCH (n) WHERE n.name = $name AND n.version = $version RETURN n LIMIT 1`,
		map[string]interface{}{"name": name, "version": version})
	if err != nil {
		return false, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "check package exists")
	}
	return len(res.Records) > 0, nil
}

// ReadQuery implements Store.
func (s *Neo4jStore) ReadQuery(ctx context.Context, query string, params map[string]interface{}) QueryResult {
	res, err := s.read(ctx, query, params)
	if err != nil {
		return failed(err)
	}
	return QueryResult{Success: true, Rows: recordsToRows(res.Keys, res.Records)}
}

// WriteQuery implements Store.
func (s *Neo4jStore) WriteQuery(ctx context.Context, query string) QueryResult {
	res, err := s.write(ctx, query, nil)
	if err != nil {
		return failed(err)
	}
	return QueryResult{Success: true, Rows: recordsToRows(res.Keys, res.Records)}
}

// Schema implements Store.
func (s *Neo4jStore) Schema(ctx context.Context) (string, error) {
	parts := []struct {
		title string
		query string
	}{
		{"Node labels", `CALL db.labels() YIELD label RETURN label AS v`},
		{"Relationship types", `CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType AS v`},
		{"Property keys", `CALL db.propertyKeys() YIELD propertyKey RETURN propertyKey AS v`},
	}
	var b strings.Builder
	for _, p := range parts {
		res, err := s.read(ctx, p.query, nil)
		if err != nil {
			return "", errors.WrapWithCode(err, errors.ErrCodeCollaborator, "read graph schema")
		}
		var vals []string
		for _, r := range res.Records {
			if v, ok := r.Get("v"); ok {
				vals = append(vals, fmt.Sprint(v))
			}
		}
		sort.Strings(vals)
		fmt.Fprintf(&b, "%s: %s\n", p.title, strings.Join(vals, ", "))
	}
	b.WriteString("Relationships: (:Package)-[:DEPENDS_ON {requirement}]->(:Package); " +
		"Package nodes have name, version and imported properties.")
	return b.String(), nil
}

// Snapshot implements Store.
func (s *Neo4jStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	res, err := s.read(ctx, `
		MATCH (n:Package)
		OPTIONAL MATCH (n)-[r:DEPENDS_ON]->(m:Package)
		RETURN n, r, m`, nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "snapshot graph")
	}

	snap := &Snapshot{}
	seen := make(map[PackageKey]bool)
	addNode := func(n neo4j.Node) PackageKey {
		node := nodeFromNeo4j(n)
		key := PackageKey{Name: node.Name, Version: node.Version}
		if !seen[key] {
			seen[key] = true
			snap.Nodes = append(snap.Nodes, node)
		}
		return key
	}

	for _, rec := range res.Records {
		nv, _ := rec.Get("n")
		n, ok := nv.(neo4j.Node)
		if !ok {
			continue
		}
		from := addNode(n)

		mv, _ := rec.Get("m")
		rv, _ := rec.Get("r")
		m, okM := mv.(neo4j.Node)
		r, okR := rv.(neo4j.Relationship)
		if !okM || !okR {
			continue
		}
		to := addNode(m)
		req, _ := r.Props["requirement"].(string)
		snap.Edges = append(snap.Edges, Edge{From: from, To: to, Requirement: req})
	}
	return snap, nil
}

// Merge implements Store.
func (s *Neo4jStore) Merge(ctx context.Context, label string, g *Resolved) error {
	if err := checkLabel(label); err != nil {
		return err
	}

	nodes := make([]interface{}, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, map[string]interface{}{"name": n.Name, "version": n.Version})
	}
	if _, err := s.write(ctx, fmt.Sprintf(`
		UNWIND $nodes AS pkg
		MERGE (:Package:%s {name: pkg.name, version: pkg.version})`, label),
		map[string]interface{}{"nodes": nodes}); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeCollaborator, "merge packages")
	}

	edges := make([]interface{}, 0, len(g.Edges))
	for _, e := range g.Edges {
		if e.From < 0 || e.From >= len(g.Nodes) || e.To < 0 || e.To >= len(g.Nodes) {
			continue
		}
		from, to := g.Nodes[e.From], g.Nodes[e.To]
		edges = append(edges, map[string]interface{}{
			"from_name": from.Name, "from_version": from.Version,
			"to_name": to.Name, "to_version": to.Version,
			"requirement": e.Requirement,
		})
	}
	if len(edges) == 0 {
		return nil
	}
	if _, err := s.write(ctx, fmt.Sprintf(`
		UNWIND $edges AS edge
		MATCH (a:Package:%[1]s {name: edge.from_name, version: edge.from_version})
		MATCH (b:Package:%[1]s {name: edge.to_name, version: edge.to_version})
		MERGE (a)-[rel:DEPENDS_ON]->(b) ON CREATE SET rel.requirement = edge.requirement`, label),
		map[string]interface{}{"edges": edges}); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeCollaborator, "merge dependency edges")
	}
	return nil
}

// Unimported implements Store.
func (s *Neo4jStore) Unimported(ctx context.Context, label string) ([]PackageKey, error) {
	if err := checkLabel(label); err != nil {
		return nil, err
	}
	res, err := s.read(ctx, fmt.Sprintf(`
		MATCH (p:Package:%s) WHERE p.imported IS NULL
		RETURN p.name AS name, p.version AS version`, label), nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "list unimported packages")
	}
	keys := make([]PackageKey, 0, len(res.Records))
	for _, rec := range res.Records {
		name, _ := rec.Get("name")
		version, _ := rec.Get("version")
		keys = append(keys, PackageKey{Name: fmt.Sprint(name), Version: fmt.Sprint(version)})
	}
	return keys, nil
}

// MarkImported implements Store.
func (s *Neo4jStore) MarkImported(ctx context.Context, label string, keys ...PackageKey) error {
	if err := checkLabel(label); err != nil {
		return err
	}
	list := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		list = append(list, map[string]interface{}{"name": k.Name, "version": k.Version})
	}
	_, err := s.write(ctx, fmt.Sprintf(`
		UNWIND $keys AS k
		MATCH (p:Package:%s {name: k.name, version: k.version})
		SET p.imported = true`, label), map[string]interface{}{"keys": list})
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeCollaborator, "mark packages imported")
	}
	return nil
}

// Counts implements Store.
func (s *Neo4jStore) Counts(ctx context.Context) (int, int, error) {
	res, err := s.read(ctx, `
		MATCH (n:Package) WITH count(n) AS nodes
		OPTIONAL MATCH (:Package)-[r:DEPENDS_ON]->(:Package)
		RETURN nodes, count(r) AS edges`, nil)
	if err != nil || len(res.Records) == 0 {
		if err == nil {
			return 0, 0, nil
		}
		return 0, 0, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "count graph")
	}
	nodes, _ := res.Records[0].Get("nodes")
	edges, _ := res.Records[0].Get("edges")
	return toInt(nodes), toInt(edges), nil
}

// Close implements Store.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// checkLabel guards labels interpolated into Cypher, which has no label
// parameters.
func checkLabel(label string) error {
	if label == "" {
		return errors.New(errors.ErrCodeInvalidInput, "empty graph label")
	}
	for _, r := range label {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("invalid graph label %q", label))
		}
	}
	return nil
}

func nodeFromNeo4j(n neo4j.Node) Node {
	node := Node{}
	node.Name, _ = n.Props["name"].(string)
	node.Version, _ = n.Props["version"].(string)
	node.Imported, _ = n.Props["imported"].(bool)
	for _, l := range n.Labels {
		if l != "Package" {
			node.Label = l
			break
		}
	}
	return node
}

func recordsToRows(keys []string, records []*neo4j.Record) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		row := make(map[string]interface{}, len(keys))
		for i, k := range keys {
			if i < len(rec.Values) {
				row[k] = plainValue(rec.Values[i])
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// plainValue flattens driver graph types into maps the model can read.
func plainValue(v interface{}) interface{} {
	switch t := v.(type) {
	case neo4j.Node:
		props := make(map[string]interface{}, len(t.Props)+1)
		for k, p := range t.Props {
			props[k] = p
		}
		props["labels"] = t.Labels
		return props
	case neo4j.Relationship:
		props := make(map[string]interface{}, len(t.Props)+1)
		for k, p := range t.Props {
			props[k] = p
		}
		props["type"] = t.Type
		return props
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
