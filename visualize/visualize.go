// Package visualize renders the dependency graph as a standalone HTML page.
package visualize

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/graph"
)

// DefaultFileName is the page written by HTML.
const DefaultFileName = "dependency_graph.html"

// NodeColor is the fill of every package node.
const NodeColor = "blue"

// Renderer turns a graph snapshot into something the user can open.
type Renderer interface {
	// Render returns a URI to the rendered graph.
	Render(ctx context.Context, snap *graph.Snapshot) (string, error)
}

// HTML writes a vis-network page into OutputDir.
type HTML struct {
	// OutputDir is where the page is written.
	OutputDir string
	// HostPath, when set, replaces OutputDir in the returned URI. Use it
	// when OutputDir is a container mount seen elsewhere on the host.
	HostPath string
	// FileName defaults to DefaultFileName.
	FileName string
	// Title is shown above the graph.
	Title string
}

// NewHTML creates a renderer writing to outputDir.
func NewHTML(outputDir, hostPath string) *HTML {
	return &HTML{OutputDir: outputDir, HostPath: hostPath}
}

// Node is a vis-network node.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Title string `json:"title"`
	Color string `json:"color"`
}

// Edge is a directed vis-network edge.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Title string `json:"title,omitempty"`
}

// Elements converts a snapshot to vis-network nodes and edges. Nodes are
// keyed by name@version and labeled by name; edges missing an endpoint in
// the node list still get both endpoints drawn.
func Elements(snap *graph.Snapshot) ([]Node, []Edge) {
	seen := make(map[string]bool)
	var nodes []Node
	add := func(name, version string) string {
		id := name + "@" + version
		if !seen[id] {
			seen[id] = true
			nodes = append(nodes, Node{
				ID:    id,
				Label: name,
				Title: "Version: " + version,
				Color: NodeColor,
			})
		}
		return id
	}

	for _, n := range snap.Nodes {
		add(n.Name, n.Version)
	}
	edges := make([]Edge, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		edges = append(edges, Edge{
			From:  add(e.From.Name, e.From.Version),
			To:    add(e.To.Name, e.To.Version),
			Title: e.Requirement,
		})
	}
	return nodes, edges
}

// Render implements Renderer.
func (h *HTML) Render(ctx context.Context, snap *graph.Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "render cancelled")
	}
	if snap == nil || len(snap.Nodes) == 0 {
		return "", errors.New(errors.ErrCodeNotFound, "the dependency graph is empty")
	}

	nodes, edges := Elements(snap)
	nodeJSON, err := json.Marshal(nodes)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeInternal, "encode nodes")
	}
	edgeJSON, err := json.Marshal(edges)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeInternal, "encode edges")
	}

	title := h.Title
	if title == "" {
		title = "Dependency graph"
	}
	var buf bytes.Buffer
	err = page.Execute(&buf, map[string]interface{}{
		"Title": title,
		"Nodes": template.JS(nodeJSON),
		"Edges": template.JS(edgeJSON),
		"Count": len(nodes),
	})
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeInternal, "render page")
	}

	dir := h.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeCollaborator, "create output dir")
	}
	name := h.FileName
	if name == "" {
		name = DefaultFileName
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeCollaborator, "write graph page")
	}

	base := h.HostPath
	if base == "" {
		if base, err = filepath.Abs(dir); err != nil {
			return "", errors.WrapWithCode(err, errors.ErrCodeInternal, "resolve output dir")
		}
	}
	return FileURI(filepath.Join(base, name)), nil
}

// FileURI builds a file:/// URI for an absolute path.
func FileURI(path string) string {
	return "file:///" + strings.TrimPrefix(filepath.ToSlash(path), "/")
}

var page = template.Must(template.New("graph").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="https://unpkg.com/vis-network@9.1.9/standalone/umd/vis-network.min.js"></script>
<style>
  body { font-family: sans-serif; margin: 0; }
  h1 { font-size: 16px; margin: 8px; }
  #graph { width: 100%; height: 750px; border-top: 1px solid #ddd; }
</style>
</head>
<body>
<h1>{{.Title}} ({{.Count}} packages)</h1>
<div id="graph"></div>
<script>
  var nodes = new vis.DataSet({{.Nodes}});
  var edges = new vis.DataSet({{.Edges}});
  new vis.Network(document.getElementById("graph"), {nodes: nodes, edges: edges}, {
    edges: {arrows: "to", font: {size: 12, align: "top"}},
    physics: {enabled: true}
  });
</script>
</body>
</html>
`))
