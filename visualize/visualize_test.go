package visualize

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/graph"
)

func chainlitSnapshot() *graph.Snapshot {
	root := graph.PackageKey{Name: "chainlit", Version: "1.1.200"}
	httpx := graph.PackageKey{Name: "httpx", Version: "0.27.0"}
	anyio := graph.PackageKey{Name: "anyio", Version: "4.4.0"}
	return &graph.Snapshot{
		Nodes: []graph.Node{
			{Name: root.Name, Version: root.Version, Label: "PyPi"},
			{Name: httpx.Name, Version: httpx.Version, Label: "PyPi"},
		},
		Edges: []graph.Edge{
			{From: root, To: httpx, Requirement: ">=0.23.0"},
			{From: httpx, To: anyio, Requirement: "*"},
		},
	}
}

func TestElements(t *testing.T) {
	nodes, edges := Elements(chainlitSnapshot())
	if len(nodes) != 3 {
		t.Fatalf("nodes = %+v", nodes)
	}
	if nodes[0].Label != "chainlit" || nodes[0].Title != "Version: 1.1.200" || nodes[0].Color != "blue" {
		t.Errorf("root node = %+v", nodes[0])
	}
	if nodes[2].ID != "anyio@4.4.0" {
		t.Errorf("edge endpoint not added as node: %+v", nodes[2])
	}
	if len(edges) != 2 || edges[0].From != "chainlit@1.1.200" || edges[0].To != "httpx@0.27.0" {
		t.Errorf("edges = %+v", edges)
	}
}

func TestHTML_Render(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		hostPath string
		wantURI  string
	}{
		{"local path", "", FileURI(filepath.Join(dir, DefaultFileName))},
		{"host path", "/app/html", "file:///app/html/" + DefaultFileName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHTML(dir, tt.hostPath)
			uri, err := h.Render(context.Background(), chainlitSnapshot())
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if uri != tt.wantURI {
				t.Errorf("uri = %q, want %q", uri, tt.wantURI)
			}
			page, err := os.ReadFile(filepath.Join(dir, DefaultFileName))
			if err != nil {
				t.Fatal(err)
			}
			for _, want := range []string{`"label":"chainlit"`, `"Version: 0.27.0"`, `arrows: "to"`, "3 packages"} {
				if !strings.Contains(string(page), want) {
					t.Errorf("page missing %s", want)
				}
			}
		})
	}
}

func TestHTML_RenderEmpty(t *testing.T) {
	_, err := NewHTML(t.TempDir(), "").Render(context.Background(), &graph.Snapshot{})
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestFileURI(t *testing.T) {
	if got := FileURI("/tmp/out/g.html"); got != "file:///tmp/out/g.html" {
		t.Errorf("FileURI = %q", got)
	}
}
