// Package ecosystem maps package ecosystem names between the user, the
// deps.dev API, the graph labels and OSV.
package ecosystem

import (
	"sort"
	"strings"

	"github.com/Mohannadcse/DepsRAG/errors"
)

// Ecosystem describes one package ecosystem.
type Ecosystem struct {
	// Name is the lower-case identifier used in tool messages ("pypi").
	Name string
	// System is the deps.dev system path segment.
	System string
	// Label is the extra graph label attached to every package node.
	Label string
	// OSV is the ecosystem name used by api.osv.dev.
	OSV string
}

var known = map[string]Ecosystem{
	"npm":   {Name: "npm", System: "npm", Label: "NPM", OSV: "npm"},
	"pypi":  {Name: "pypi", System: "pypi", Label: "PyPi", OSV: "PyPI"},
	"go":    {Name: "go", System: "go", Label: "GO", OSV: "Go"},
	"cargo": {Name: "cargo", System: "cargo", Label: "CARGO", OSV: "crates.io"},
	"maven": {Name: "maven", System: "maven", Label: "MAVEN", OSV: "Maven"},
	"nuget": {Name: "nuget", System: "nuget", Label: "NUGET", OSV: "NuGet"},
}

var aliases = map[string]string{
	"pip":       "pypi",
	"python":    "pypi",
	"golang":    "go",
	"crates":    "cargo",
	"crates.io": "cargo",
	"rust":      "cargo",
	"node":      "npm",
	"java":      "maven",
	".net":      "nuget",
}

// Lookup resolves a user supplied ecosystem name, case-insensitively.
func Lookup(name string) (Ecosystem, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	eco, ok := known[key]
	if !ok {
		return Ecosystem{}, errors.New(errors.ErrCodeUnsupported,
			"unsupported package type "+name+" (supported: "+strings.Join(Names(), ", ")+")",
			errors.WithMetadata("package_type", name))
	}
	return eco, nil
}

// Names returns the supported ecosystem names in sorted order.
func Names() []string {
	names := make([]string, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Labels returns every graph label in use, sorted.
func Labels() []string {
	labels := make([]string, 0, len(known))
	for _, e := range known {
		labels = append(labels, e.Label)
	}
	sort.Strings(labels)
	return labels
}
