package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mohannadcse/DepsRAG/cache"
	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/ratelimit"
	"github.com/Mohannadcse/DepsRAG/telemetry"
)

// DefaultDepsDevURL is the public deps.dev v3 API.
const DefaultDepsDevURL = "https://api.deps.dev/v3"

// depsDevResource is the rate limiter resource for deps.dev requests.
const depsDevResource = "depsdev"

// DepsDev fetches resolved dependency graphs from deps.dev.
type DepsDev struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
	limiter ratelimit.Limiter
}

// DepsDevOption configures a DepsDev client.
type DepsDevOption func(*DepsDev)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) DepsDevOption {
	return func(d *DepsDev) { d.client = c }
}

// WithCache caches raw responses by URL.
func WithCache(c *cache.Cache) DepsDevOption {
	return func(d *DepsDev) { d.cache = c }
}

// WithLimiter paces requests through the "depsdev" resource of l.
func WithLimiter(l ratelimit.Limiter) DepsDevOption {
	return func(d *DepsDev) { d.limiter = l }
}

// NewDepsDev creates a client for baseURL, or DefaultDepsDevURL if empty.
func NewDepsDev(baseURL string, opts ...DepsDevOption) *DepsDev {
	if baseURL == "" {
		baseURL = DefaultDepsDevURL
	}
	d := &DepsDev{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type depsDevResponse struct {
	Nodes []struct {
		VersionKey struct {
			System  string `json:"system"`
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"versionKey"`
		Relation string `json:"relation"`
	} `json:"nodes"`
	Edges []struct {
		FromNode    int    `json:"fromNode"`
		ToNode      int    `json:"toNode"`
		Requirement string `json:"requirement"`
	} `json:"edges"`
	Error string `json:"error"`
}

// Dependencies returns the resolved dependency graph of one package
// version. An unknown package fails with PACKAGE_MISSING.
func (d *DepsDev) Dependencies(ctx context.Context, system, name, version string) (*Resolved, error) {
	endpoint := fmt.Sprintf("%s/systems/%s/packages/%s/versions/%s:dependencies",
		d.baseURL, url.PathEscape(system), url.PathEscape(name), url.PathEscape(version))

	ctx, span := telemetry.GetTracer().StartCollaboratorSpan(ctx, "depsdev")
	body, err := d.get(ctx, endpoint, name+"@"+version)
	telemetry.GetTracer().EndCollaboratorSpan(span, telemetry.CollaboratorSpanOptions{
		Args: map[string]interface{}{"system": system, "package": name, "version": version},
	}, err)
	if err != nil {
		return nil, err
	}

	var resp depsDevResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "decode deps.dev response")
	}
	if len(resp.Nodes) == 0 {
		msg := "deps.dev returned no nodes for " + name + "@" + version
		if resp.Error != "" {
			msg += ": " + resp.Error
		}
		return nil, errors.New(errors.ErrCodePackageMissing, msg)
	}

	g := &Resolved{
		Nodes: make([]PackageKey, len(resp.Nodes)),
		Edges: make([]ResolvedEdge, 0, len(resp.Edges)),
	}
	for i, n := range resp.Nodes {
		g.Nodes[i] = PackageKey{Name: n.VersionKey.Name, Version: n.VersionKey.Version}
	}
	for _, e := range resp.Edges {
		g.Edges = append(g.Edges, ResolvedEdge{From: e.FromNode, To: e.ToNode, Requirement: e.Requirement})
	}
	return g, nil
}

func (d *DepsDev) get(ctx context.Context, endpoint, pkg string) ([]byte, error) {
	if body, ok := d.cache.Get(endpoint); ok {
		return body, nil
	}
	if d.limiter != nil {
		if err := d.limiter.Acquire(ctx, depsDevResource); err != nil && err != ratelimit.ErrResourceUnknown {
			return nil, errors.Wrap(err, "waiting for deps.dev rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build deps.dev request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "deps.dev request for "+pkg)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read deps.dev response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.New(errors.ErrCodePackageMissing,
			"Seems the package "+pkg+" is not found on deps.dev",
			errors.WithMetadata("package", pkg))
	case resp.StatusCode == http.StatusTooManyRequests:
		if d.limiter != nil {
			d.limiter.Reduce(depsDevResource, "429 from deps.dev")
		}
		return nil, errors.New(errors.ErrCodeRateLimit, "deps.dev rate limited the request")
	case resp.StatusCode >= 500:
		return nil, errors.Newf(errors.ErrCodeUnavailable, "deps.dev returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf(errors.ErrCodeCollaborator, "deps.dev returned %d: %s",
			resp.StatusCode, truncateBody(body))
	}

	d.cache.Set(endpoint, body)
	return body, nil
}

func truncateBody(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
