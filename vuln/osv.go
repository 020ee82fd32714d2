// Package vuln looks up known vulnerabilities of a package version in OSV.
package vuln

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Mohannadcse/DepsRAG/cache"
	"github.com/Mohannadcse/DepsRAG/ecosystem"
	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/ratelimit"
	"github.com/Mohannadcse/DepsRAG/telemetry"
)

// DefaultOSVURL is the public OSV API.
const DefaultOSVURL = "https://api.osv.dev/v1"

const osvResource = "osv"

// Checker reports the vulnerabilities of a package version.
type Checker interface {
	Check(ctx context.Context, name, version, pkgType string) (json.RawMessage, error)
}

// OSV queries api.osv.dev.
type OSV struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
	limiter ratelimit.Limiter
}

// Option configures an OSV client.
type Option func(*OSV)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OSV) { o.client = c }
}

// WithCache caches stripped responses per package version.
func WithCache(c *cache.Cache) Option {
	return func(o *OSV) { o.cache = c }
}

// WithLimiter paces requests through the "osv" resource of l.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *OSV) { o.limiter = l }
}

// NewOSV creates a client for baseURL, or DefaultOSVURL if empty.
func NewOSV(baseURL string, opts ...Option) *OSV {
	if baseURL == "" {
		baseURL = DefaultOSVURL
	}
	o := &OSV{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type osvQuery struct {
	Version string     `json:"version"`
	Package osvPackage `json:"package"`
}

type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

// Check returns OSV's vulnerability list for the package version, with
// each entry's references and affected version lists removed. A package
// without known vulnerabilities yields "{}".
func (o *OSV) Check(ctx context.Context, name, version, pkgType string) (json.RawMessage, error) {
	eco, err := ecosystem.Lookup(pkgType)
	if err != nil {
		return nil, err
	}
	key := eco.OSV + "/" + name + "@" + version
	if body, ok := o.cache.Get(key); ok {
		return json.RawMessage(body), nil
	}

	ctx, span := telemetry.GetTracer().StartCollaboratorSpan(ctx, "osv")
	body, err := o.query(ctx, osvQuery{Version: version, Package: osvPackage{Name: name, Ecosystem: eco.OSV}})
	var stripped []byte
	if err == nil {
		stripped, err = Strip(body)
	}
	telemetry.GetTracer().EndCollaboratorSpan(span, telemetry.CollaboratorSpanOptions{
		Args:   map[string]interface{}{"package": key},
		Result: fmt.Sprintf("%d vulns", gjson.GetBytes(stripped, "vulns.#").Int()),
	}, err)
	if err != nil {
		return nil, err
	}

	o.cache.Set(key, stripped)
	return json.RawMessage(stripped), nil
}

func (o *OSV) query(ctx context.Context, q osvQuery) ([]byte, error) {
	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx, osvResource); err != nil && err != ratelimit.ErrResourceUnknown {
			return nil, errors.Wrap(err, "waiting for OSV rate limit")
		}
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, errors.Wrap(err, "encode OSV query")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build OSV request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "OSV request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read OSV response")
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if o.limiter != nil {
			o.limiter.Reduce(osvResource, "429 from OSV")
		}
		return nil, errors.New(errors.ErrCodeRateLimit, "OSV rate limited the request")
	case resp.StatusCode >= 500:
		return nil, errors.Newf(errors.ErrCodeUnavailable, "OSV returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf(errors.ErrCodeCollaborator, "OSV returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New(errors.ErrCodeCollaborator, "OSV returned invalid JSON")
	}
	return body, nil
}

// Strip removes vulns[].references and vulns[].affected[].versions, which
// are long and carry nothing a model needs to judge exposure.
func Strip(body []byte) ([]byte, error) {
	out := body
	var err error
	n := int(gjson.GetBytes(body, "vulns.#").Int())
	for i := 0; i < n; i++ {
		if out, err = sjson.DeleteBytes(out, fmt.Sprintf("vulns.%d.references", i)); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "strip OSV references")
		}
		affected := int(gjson.GetBytes(out, fmt.Sprintf("vulns.%d.affected.#", i)).Int())
		for j := 0; j < affected; j++ {
			if out, err = sjson.DeleteBytes(out, fmt.Sprintf("vulns.%d.affected.%d.versions", i, j)); err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "strip OSV versions")
			}
		}
	}
	return out, nil
}

// Summary renders a short human description of a stripped OSV response.
func Summary(body json.RawMessage) string {
	vulns := gjson.GetBytes(body, "vulns")
	if !vulns.Exists() || len(vulns.Array()) == 0 {
		return "No known vulnerabilities."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d known vulnerabilities:", len(vulns.Array()))
	vulns.ForEach(func(_, v gjson.Result) bool {
		fmt.Fprintf(&b, "\n- %s", v.Get("id").String())
		if s := v.Get("summary").String(); s != "" {
			fmt.Fprintf(&b, ": %s", s)
		}
		return true
	})
	return b.String()
}
