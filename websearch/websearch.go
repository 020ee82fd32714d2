// Package websearch runs web searches for the RetrievalAgent.
//
// Brave and Tavily need API keys; DuckDuckGo's HTML endpoint needs none
// and is the fallback. Every searcher is paced so that consecutive
// requests are at least a cooldown apart.
package websearch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/ratelimit"
	"github.com/Mohannadcse/DepsRAG/telemetry"
)

// DefaultCooldown is the minimum gap between two searches.
const DefaultCooldown = 500 * time.Millisecond

// MaxResults caps the number of results a search may ask for.
const MaxResults = 10

// Provider names.
const (
	ProviderAuto       = "auto"
	ProviderBrave      = "brave"
	ProviderTavily     = "tavily"
	ProviderDuckDuckGo = "duckduckgo"
)

const searchResource = "search"

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

// KeyProvider supplies API keys by provider name.
type KeyProvider interface {
	GetAPIKey(provider string) string
}

// New picks a searcher. With ProviderAuto it uses Brave if a key is
// available, then Tavily, then DuckDuckGo. The result is paced by cooldown.
func New(provider string, keys KeyProvider, cooldown time.Duration, client *http.Client) (Searcher, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	key := func(p string) string {
		if keys == nil {
			return ""
		}
		return keys.GetAPIKey(p)
	}

	var s Searcher
	switch strings.ToLower(provider) {
	case "", ProviderAuto:
		switch {
		case key(ProviderBrave) != "":
			s = &Brave{APIKey: key(ProviderBrave), Client: client}
		case key(ProviderTavily) != "":
			s = &Tavily{APIKey: key(ProviderTavily), Client: client}
		default:
			s = &DuckDuckGo{Client: client}
		}
	case ProviderBrave:
		if key(ProviderBrave) == "" {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "brave search requires an API key")
		}
		s = &Brave{APIKey: key(ProviderBrave), Client: client}
	case ProviderTavily:
		if key(ProviderTavily) == "" {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "tavily search requires an API key")
		}
		s = &Tavily{APIKey: key(ProviderTavily), Client: client}
	case ProviderDuckDuckGo, "ddg":
		s = &DuckDuckGo{Client: client}
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown search provider %q (want auto, brave, tavily or duckduckgo)", provider))
	}
	return NewPaced(s, ratelimit.NewMemoryLimiter(), cooldown), nil
}

// Paced serializes searches through a one-token bucket so that requests
// are at least a cooldown apart.
type Paced struct {
	next    Searcher
	limiter ratelimit.Limiter
}

// NewPaced wraps s. A non-positive cooldown uses DefaultCooldown.
func NewPaced(s Searcher, l ratelimit.Limiter, cooldown time.Duration) *Paced {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	l.SetCapacity(searchResource, 1, cooldown)
	return &Paced{next: s, limiter: l}
}

// Search implements Searcher.
func (p *Paced) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if err := p.limiter.Acquire(ctx, searchResource); err != nil {
		return nil, errors.Wrap(err, "waiting for search cooldown")
	}
	if max <= 0 {
		max = 3
	}
	if max > MaxResults {
		max = MaxResults
	}

	ctx, span := telemetry.GetTracer().StartCollaboratorSpan(ctx, "web_search")
	results, err := p.next.Search(ctx, query, max)
	telemetry.GetTracer().EndCollaboratorSpan(span, telemetry.CollaboratorSpanOptions{
		Args:   map[string]interface{}{"query": query, "max": max},
		Result: fmt.Sprintf("%d results", len(results)),
	}, err)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCollaborator, "web search failed")
	}
	if len(results) > max {
		results = results[:max]
	}
	return results, nil
}

// Format renders results as the text handed to the model.
func Format(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n%s", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}
