package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/ratelimit"
)

type keys map[string]string

func (k keys) GetAPIKey(p string) string { return k[p] }

func TestNew_ProviderSelection(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		keys     keys
		want     string
		wantErr  bool
	}{
		{"auto prefers brave", "auto", keys{"brave": "b", "tavily": "t"}, "*websearch.Brave", false},
		{"auto falls to tavily", "", keys{"tavily": "t"}, "*websearch.Tavily", false},
		{"auto without keys", "auto", nil, "*websearch.DuckDuckGo", false},
		{"explicit ddg", "ddg", nil, "*websearch.DuckDuckGo", false},
		{"brave without key", "brave", keys{}, "", true},
		{"unknown", "bing", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var kp KeyProvider
			if tt.keys != nil {
				kp = tt.keys
			}
			s, err := New(tt.provider, kp, time.Millisecond, nil)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrCodeConfigInvalid) {
					t.Fatalf("err = %v, want CONFIG_INVALID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			paced, ok := s.(*Paced)
			if !ok {
				t.Fatalf("searcher is %T, want *Paced", s)
			}
			if got := typeName(paced.next); got != tt.want {
				t.Errorf("inner searcher = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(s Searcher) string {
	switch s.(type) {
	case *Brave:
		return "*websearch.Brave"
	case *Tavily:
		return "*websearch.Tavily"
	case *DuckDuckGo:
		return "*websearch.DuckDuckGo"
	}
	return "?"
}

func TestBrave_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("q") != "chainlit license" || r.URL.Query().Get("count") != "2" {
			t.Errorf("query = %v", r.URL.Query())
		}
		w.Write([]byte(`{"web":{"results":[
			{"title":"Chainlit","url":"https://github.com/Chainlit/chainlit","description":"Apache <strong>2.0</strong>"}]}}`))
	}))
	defer srv.Close()

	b := &Brave{APIKey: "secret", Endpoint: srv.URL}
	results, err := b.Search(context.Background(), "chainlit license", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Snippet != "Apache 2.0" {
		t.Errorf("results = %+v", results)
	}

	b.APIKey = "wrong"
	if _, err := b.Search(context.Background(), "q", 1); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v", err)
	}
}

func TestTavily_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["api_key"] != "tk" || req["max_results"] != float64(3) {
			t.Errorf("request = %v", req)
		}
		w.Write([]byte(`{"results":[{"title":"A","url":"https://a","content":"alpha"},{"title":"B","url":"https://b","content":"beta"}]}`))
	}))
	defer srv.Close()

	results, err := (&Tavily{APIKey: "tk", Endpoint: srv.URL}).Search(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[1].Snippet != "beta" {
		t.Errorf("results = %+v", results)
	}
}

func TestParseDuckDuckGo(t *testing.T) {
	page := `
<div class="results">
<div class="result results_links web-result">
  <h2 class="result__title">
    <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fpypi.org%2Fproject%2Fchainlit%2F&amp;rut=abc">chainlit &middot; <b>PyPI</b></a>
  </h2>
  <a class="result__snippet" href="x">Build <b>LLM</b> apps &amp; more</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="/relative">skip me</a>
  <a class="result__snippet" href="y">ignored</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://docs.chainlit.io/">Chainlit docs</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://github.com/Chainlit/chainlit">GitHub</a>
  <a class="result__snippet" href="z">source</a>
</div>
</div>`

	results, err := parseDuckDuckGo(strings.NewReader(page), 5)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Result{
		{Title: "chainlit · PyPI", URL: "https://pypi.org/project/chainlit/", Snippet: "Build LLM apps & more"},
		{Title: "Chainlit docs", URL: "https://docs.chainlit.io/"},
		{Title: "GitHub", URL: "https://github.com/Chainlit/chainlit", Snippet: "source"},
	}
	if len(results) != len(want) {
		t.Fatalf("results = %+v", results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result[%d] = %+v, want %+v", i, results[i], want[i])
		}
	}

	got, err := parseDuckDuckGo(strings.NewReader(page), 1)
	if err != nil || len(got) != 1 {
		t.Errorf("max not honored: %d, %v", len(got), err)
	}
}

func TestStripTags(t *testing.T) {
	tests := map[string]string{
		"Apache <strong>2.0</strong>": "Apache 2.0",
		"plain":                       "plain",
		"a &amp; b <em>c</em>\n d":    "a & b c d",
		"<b>unterminated":             "unterminated",
	}
	for in, want := range tests {
		if got := stripTags(in); got != want {
			t.Errorf("stripTags(%q) = %q, want %q", in, got, want)
		}
	}
}

type countingSearcher struct {
	calls []time.Time
	max   int
}

func (c *countingSearcher) Search(_ context.Context, _ string, max int) ([]Result, error) {
	c.calls = append(c.calls, time.Now())
	c.max = max
	out := make([]Result, 20)
	return out, nil
}

func TestPaced_Cooldown(t *testing.T) {
	inner := &countingSearcher{}
	p := NewPaced(inner, ratelimit.NewMemoryLimiter(), 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := p.Search(ctx, "q", 25)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(res) != MaxResults || inner.max != MaxResults {
			t.Errorf("results not capped: %d (asked %d)", len(res), inner.max)
		}
	}
	if gap := inner.calls[1].Sub(inner.calls[0]); gap < 40*time.Millisecond {
		t.Errorf("searches only %v apart", gap)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.Search(cctx, "q", 1); err == nil {
		t.Error("expected cancellation while waiting for the cooldown")
	}
}

func TestFormat(t *testing.T) {
	if Format(nil) != "No results found." {
		t.Error("empty format")
	}
	out := Format([]Result{{Title: "T", URL: "https://u", Snippet: "s"}})
	if out != "1. T\nhttps://u\ns" {
		t.Errorf("Format = %q", out)
	}
}
