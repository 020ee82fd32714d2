package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Brave searches with the Brave Search API.
type Brave struct {
	APIKey   string
	Client   *http.Client
	Endpoint string // defaults to the public API
}

// Search implements Searcher.
func (b *Brave) Search(ctx context.Context, query string, max int) ([]Result, error) {
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	q := url.Values{"q": {query}, "count": {fmt.Sprint(max)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", b.APIKey)
	req.Header.Set("Accept", "application/json")

	body, err := do(client(b.Client), req, "brave")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse brave response: %w", err)
	}
	results := make([]Result, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: stripTags(r.Description)})
	}
	return results, nil
}

// Tavily searches with the Tavily API.
type Tavily struct {
	APIKey   string
	Client   *http.Client
	Endpoint string
}

// Search implements Searcher.
func (t *Tavily) Search(ctx context.Context, query string, max int) ([]Result, error) {
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = "https://api.tavily.com/search"
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"api_key":     t.APIKey,
		"query":       query,
		"max_results": max,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := do(client(t.Client), req, "tavily")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse tavily response: %w", err)
	}
	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}

// DuckDuckGo scrapes DuckDuckGo's HTML endpoint. It needs no key.
type DuckDuckGo struct {
	Client   *http.Client
	Endpoint string
}

// Search implements Searcher.
func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]Result, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = "https://html.duckduckgo.com/html/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		endpoint+"?"+url.Values{"q": {query}}.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Lynx/2.8.9rel.1 libwww-FM/2.14")
	req.Header.Set("Accept", "text/html")

	body, err := do(client(d.Client), req, "duckduckgo")
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGo(bytes.NewReader(body), max)
}

// parseDuckDuckGo reads the results page. Each result block carries a
// result__a link and, usually, a result__snippet; the two are paired
// within their block.
func parseDuckDuckGo(page io.Reader, max int) ([]Result, error) {
	doc, err := html.Parse(page)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duckduckgo page: %w", err)
	}

	var results []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(results) >= max {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result") {
			if r, ok := ddgResult(n); ok {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func ddgResult(block *html.Node) (Result, bool) {
	link := find(block, "result__a")
	if link == nil {
		return Result{}, false
	}
	target := attr(link, "href")
	// Results link through a redirect carrying the real URL in uddg.
	if u, err := url.Parse(target); err == nil {
		if real := u.Query().Get("uddg"); real != "" {
			target = real
		}
	}
	if !strings.HasPrefix(target, "http") {
		return Result{}, false
	}
	r := Result{Title: text(link), URL: target}
	if snippet := find(block, "result__snippet"); snippet != nil {
		r.Snippet = text(snippet)
	}
	return r, true
}

// find returns the first element under n with the given class.
func find(n *html.Node, class string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasClass(c, class) {
			return c
		}
		if found := find(c, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// text returns the whitespace-normalized text under the given nodes.
func text(nodes ...*html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// stripTags reduces an HTML fragment to its text.
func stripTags(s string) string {
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return strings.TrimSpace(s)
	}
	return text(nodes...)
}

func client(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

func do(c *http.Client, req *http.Request, name string) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s search failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s search error (%d): %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
