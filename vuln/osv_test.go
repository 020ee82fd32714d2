package vuln

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/Mohannadcse/DepsRAG/errors"
)

const osvResponse = `{"vulns":[
	{"id":"GHSA-1","summary":"path traversal","references":[{"type":"WEB","url":"https://x"}],
	 "affected":[{"package":{"name":"chainlit","ecosystem":"PyPI"},"versions":["1.0.0","1.1.200"],"ranges":[]}]},
	{"id":"GHSA-2","references":[],"affected":[{"versions":["1.1.200"]},{"versions":["0.7"]}]}
]}`

func TestStrip(t *testing.T) {
	out, err := Strip([]byte(osvResponse))
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	if !gjson.ValidBytes(out) {
		t.Fatalf("invalid JSON: %s", out)
	}
	if gjson.GetBytes(out, "vulns.#").Int() != 2 {
		t.Errorf("vulns lost: %s", out)
	}
	if strings.Contains(string(out), "references") || strings.Contains(string(out), `"versions"`) {
		t.Errorf("not stripped: %s", out)
	}
	if gjson.GetBytes(out, "vulns.0.affected.0.package.name").String() != "chainlit" {
		t.Errorf("affected package dropped: %s", out)
	}

	empty, err := Strip([]byte(`{}`))
	if err != nil || string(empty) != "{}" {
		t.Errorf("Strip({}) = %s, %v", empty, err)
	}
}

func TestOSV_Check(t *testing.T) {
	var got osvQuery
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost || r.URL.Path != "/query" {
			http.Error(w, "bad route", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		if got.Package.Name == "broken" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(osvResponse))
	}))
	defer srv.Close()

	c := NewOSV(srv.URL)
	ctx := context.Background()

	out, err := c.Check(ctx, "chainlit", "1.1.200", "pypi")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got.Package.Ecosystem != "PyPI" || got.Version != "1.1.200" {
		t.Errorf("query = %+v", got)
	}
	if strings.Contains(string(out), "references") {
		t.Errorf("response not stripped: %s", out)
	}
	if s := Summary(out); !strings.Contains(s, "2 known vulnerabilities") || !strings.Contains(s, "GHSA-1: path traversal") {
		t.Errorf("Summary = %q", s)
	}

	tests := []struct {
		name    string
		pkg     string
		pkgType string
		code    errors.ErrorCode
	}{
		{"server error", "broken", "pypi", errors.ErrCodeUnavailable},
		{"unknown ecosystem", "x", "hex", errors.ErrCodeUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Check(ctx, tt.pkg, "1", tt.pkgType)
			if !errors.Is(err, tt.code) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSummary_NoVulns(t *testing.T) {
	if s := Summary(json.RawMessage(`{}`)); s != "No known vulnerabilities." {
		t.Errorf("Summary = %q", s)
	}
}
