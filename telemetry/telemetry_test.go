package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNoopExporter(t *testing.T) {
	exp := NewNoopExporter()

	// Should not panic
	exp.LogEvent("handoff", map[string]interface{}{"to": "Critic"})
	exp.LogEntry(Entry{Content: "test"})

	if err := exp.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")

	exp, err := NewFileExporter(path)
	if err != nil {
		t.Fatalf("NewFileExporter() error = %v", err)
	}
	defer exp.Close()

	exp.LogEvent("critic_verdict", map[string]interface{}{"accepted": true})
	exp.LogEntry(Entry{
		SessionID: "sess-123",
		Agent:     "GraphQueryAgent",
		Phase:     "awaiting_retrieval_query",
		Role:      "llm",
		Kind:      "retrieval_query",
		Content:   "SELECT COUNT(*) FROM packages",
		Tokens:    TokenCount{Input: 100, Output: 50},
		Latency:   time.Second,
		Model:     "test-model",
		Turn:      3,
	})
	exp.Flush()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var entry Entry
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.Agent != "GraphQueryAgent" || entry.Kind != "retrieval_query" || entry.Turn != 3 {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
}

func TestHTTPExporter_Flush(t *testing.T) {
	var got []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL)
	exp.LogEntry(Entry{Agent: "Critic", Content: "looks good"})
	exp.LogEvent("question_complete", nil)
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records posted, got %d", len(got))
	}
	if got[0]["agent"] != "Critic" {
		t.Errorf("first record = %v", got[0])
	}
}

func TestHTTPExporter_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL)
	exp.LogEvent("x", nil)
	if err := exp.Flush(); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestMemoryExporter(t *testing.T) {
	exp := NewMemoryExporter()
	exp.LogEntry(Entry{Agent: "Assistant"})
	exp.LogEntry(Entry{Agent: "Critic"})
	exp.LogEvent("escalation", map[string]interface{}{"agent": "Critic"})

	entries := exp.Entries()
	if len(entries) != 2 || entries[1].Agent != "Critic" {
		t.Errorf("entries = %+v", entries)
	}
	entries[0].Agent = "mutated"
	if exp.Entries()[0].Agent != "Assistant" {
		t.Error("Entries() should return a copy")
	}
	if len(exp.Events()) != 1 {
		t.Errorf("events = %+v", exp.Events())
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		protocol string
		endpoint string
		wantErr  bool
	}{
		{"noop", "", false},
		{"", "", false},
		{"http", "http://localhost:0", false},
		{"file", filepath.Join(t.TempDir(), "t.jsonl"), false},
		{"file", filepath.Join(t.TempDir(), "missing", "dir", "t.jsonl"), true},
		{"unknown", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			exp, err := NewExporter(tt.protocol, tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExporter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if exp != nil && tt.protocol != "http" {
				exp.Close()
			}
		})
	}
}

func TestGetTracer_DefaultIsNoop(t *testing.T) {
	tr := GetTracer()
	ctx, span := tr.StartTurnSpan(context.Background(), "Assistant", 1)
	if ctx == nil || span == nil {
		t.Fatal("expected usable context and span")
	}
	tr.EndTurnSpan(span, TurnSpanOptions{Phase: "idle", Reply: "continue"}, nil)

	_, span = tr.StartCollaboratorSpan(context.Background(), "graph.read")
	tr.EndCollaboratorSpan(span, CollaboratorSpanOptions{Args: map[string]interface{}{"n": 3}}, errors.New("boom"))

	_, span = tr.StartLLMSpan(context.Background(), "llm.chat")
	tr.EndLLMSpan(span, LLMSpanOptions{Model: "m", ToolCalls: []string{"question_tool"}}, nil)
}

func TestTracer_Debug(t *testing.T) {
	tr := NewTracer("test", false)
	if tr.Debug() {
		t.Error("debug should start false")
	}
	tr.SetDebug(true)
	if !tr.Debug() {
		t.Error("SetDebug(true) had no effect")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   interface{}
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghij", 4, "abcd..."},
		{42, 10, "42"},
		{[]string{"a"}, 10, "[a]"},
	}
	for _, tt := range tests {
		if got := truncateAny(tt.in, tt.max); got != tt.want {
			t.Errorf("truncateAny(%v, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestInitProvider_RequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if _, err := InitProvider(context.Background(), ProviderConfig{}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestInitProvider_UnknownProtocol(t *testing.T) {
	if _, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier"}); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}
