package graphquery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/graph"
	"github.com/Mohannadcse/DepsRAG/llm"
	"github.com/Mohannadcse/DepsRAG/tasks"
	"github.com/Mohannadcse/DepsRAG/tools"
	"github.com/Mohannadcse/DepsRAG/visualize"
)

func newStore(t *testing.T) graph.Store {
	t.Helper()
	ctx := context.Background()
	s, err := graph.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close(ctx) })

	err = s.Merge(ctx, "PyPi", &graph.Resolved{
		Nodes: []graph.PackageKey{
			{Name: "chainlit", Version: "1.1.200"},
			{Name: "httpx", Version: "0.27.0"},
			{Name: "anyio", Version: "4.4.0"},
		},
		Edges: []graph.ResolvedEdge{
			{From: 0, To: 1, Requirement: ">=0.23.0"},
			{From: 1, To: 2, Requirement: "*"},
		},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return s
}

type fakeConstructor struct {
	result graph.ConstructResult
	calls  int
}

func (f *fakeConstructor) Construct(context.Context, string, string, string) graph.ConstructResult {
	f.calls++
	return f.result
}

func run(t *testing.T, a *Agent, msg tools.Message) *tasks.Result {
	t.Helper()
	task, err := tasks.New(a, tasks.Config{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := task.Run(context.Background(), agent.Envelope{
		From:    tools.Assistant,
		Source:  agent.SourceAgent,
		Message: msg,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != tasks.StatusDone {
		t.Fatalf("status = %s, want done", res.Status)
	}
	return res
}

func ask(q string) tools.Question {
	return tools.Question{Question: q, TargetAgent: tools.GraphQueryAgent}
}

func TestQueryDone(t *testing.T) {
	s := Ask(Initial(), "how many?")
	s, reply := QueryDone(s, graph.QueryResult{Success: true, Rows: []map[string]interface{}{{"n": 3}}}, "schema", 2)
	if s.Phase != PhaseComposingAnswer || reply.Kind != agent.ReplyContinue || reply.Text != "n: 3" {
		t.Fatalf("success: phase %s reply %+v", s.Phase, reply)
	}

	s = Ask(s, "again?")
	bad := graph.QueryResult{Error: "no such table: nodes"}
	for i := 1; i <= 2; i++ {
		s, reply = QueryDone(s, bad, "schema", 2)
		if reply.Kind != agent.ReplyContinue || !strings.Contains(reply.Text, "FIX the query") {
			t.Fatalf("correction %d: %+v", i, reply)
		}
	}
	s, reply = QueryDone(s, bad, "schema", 2)
	ans, ok := reply.Message.(tools.Answer)
	if reply.Kind != agent.ReplyDone || !ok || !strings.Contains(ans.Answer, "could not resolve") {
		t.Fatalf("exhausted: %+v", reply)
	}
	if s.Phase != PhaseIdle || s.Stats.CorrectedQueries != 3 || s.Stats.Questions != 2 {
		t.Errorf("state = %+v", s)
	}
}

func TestGraphQuery_AnswersQuestion(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Text("Nodes: Package(name, version). Edges: DEPENDS_ON(requirement)."),
		llm.Call("retrieval_query", map[string]interface{}{"query": "SELECT COUNT(*) AS n FROM packages"}),
		llm.Text("There are 3 packages."),
	)
	a := New(Options{Provider: p, Store: newStore(t)})

	res := run(t, a, ask("How many packages are in the graph?"))
	ans, ok := res.Message.(tools.Answer)
	if !ok {
		t.Fatalf("message = %T", res.Message)
	}
	for _, want := range []string{
		"results for the question: How many packages are in the graph?",
		"There are 3 packages.",
		"Decide if you want to ask any further questions",
	} {
		if !strings.Contains(ans.Answer, want) {
			t.Errorf("answer missing %q:\n%s", want, ans.Answer)
		}
	}

	reqs := p.Requests()
	if len(reqs[0].Tools) != 0 || !strings.Contains(reqs[0].Messages[1].Content, "graph schema") {
		t.Errorf("schema summary request = %+v", reqs[0])
	}
	if !strings.Contains(reqs[1].Messages[1].Content, "Package(name, version)") {
		t.Errorf("question prompt does not carry the summary: %q", reqs[1].Messages[1].Content)
	}
	if !strings.Contains(reqs[2].Messages[1].Content, "Provide concise answer: n: 3") {
		t.Errorf("compose prompt = %q", reqs[2].Messages[1].Content)
	}

	// The summary is cached for the next question.
	p.Push(
		llm.Call("retrieval_query", map[string]interface{}{"query": "SELECT name FROM packages WHERE name = 'anyio'"}),
		llm.Text("anyio is in the graph."),
	)
	run(t, a, ask("Is anyio a dependency?"))
	if p.Remaining() != 0 {
		t.Errorf("%d scripted replies unused", p.Remaining())
	}
}

func TestGraphQuery_QueryCorrectionsBounded(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Text("summary"),
		llm.Call("retrieval_query", map[string]interface{}{"query": "MATCH (n) RETURN n"}),
		llm.Call("retrieval_query", map[string]interface{}{"query": "DROP TABLE packages"}),
	)
	a := New(Options{Provider: p, Store: newStore(t), MaxQueryCorrections: 1})

	res := run(t, a, ask("list packages"))
	ans := res.Message.(tools.Answer)
	if !strings.HasPrefix(ans.Answer, "could not resolve the question: list packages") {
		t.Errorf("answer = %q", ans.Answer)
	}
	if a.Stats().CorrectedQueries != 2 {
		t.Errorf("corrected = %d, want 2", a.Stats().CorrectedQueries)
	}
	reqs := p.Requests()
	last := reqs[2].Messages[len(reqs[2].Messages)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "FIX the query") {
		t.Errorf("fix prompt = %+v", last)
	}
}

func TestGraphQuery_Visualize(t *testing.T) {
	dir := t.TempDir()
	p := llm.NewScriptedProvider(
		llm.Text("summary"),
		llm.Call("visualize_dependency_graph", map[string]interface{}{
			"package_name": "chainlit", "package_version": "1.1.200", "package_type": "pypi", "query": "show it",
		}),
		llm.Text("The graph is at the link."),
	)
	a := New(Options{Provider: p, Store: newStore(t), Renderer: visualize.NewHTML(dir, "/host/html")})

	run(t, a, ask("Show me the graph"))
	compose := p.Requests()[2].Messages[1].Content
	if !strings.Contains(compose, "file:///host/html/"+visualize.DefaultFileName) {
		t.Errorf("compose prompt = %q", compose)
	}
}

type brokenRenderer struct{}

func (brokenRenderer) Render(context.Context, *graph.Snapshot) (string, error) {
	return "", errors.New("disk full")
}

func TestGraphQuery_VisualizeFailure(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Text("summary"),
		llm.Call("visualize_dependency_graph", map[string]interface{}{
			"package_name": "chainlit", "package_version": "1.1.200", "package_type": "pypi",
		}),
		llm.Text("Could not draw it."),
	)
	a := New(Options{Provider: p, Store: newStore(t), Renderer: brokenRenderer{}})

	run(t, a, ask("Show me the graph"))
	if got := p.Requests()[2].Messages[1].Content; !strings.Contains(got, "Failed to create visualization: disk full") {
		t.Errorf("compose prompt = %q", got)
	}
}

func TestGraphQuery_FallbackEscalates(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Text("summary"),
		llm.Text("chainlit has a few dependencies"),
		llm.Text("still no tool"),
	)
	a := New(Options{Provider: p, Store: newStore(t), FallbackLimit: 1})

	res := run(t, a, ask("what does chainlit depend on?"))
	ans := res.Message.(tools.Answer)
	if !strings.Contains(ans.Answer, "could not resolve") {
		t.Errorf("answer = %q", ans.Answer)
	}
	last := p.Requests()[2].Messages
	if !strings.Contains(last[len(last)-1].Content, "You forgot to use the `retrieval_query` tool") {
		t.Errorf("reminder = %q", last[len(last)-1].Content)
	}
}

func TestGraphQuery_Construct(t *testing.T) {
	tests := []struct {
		name   string
		result graph.ConstructResult
	}{
		{"created", graph.ConstructResult{Success: true, Status: graph.StatusCreated, Answer: "Database is created!", Nodes: 4, Edges: 3}},
		{"exists", graph.ConstructResult{Success: true, Status: graph.StatusExists, Answer: "Database Exists"}},
		{"failed", graph.ConstructResult{Status: graph.StatusFailed, Answer: "Database is not created! Seems the package nope is not found"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeConstructor{result: tt.result}
			a := New(Options{Provider: llm.NewScriptedProvider(), Store: newStore(t), Constructor: c})

			res := run(t, a, tools.ConstructGraph{PackageName: "chainlit", PackageVersion: "1.1.200", PackageType: "pypi"})
			done, ok := res.Message.(tools.ConstructGraphDone)
			if !ok || c.calls != 1 {
				t.Fatalf("message = %+v, calls = %d", res.Message, c.calls)
			}
			if done.Status != tt.result.Status || done.Answer != tt.result.Answer || done.Nodes != tt.result.Nodes {
				t.Errorf("done = %+v", done)
			}
			if done.Validate() != nil {
				t.Errorf("invalid done message: %v", done.Validate())
			}
		})
	}
}

func TestGraphQuery_AnswerBeforeQueryIsRejected(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Text("summary"),
		llm.Call("answer_tool", map[string]interface{}{"answer": "42, trust me"}),
		llm.Call("retrieval_query", map[string]interface{}{"query": "SELECT COUNT(*) AS n FROM packages"}),
		llm.Text("There are 3 packages."),
	)
	a := New(Options{Provider: p, Store: newStore(t)})

	res := run(t, a, ask("How many packages are in the graph?"))
	ans := res.Message.(tools.Answer)
	if strings.Contains(ans.Answer, "trust me") || !strings.Contains(ans.Answer, "There are 3 packages.") {
		t.Errorf("answer = %q", ans.Answer)
	}

	reqs := p.Requests()
	if len(reqs) != 4 {
		t.Fatalf("requests = %d, want 4", len(reqs))
	}
	last := reqs[2].Messages[len(reqs[2].Messages)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "You forgot to use the `retrieval_query` tool") ||
		!strings.Contains(last.Content, "answer_tool was not offered") {
		t.Errorf("reminder = %+v", last)
	}
	if a.State().Phase != PhaseIdle {
		t.Errorf("phase = %s, want idle", a.State().Phase)
	}
}

func TestGraphQuery_IgnoresAnswerWithoutResults(t *testing.T) {
	ctx := context.Background()
	a := New(Options{Provider: llm.NewScriptedProvider(llm.Text("summary")), Store: newStore(t)})
	a.Handle(ctx, agent.Envelope{Source: agent.SourceAgent, Message: ask("how many?")})

	reply, ok := a.Handle(ctx, agent.Envelope{Source: agent.SourceLLM, Message: tools.Answer{Answer: "42"}})
	if !ok || reply.Kind != agent.ReplyIgnore {
		t.Fatalf("reply = %+v, handled = %v", reply, ok)
	}
	if a.State().Phase != PhaseAwaitingRetrievalQuery || a.State().Question != "how many?" {
		t.Errorf("state = %+v", a.State())
	}
}

func TestGraphQuery_RawSchemaWhenSummaryFails(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Fail(errors.New("overloaded")),
		llm.Call("retrieval_query", map[string]interface{}{"query": "MATCH (n) RETURN n"}),
		llm.Call("retrieval_query", map[string]interface{}{"query": "SELECT COUNT(*) AS n FROM packages"}),
		llm.Text("There are 3 packages."),
	)
	a := New(Options{Provider: p, Store: newStore(t)})

	run(t, a, ask("How many packages?"))
	reqs := p.Requests()
	prompt := reqs[1].Messages[1].Content
	fix := reqs[2].Messages[len(reqs[2].Messages)-1].Content
	if !strings.Contains(prompt, "PyPi") {
		t.Fatalf("question prompt lacks the raw schema: %q", prompt)
	}
	if !strings.Contains(fix, "FIX the query") || !strings.Contains(fix, "PyPi") {
		t.Errorf("fix prompt lacks the raw schema: %q", fix)
	}
}
