package assistant

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/critic"
	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/llm"
	"github.com/Mohannadcse/DepsRAG/tasks"
	"github.com/Mohannadcse/DepsRAG/tools"
)

func TestStart(t *testing.T) {
	tests := []struct {
		name      string
		from      State
		wantPhase Phase
		wantQuery string
	}{
		{"first query", State{Phase: PhaseIdle}, PhaseAwaitingConstructAck, "q"},
		{"package details", State{Phase: PhaseAwaitingConstructAck, Query: "old"}, PhaseAwaitingConstructAck, "q"},
		{"new question", State{Phase: PhaseAcceptingNewQuestion, Rounds: 4, GraphReady: true}, PhaseAwaitingQuestion, "q"},
		{"mid question", State{Phase: PhaseAwaitingSearchAnswer, Query: "orig"}, PhaseAwaitingSearchAnswer, "orig"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Start(tt.from, "q")
			if s.Phase != tt.wantPhase || s.Query != tt.wantQuery {
				t.Errorf("got (%s, %q), want (%s, %q)", s.Phase, s.Query, tt.wantPhase, tt.wantQuery)
			}
			if tt.wantPhase == PhaseAwaitingQuestion && s.Rounds != 0 {
				t.Errorf("rounds not reset: %d", s.Rounds)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	final := tools.FinalAnswer{Steps: "s", Answer: "a"}
	reject := tools.Feedback{Feedback: "no", SuggestedFix: "fix"}

	tests := []struct {
		name       string
		from       Phase
		msg        tools.Message
		wantPhase  Phase
		wantKind   agent.ReplyKind
		wantTarget string
	}{
		{"construct forwarded", PhaseAwaitingConstructAck,
			tools.ConstructGraph{PackageName: "chainlit", PackageVersion: "1.1.200", PackageType: "pypi"},
			PhaseAwaitingConstructAck, agent.ReplyForward, tools.GraphQueryAgent},
		{"construct after graph", PhaseAwaitingQuestion, tools.ConstructGraph{}, PhaseAwaitingQuestion, agent.ReplyIgnore, ""},
		{"graph ready", PhaseAwaitingConstructAck, tools.ConstructGraphDone{Answer: "Database is created!", Status: tools.StatusCreated},
			PhaseAcceptingNewQuestion, agent.ReplyAskUser, ""},
		{"graph failed", PhaseAwaitingConstructAck, tools.ConstructGraphDone{Answer: "not found", Status: tools.StatusFailed},
			PhaseIdle, agent.ReplyFinish, ""},
		{"ask new question", PhaseAcceptingNewQuestion, tools.AskNewQuestion{}, PhaseAcceptingNewQuestion, agent.ReplyAskUser, ""},
		{"question", PhaseAwaitingQuestion, tools.Question{Question: "q", TargetAgent: tools.RetrievalAgent},
			PhaseAwaitingSearchAnswer, agent.ReplyForward, tools.RetrievalAgent},
		{"follow-up question", PhaseAwaitingQuestionOrFinal, tools.Question{Question: "q", TargetAgent: tools.GraphQueryAgent},
			PhaseAwaitingSearchAnswer, agent.ReplyForward, tools.GraphQueryAgent},
		{"question while waiting", PhaseAwaitingSearchAnswer, tools.Question{Question: "q", TargetAgent: tools.GraphQueryAgent},
			PhaseAwaitingSearchAnswer, agent.ReplyIgnore, ""},
		{"answer", PhaseAwaitingSearchAnswer, tools.Answer{Answer: "42"}, PhaseAwaitingQuestionOrFinal, agent.ReplyContinue, ""},
		{"final answer to critic", PhaseAwaitingQuestionOrFinal, final, PhaseAwaitingFeedback, agent.ReplyForward, tools.Critic},
		{"stale final answer", PhaseAwaitingQuestion, final, PhaseAwaitingQuestion, agent.ReplyIgnore, ""},
		{"accepted", PhaseAwaitingFeedback, tools.Feedback{Feedback: "good"}, PhaseAcceptingNewQuestion, agent.ReplyFinish, ""},
		{"rejected", PhaseAwaitingFeedback, reject, PhaseAwaitingQuestionOrFinal, agent.ReplyContinue, ""},
		{"duplicate feedback", PhaseAwaitingQuestionOrFinal, reject, PhaseAwaitingQuestionOrFinal, agent.ReplyIgnore, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, reply := Transition(State{Phase: tt.from, Query: "orig"}, tt.msg, DefaultMaxCriticRounds)
			if s.Phase != tt.wantPhase {
				t.Errorf("phase = %s, want %s", s.Phase, tt.wantPhase)
			}
			if reply.Kind != tt.wantKind {
				t.Errorf("reply = %s, want %s", reply.Kind, tt.wantKind)
			}
			if reply.Target != tt.wantTarget {
				t.Errorf("target = %q, want %q", reply.Target, tt.wantTarget)
			}
		})
	}
}

func TestTransition_FinalAnswerCarriesQuery(t *testing.T) {
	s := State{Phase: PhaseAwaitingQuestionOrFinal, Query: "density of chainlit?"}
	s, reply := Transition(s, tools.FinalAnswer{Steps: "s", Answer: "0.25", Query: "something else"}, 9)
	fwd, ok := reply.Message.(tools.FinalAnswer)
	if !ok || fwd.Query != "density of chainlit?" {
		t.Fatalf("forwarded %+v", reply.Message)
	}
	if s.Stats.FinalAnswer != "0.25" {
		t.Errorf("final answer not recorded: %q", s.Stats.FinalAnswer)
	}
}

func TestTransition_RetryBound(t *testing.T) {
	for _, max := range []int{0, 1, 3, DefaultMaxCriticRounds} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			s := State{Phase: PhaseAwaitingFeedback, Query: "q", GraphReady: true}
			reject := tools.Feedback{Feedback: "no", SuggestedFix: "try again"}
			for i := 1; i <= max; i++ {
				var reply agent.Reply
				s, reply = Transition(s, reject, max)
				if reply.Kind != agent.ReplyContinue {
					t.Fatalf("rejection %d: reply = %s, want continue", i, reply.Kind)
				}
				if s.Rounds != i {
					t.Fatalf("rounds = %d, want %d", s.Rounds, i)
				}
				if s.Query != "q" {
					t.Fatal("original query lost before termination")
				}
				s.Phase = PhaseAwaitingFeedback
			}

			s, reply := Transition(s, reject, max)
			if reply.Kind != agent.ReplyFinish || reply.Status != agent.StatusTerminated || reply.Text != DoneText {
				t.Fatalf("rejection %d: reply = %+v", max+1, reply)
			}
			if !s.Stats.Terminated || s.Stats.CriticResponses != max+1 {
				t.Errorf("stats = %+v", s.Stats)
			}
			if s.Phase != PhaseAcceptingNewQuestion || s.Query != "" || s.Rounds != 0 {
				t.Errorf("not reset: %+v", s)
			}
		})
	}
}

func TestAbandon(t *testing.T) {
	s := Abandon(State{Phase: PhaseAwaitingQuestion, Query: "q", GraphReady: true})
	if s.Phase != PhaseAcceptingNewQuestion || !s.Stats.Terminated {
		t.Errorf("with graph: %+v", s)
	}
	s = Abandon(State{Phase: PhaseAwaitingConstructAck, Query: "chainlit"})
	if s.Phase != PhaseIdle || s.Query != "" {
		t.Errorf("without graph: %+v", s)
	}
}

// queueAgent answers every structured message with the next queued result.
type queueAgent struct {
	name    string
	results []tools.Message
	got     []tools.Message
}

func (q *queueAgent) Name() string  { return q.name }
func (q *queueAgent) Phase() string { return "idle" }
func (q *queueAgent) InitState()    {}

func (q *queueAgent) Handle(_ context.Context, env agent.Envelope) (agent.Reply, bool) {
	q.got = append(q.got, env.Message)
	next := q.results[0]
	q.results = q.results[1:]
	return agent.Done(next), true
}

func (q *queueAgent) Respond(context.Context, agent.Envelope) (agent.Envelope, error) {
	return agent.Envelope{}, fmt.Errorf("queueAgent does not reason")
}

func (q *queueAgent) Fallback(context.Context, agent.Envelope) agent.Reply { return agent.Ignore() }

func newTree(t *testing.T, a *Agent, subs ...agent.Agent) *tasks.Task {
	t.Helper()
	var children []*tasks.Task
	for _, s := range subs {
		child, err := tasks.New(s, tasks.Config{})
		if err != nil {
			t.Fatal(err)
		}
		children = append(children, child)
	}
	root, err := tasks.New(a, tasks.Config{}, children...)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func userText(s string) agent.Envelope {
	return agent.Envelope{Source: agent.SourceUser, Text: s}
}

func TestAssistant_ConstructThenAccepted(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Call("construct_dependency_graph", map[string]interface{}{
			"package_name": "chainlit", "package_version": "1.1.200", "package_type": "pypi",
		}),
		llm.Call("question_tool", map[string]interface{}{
			"question": "How many nodes and edges?", "target_agent": "GraphQueryAgent",
		}),
		llm.Call("final_answer_tool", map[string]interface{}{
			"steps": "4 nodes, 3 edges, density = 3/(4*3)", "answer": "0.25",
		}),
	)
	gq := &queueAgent{name: tools.GraphQueryAgent, results: []tools.Message{
		tools.ConstructGraphDone{Answer: "Database is created!", Status: tools.StatusCreated, Nodes: 4, Edges: 3},
		tools.Answer{Answer: "4 nodes and 3 edges"},
	}}
	criticLLM := llm.NewScriptedProvider(
		llm.Call("feedback_tool", map[string]interface{}{"feedback": "correct", "suggested_fix": ""}),
	)
	a := New(Options{Provider: p})
	root := newTree(t, a, gq, critic.New(critic.Options{Provider: criticLLM}))
	ctx := context.Background()

	res, err := root.Run(ctx, userText("chainlit 1.1.200 pypi"))
	if err != nil {
		t.Fatalf("construct run: %v", err)
	}
	if res.Status != tasks.StatusAwaitingUser || !strings.HasSuffix(res.Text, AskNewQuestionPrompt) {
		t.Fatalf("construct result = %+v", res)
	}
	if a.State().Phase != PhaseAcceptingNewQuestion || !a.State().GraphReady {
		t.Fatalf("state after construction = %+v", a.State())
	}

	res, err = root.Run(ctx, userText("what's the density of the dependency graph?"))
	if err != nil {
		t.Fatalf("question run: %v", err)
	}
	if res.Status != tasks.StatusFinished || res.Outcome != agent.StatusAccepted || res.Text != "0.25" {
		t.Fatalf("question result = %+v", res)
	}
	stats := a.Stats()
	if stats.QuestionsAsked != 1 || stats.CriticResponses != 0 || stats.Terminated {
		t.Errorf("stats = %+v", stats)
	}
	if a.State().Query != "" || a.State().Phase != PhaseAcceptingNewQuestion {
		t.Errorf("state not reset: %+v", a.State())
	}

	if q, ok := gq.got[1].(tools.Question); !ok || q.Question != "How many nodes and edges?" {
		t.Errorf("GraphQueryAgent received %+v", gq.got[1])
	}
	review := criticLLM.LastRequest().Messages[1].Content
	if !strings.Contains(review, "QUERY: what's the density") {
		t.Errorf("critic did not see the original query: %q", review)
	}
}

func TestAssistant_StaleFinalAnswerThenEscalation(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Call("final_answer_tool", map[string]interface{}{"steps": "guess", "answer": "7"}),
		llm.Text("I think the answer is 7"),
	)
	a := New(Options{Provider: p, FallbackLimit: 1})
	a.MarkGraphReady()
	root := newTree(t, a)

	res, err := root.Run(context.Background(), userText("how many packages?"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != tasks.StatusFinished || res.Outcome != agent.StatusTerminated {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Text, "could not resolve") {
		t.Errorf("text = %q", res.Text)
	}

	reqs := p.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "You must ask a question") {
		t.Errorf("reminder not sent as tool result: %+v", last)
	}
	if a.State().Phase != PhaseAcceptingNewQuestion || !a.Stats().Terminated {
		t.Errorf("state = %+v", a.State())
	}
}

func TestAssistant_UnknownRecipient(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Call("question_tool", map[string]interface{}{
			"question": "any CVEs?", "target_agent": "RetrievalAgent",
		}),
	)
	a := New(Options{Provider: p})
	a.MarkGraphReady()
	root := newTree(t, a)

	_, err := root.Run(context.Background(), userText("is chainlit vulnerable?"))
	if !errors.Is(err, errors.ErrCodeUnknownRecipient) {
		t.Fatalf("err = %v, want UNKNOWN_RECIPIENT", err)
	}

	a.Recover()
	if a.State().Phase != PhaseAcceptingNewQuestion {
		t.Errorf("phase after recover = %s", a.State().Phase)
	}
}

func TestAssistant_AsksUserForPackage(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Text("Which package, version and ecosystem would you like to analyze?"),
	)
	a := New(Options{Provider: p})
	root := newTree(t, a)

	res, err := root.Run(context.Background(), userText("hello"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != tasks.StatusAwaitingUser || !strings.Contains(res.Text, "Which package") {
		t.Errorf("result = %+v", res)
	}
	if a.Fallbacks() != 0 {
		t.Errorf("asking the user spent a reminder")
	}
}

func TestAssistant_ModelCannotMarkGraphBuilt(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Call("construct_graph_done", map[string]interface{}{"answer": "done", "status": "created"}),
		llm.Call("construct_dependency_graph", map[string]interface{}{
			"package_name": "chainlit", "package_version": "1.1.200", "package_type": "pypi",
		}),
	)
	gq := &queueAgent{name: tools.GraphQueryAgent, results: []tools.Message{
		tools.ConstructGraphDone{Answer: "Database is created!", Status: tools.StatusCreated, Nodes: 4, Edges: 3},
	}}
	a := New(Options{Provider: p})
	root := newTree(t, a, gq)

	res, err := root.Run(context.Background(), userText("chainlit 1.1.200 pypi"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != tasks.StatusAwaitingUser || !strings.HasPrefix(res.Text, "Database is created!") {
		t.Fatalf("result = %+v", res)
	}
	if len(gq.got) != 1 {
		t.Fatalf("GraphQueryAgent received %d messages, want 1", len(gq.got))
	}
	if _, ok := gq.got[0].(tools.ConstructGraph); !ok {
		t.Errorf("GraphQueryAgent received %T", gq.got[0])
	}
	msgs := p.Requests()[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "construct_graph_done was not offered") {
		t.Errorf("reminder = %+v", last)
	}
}

func TestAssistant_IgnoresResultsNotFromAgents(t *testing.T) {
	a := New(Options{Provider: llm.NewScriptedProvider()})
	for _, msg := range []tools.Message{
		tools.ConstructGraphDone{Answer: "done", Status: tools.StatusCreated},
		tools.Answer{Answer: "42"},
		tools.Feedback{Feedback: "good"},
	} {
		for _, src := range []agent.Source{agent.SourceLLM, agent.SourceUser, agent.SourceTask} {
			reply, ok := a.Handle(context.Background(), agent.Envelope{Source: src, Message: msg})
			if !ok || reply.Kind != agent.ReplyIgnore {
				t.Errorf("%s from %s: reply = %+v, handled = %v", msg.Kind(), src, reply, ok)
			}
		}
	}
	if a.State().GraphReady {
		t.Error("graph marked ready without construction")
	}
}

func TestAssistant_NextQuestionIsUserTurn(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.Call("question_tool", map[string]interface{}{
			"question": "How many nodes?", "target_agent": "GraphQueryAgent",
		}),
		llm.Call("final_answer_tool", map[string]interface{}{"steps": "counted nodes", "answer": "4"}),
		llm.Call("question_tool", map[string]interface{}{
			"question": "How many edges?", "target_agent": "GraphQueryAgent",
		}),
		llm.Call("final_answer_tool", map[string]interface{}{"steps": "counted edges", "answer": "3"}),
	)
	gq := &queueAgent{name: tools.GraphQueryAgent, results: []tools.Message{
		tools.Answer{Answer: "4 nodes"},
		tools.Answer{Answer: "3 edges"},
	}}
	criticLLM := llm.NewScriptedProvider(
		llm.Call("feedback_tool", map[string]interface{}{"feedback": "correct", "suggested_fix": ""}),
		llm.Call("feedback_tool", map[string]interface{}{"feedback": "correct", "suggested_fix": ""}),
	)
	a := New(Options{Provider: p})
	a.MarkGraphReady()
	root := newTree(t, a, gq, critic.New(critic.Options{Provider: criticLLM}))
	ctx := context.Background()

	for _, q := range []string{"how many nodes?", "and edges?"} {
		res, err := root.Run(ctx, userText(q))
		if err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		if res.Outcome != agent.StatusAccepted {
			t.Fatalf("%s: result = %+v", q, res)
		}
	}

	msgs := p.Requests()[2].Messages
	n := len(msgs)
	if msgs[n-1].Role != "user" || msgs[n-1].Content != "and edges?" {
		t.Errorf("next question recorded as %+v", msgs[n-1])
	}
	if msgs[n-2].Role != "tool" || msgs[n-2].ToolName != "final_answer_tool" {
		t.Errorf("final answer call left open: %+v", msgs[n-2])
	}
}
