package tasks

import (
	"context"
	"strings"
	"testing"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/telemetry"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// stubAgent scripts an agent without a model.
type stubAgent struct {
	name     string
	phase    string
	handle   func(env agent.Envelope) (agent.Reply, bool)
	respond  func(env agent.Envelope) (agent.Envelope, error)
	fallback func(env agent.Envelope) agent.Reply

	handled   []tools.Kind
	responded []string
	fallbacks int
}

func (s *stubAgent) Name() string  { return s.name }
func (s *stubAgent) Phase() string { return s.phase }
func (s *stubAgent) InitState()    { s.phase = "idle" }

func (s *stubAgent) Handle(_ context.Context, env agent.Envelope) (agent.Reply, bool) {
	s.handled = append(s.handled, env.Kind())
	if s.handle == nil {
		return agent.Reply{}, false
	}
	return s.handle(env)
}

func (s *stubAgent) Respond(_ context.Context, env agent.Envelope) (agent.Envelope, error) {
	s.responded = append(s.responded, env.Text)
	if s.respond == nil {
		return agent.Envelope{Source: agent.SourceLLM, Text: "nothing to do"}, nil
	}
	return s.respond(env)
}

func (s *stubAgent) Fallback(_ context.Context, env agent.Envelope) agent.Reply {
	s.fallbacks++
	if s.fallback == nil {
		return agent.Ignore()
	}
	return s.fallback(env)
}

func llmSays(msg tools.Message) agent.Envelope {
	return agent.Envelope{Source: agent.SourceLLM, Message: msg}
}

func TestTask_RespondThenDone(t *testing.T) {
	a := &stubAgent{
		name: "worker",
		respond: func(env agent.Envelope) (agent.Envelope, error) {
			return llmSays(tools.Answer{Answer: "42"}), nil
		},
		handle: func(env agent.Envelope) (agent.Reply, bool) {
			return agent.Done(env.Message), true
		},
	}
	task, err := New(a, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := task.Run(context.Background(), agent.Envelope{Source: agent.SourceUser, Text: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusDone || !res.Status.IsTerminal() {
		t.Errorf("status = %s", res.Status)
	}
	if ans, ok := res.Message.(tools.Answer); !ok || ans.Answer != "42" {
		t.Errorf("message = %#v", res.Message)
	}
	if res.Turns != 2 {
		t.Errorf("turns = %d, want 2", res.Turns)
	}
}

func TestTask_ForwardToSubtask(t *testing.T) {
	sub := &stubAgent{
		name: "GraphQueryAgent",
		handle: func(env agent.Envelope) (agent.Reply, bool) {
			if env.Kind() == tools.KindQuestion {
				return agent.Done(tools.Answer{Answer: "17 dependencies"}), true
			}
			return agent.Reply{}, false
		},
	}
	var gotAnswer string
	root := &stubAgent{
		name: "Assistant",
		respond: func(env agent.Envelope) (agent.Envelope, error) {
			return llmSays(tools.Question{Question: "how many?", TargetAgent: "GraphQueryAgent"}), nil
		},
		handle: func(env agent.Envelope) (agent.Reply, bool) {
			switch m := env.Message.(type) {
			case tools.Question:
				return agent.Forward(m.TargetAgent, nil), true
			case tools.Answer:
				gotAnswer = m.Answer
				return agent.Finish(agent.StatusAccepted, m.Answer, nil), true
			}
			return agent.Reply{}, false
		},
	}

	subTask, _ := New(sub, Config{})
	mem := telemetry.NewMemoryExporter()
	rootTask, err := New(root, Config{SessionID: "s1", Transcript: mem}, subTask)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := rootTask.Run(context.Background(), agent.Envelope{Source: agent.SourceUser, Text: "deps?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusFinished || res.Outcome != agent.StatusAccepted {
		t.Errorf("result = %+v", res)
	}
	if gotAnswer != "17 dependencies" {
		t.Errorf("answer = %q", gotAnswer)
	}
	if len(sub.handled) != 1 || sub.handled[0] != tools.KindQuestion {
		t.Errorf("sub-task handled %v", sub.handled)
	}

	events := mem.Events()
	if len(events) != 1 || events[0].Name != "handoff" || events[0].Data["to"] != "GraphQueryAgent" {
		t.Errorf("events = %+v", events)
	}
	if entries := mem.Entries(); len(entries) != 1 || entries[0].SessionID != "s1" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestTask_UnknownRecipient(t *testing.T) {
	root := &stubAgent{
		name: "Assistant",
		handle: func(env agent.Envelope) (agent.Reply, bool) {
			return agent.Forward("Nobody", nil), true
		},
	}
	task, _ := New(root, Config{})

	_, err := task.Run(context.Background(), llmSays(tools.Question{Question: "q", TargetAgent: "Nobody"}))
	if !errors.Is(err, errors.ErrCodeUnknownRecipient) {
		t.Fatalf("err = %v, want UNKNOWN_RECIPIENT", err)
	}
}

func TestTask_FallbackOnFreeText(t *testing.T) {
	calls := 0
	a := &stubAgent{
		name: "Critic",
		respond: func(env agent.Envelope) (agent.Envelope, error) {
			calls++
			if calls < 3 {
				return agent.Envelope{Source: agent.SourceLLM, Text: "looks fine to me"}, nil
			}
			return llmSays(tools.Feedback{Feedback: "ok"}), nil
		},
		handle: func(env agent.Envelope) (agent.Reply, bool) {
			return agent.Done(env.Message), true
		},
		fallback: func(env agent.Envelope) agent.Reply {
			return agent.Continue("You forgot to provide feedback using the feedback_tool")
		},
	}
	task, _ := New(a, Config{})

	res, err := task.Run(context.Background(), agent.Envelope{Source: agent.SourceAgent, Text: "review"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusDone {
		t.Fatalf("status = %s", res.Status)
	}
	if a.fallbacks != 2 {
		t.Errorf("fallbacks = %d, want 2", a.fallbacks)
	}
	if len(a.responded) != 3 || !strings.Contains(a.responded[1], "feedback_tool") {
		t.Errorf("responded = %q", a.responded)
	}
}

func TestTask_StaleMessageGoesIdle(t *testing.T) {
	a := &stubAgent{
		name: "Assistant",
		handle: func(env agent.Envelope) (agent.Reply, bool) {
			return agent.Ignore(), true
		},
	}
	task, _ := New(a, Config{})

	res, err := task.Run(context.Background(), llmSays(tools.FinalAnswer{Answer: "late"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusIdle || res.Status.IsTerminal() {
		t.Errorf("status = %s, want idle", res.Status)
	}
	if a.fallbacks != 1 {
		t.Errorf("fallback should be consulted once, got %d", a.fallbacks)
	}
}

func TestTask_AskUser(t *testing.T) {
	newAgent := func() *stubAgent {
		return &stubAgent{
			name: "Assistant",
			handle: func(env agent.Envelope) (agent.Reply, bool) {
				return agent.AskUser("Please ask your question"), true
			},
			respond: func(env agent.Envelope) (agent.Envelope, error) {
				return agent.Envelope{}, errors.New(errors.ErrCodeLLM, "stop here")
			},
		}
	}
	start := llmSays(tools.AskNewQuestion{})

	t.Run("non-interactive stops", func(t *testing.T) {
		task, _ := New(newAgent(), Config{})
		res, err := task.Run(context.Background(), start)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Status != StatusAwaitingUser || res.Text != "Please ask your question" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("interactive asks the human", func(t *testing.T) {
		a := newAgent()
		var prompts []string
		human := HumanFunc(func(_ context.Context, prompt string) (string, error) {
			prompts = append(prompts, prompt)
			return "how many deps?", nil
		})
		task, err := New(a, Config{Interactive: true, Human: human})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = task.Run(context.Background(), start)
		if !errors.Is(err, errors.ErrCodeLLM) {
			t.Fatalf("err = %v", err)
		}
		if len(prompts) != 1 || len(a.responded) != 1 || a.responded[0] != "how many deps?" {
			t.Errorf("prompts = %q responded = %q", prompts, a.responded)
		}
	})

	t.Run("interactive without human", func(t *testing.T) {
		if _, err := New(newAgent(), Config{Interactive: true}); err != ErrNoHuman {
			t.Errorf("err = %v, want ErrNoHuman", err)
		}
	})
}

func TestTask_TurnLimit(t *testing.T) {
	a := &stubAgent{
		name: "looper",
		fallback: func(env agent.Envelope) agent.Reply {
			return agent.Continue("again")
		},
	}
	task, _ := New(a, Config{MaxTurns: 5})

	_, err := task.Run(context.Background(), agent.Envelope{Source: agent.SourceUser, Text: "go"})
	if !errors.Is(err, errors.ErrCodeTurnLimit) {
		t.Fatalf("err = %v, want TURN_LIMIT", err)
	}
	if len(a.responded)+a.fallbacks != 5 {
		t.Errorf("ran %d turns, want 5", len(a.responded)+a.fallbacks)
	}
}

func TestTask_SingleRound(t *testing.T) {
	a := &stubAgent{
		name: "one-shot",
		respond: func(env agent.Envelope) (agent.Envelope, error) {
			return llmSays(tools.Answer{Answer: "x"}), nil
		},
		handle: func(env agent.Envelope) (agent.Reply, bool) {
			t.Error("single round must not dispatch")
			return agent.Reply{}, false
		},
	}
	task, _ := New(a, Config{SingleRound: true})

	res, err := task.Run(context.Background(), agent.Envelope{Source: agent.SourceUser, Text: "q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusDone || res.Turns != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestTask_Cancelled(t *testing.T) {
	task, _ := New(&stubAgent{name: "a"}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := task.Run(ctx, agent.Envelope{Source: agent.SourceUser, Text: "q"})
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Fatalf("err = %v, want CANCELED", err)
	}
}

func TestNew_DuplicateSubtask(t *testing.T) {
	a, _ := New(&stubAgent{name: "Critic"}, Config{})
	b, _ := New(&stubAgent{name: "Critic"}, Config{})
	if _, err := New(&stubAgent{name: "Assistant"}, Config{}, a, b); err == nil {
		t.Fatal("expected duplicate sub-task error")
	}
	if _, err := New(nil, Config{}); err != ErrNilAgent {
		t.Errorf("err = %v, want ErrNilAgent", err)
	}
}

func TestTask_HandlerPanicBecomesError(t *testing.T) {
	a := &stubAgent{
		name:  "GraphQueryAgent",
		phase: "awaiting_retrieval_query",
		respond: func(env agent.Envelope) (agent.Envelope, error) {
			return llmSays(tools.RetrievalQuery{Query: "MATCH (n) RETURN n"}), nil
		},
		handle: func(env agent.Envelope) (agent.Reply, bool) {
			var rows []int
			_ = rows[3]
			return agent.Reply{}, false
		},
	}
	task, _ := New(a, Config{})

	_, err := task.Run(context.Background(), agent.Envelope{Source: agent.SourceUser, Text: "q"})
	if !errors.Is(err, errors.ErrCodePanic) {
		t.Fatalf("err = %v, want PANIC", err)
	}
	if !strings.Contains(err.Error(), "panicked in phase awaiting_retrieval_query") ||
		!strings.Contains(err.Error(), "index out of range") {
		t.Errorf("err = %v", err)
	}
}
