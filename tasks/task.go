package tasks

import (
	"context"
	"time"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/logging"
	"github.com/Mohannadcse/DepsRAG/telemetry"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// Task drives one agent and routes its forwards to sub-tasks.
type Task struct {
	agent  agent.Agent
	cfg    Config
	routes map[string]*Task
	log    *logging.Logger
}

// New creates a task for a with the given sub-tasks. The routing table is
// fixed once the task exists.
func New(a agent.Agent, cfg Config, subtasks ...*Task) (*Task, error) {
	if a == nil {
		return nil, ErrNilAgent
	}
	if cfg.Interactive && cfg.Human == nil {
		return nil, ErrNoHuman
	}
	if cfg.Name == "" {
		cfg.Name = a.Name()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Transcript == nil {
		cfg.Transcript = telemetry.NewNoopExporter()
	}

	routes := make(map[string]*Task, len(subtasks))
	for _, sub := range subtasks {
		if _, dup := routes[sub.Name()]; dup {
			return nil, errors.New(errors.ErrCodeInvalidInput, ErrDuplicateSubtask.Error(),
				errors.WithAgent(cfg.Name), errors.WithMetadata("subtask", sub.Name()),
				errors.WithCause(ErrDuplicateSubtask))
		}
		routes[sub.Name()] = sub
	}

	return &Task{
		agent:  a,
		cfg:    cfg,
		routes: routes,
		log:    cfg.Logger.WithComponent("task." + cfg.Name),
	}, nil
}

// Name returns the routing name.
func (t *Task) Name() string { return t.cfg.Name }

// Agent returns the driven agent.
func (t *Task) Agent() agent.Agent { return t.agent }

// Route looks up a sub-task by name.
func (t *Task) Route(target string) (*Task, error) {
	sub, ok := t.routes[target]
	if !ok {
		return nil, errors.UnknownRecipient(target, t.Name())
	}
	return sub, nil
}

// Run drives the agent from in until the task completes, the agent goes
// idle, the user is needed, or the turn budget runs out.
func (t *Task) Run(ctx context.Context, in agent.Envelope) (*Result, error) {
	start := time.Now()
	tracer := telemetry.GetTracer()
	pending := in

	for turn := 1; ; turn++ {
		if turn > t.cfg.MaxTurns {
			return nil, errors.TurnLimit(t.Name(), t.cfg.MaxTurns)
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "task "+t.Name()+" interrupted", errors.WithAgent(t.Name()))
		}

		t.log.TurnStart(t.Name(), turn, t.agent.Phase())
		spanCtx, span := tracer.StartTurnSpan(ctx, t.Name(), turn)
		out, err := t.step(spanCtx, pending, turn)
		tracer.EndTurnSpan(span, telemetry.TurnSpanOptions{
			Phase: t.agent.Phase(),
			Kind:  string(pending.Kind()),
			Reply: out.reply,
			Route: out.route,
		}, err)
		if err != nil {
			return nil, err
		}
		if out.result != nil {
			out.result.Turns = turn
			out.result.Duration = time.Since(start)
			return out.result, nil
		}
		pending = out.next
	}
}

// outcome is what one turn produced: either the next pending envelope
// or a result that ends the run.
type outcome struct {
	next   agent.Envelope
	result *Result
	reply  string
	route  string
}

func (t *Task) step(ctx context.Context, pending agent.Envelope, turn int) (out outcome, err error) {
	defer func() {
		if p := errors.RecoverPanic(recover()); p != nil {
			out = outcome{reply: "panic"}
			err = errors.Wrap(p, "agent "+t.Name()+" panicked in phase "+t.agent.Phase(), errors.WithAgent(t.Name()))
		}
	}()

	switch {
	case pending.Message != nil:
		reply, ok := t.agent.Handle(ctx, pending)
		if ok && reply.Kind == agent.ReplyIgnore {
			t.log.StaleMessage(t.Name(), string(pending.Kind()), t.agent.Phase())
		}
		if !ok || reply.Kind == agent.ReplyIgnore {
			reply = t.agent.Fallback(ctx, pending)
		}
		return t.apply(ctx, pending, reply, turn)

	case pending.Source == agent.SourceLLM:
		// Free text, or a tool call that failed to decode.
		return t.apply(ctx, pending, t.agent.Fallback(ctx, pending), turn)

	default:
		began := time.Now()
		resp, err := t.agent.Respond(ctx, pending)
		if err != nil {
			return outcome{reply: "error"}, err
		}
		t.record(turn, resp, time.Since(began))
		if t.cfg.SingleRound {
			return outcome{reply: "single_round", result: &Result{
				Status:  StatusDone,
				Text:    resp.Text,
				Message: resp.Message,
			}}, nil
		}
		return outcome{next: resp, reply: "respond"}, nil
	}
}

func (t *Task) apply(ctx context.Context, pending agent.Envelope, reply agent.Reply, turn int) (outcome, error) {
	out := outcome{reply: reply.Kind.String()}

	switch reply.Kind {
	case agent.ReplyContinue:
		out.next = agent.Envelope{From: t.Name(), Source: agent.SourceTask, Text: reply.Text}

	case agent.ReplyIgnore:
		out.result = &Result{Status: StatusIdle, Text: pending.Text}

	case agent.ReplyForward:
		out.route = reply.Target
		sub, err := t.Route(reply.Target)
		if err != nil {
			return out, err
		}
		msg := reply.Message
		if msg == nil {
			msg = pending.Message
		}
		t.log.Handoff(t.Name(), sub.Name(), kindOf(msg))
		t.cfg.Transcript.LogEvent("handoff", map[string]interface{}{
			"session": t.cfg.SessionID,
			"from":    t.Name(),
			"to":      sub.Name(),
			"kind":    kindOf(msg),
			"turn":    turn,
		})

		res, err := sub.Run(ctx, agent.Envelope{
			From:    t.Name(),
			Source:  agent.SourceAgent,
			Text:    reply.Text,
			Message: msg,
		})
		if err != nil {
			return out, err
		}
		if res.Status == StatusAwaitingUser {
			out.result = res
			return out, nil
		}
		out.next = agent.Envelope{
			From:    sub.Name(),
			Source:  agent.SourceAgent,
			Text:    res.Text,
			Message: res.Message,
		}

	case agent.ReplyDone:
		out.result = &Result{Status: StatusDone, Text: reply.Text, Message: reply.Message}

	case agent.ReplyFinish:
		out.result = &Result{
			Status:  StatusFinished,
			Outcome: reply.Status,
			Text:    reply.Text,
			Message: reply.Message,
		}

	case agent.ReplyAskUser:
		if !t.cfg.Interactive {
			out.result = &Result{Status: StatusAwaitingUser, Text: reply.Text}
			return out, nil
		}
		answer, err := t.cfg.Human.Ask(ctx, reply.Text)
		if err != nil {
			return out, errors.Wrap(err, "reading user input", errors.WithAgent(t.Name()))
		}
		out.next = agent.Envelope{Source: agent.SourceUser, Text: answer}

	default:
		return out, errors.Newf(errors.ErrCodeInternal, "unknown reply kind %d from %s", reply.Kind, t.Name())
	}
	return out, nil
}

func (t *Task) record(turn int, env agent.Envelope, latency time.Duration) {
	entry := telemetry.Entry{
		SessionID: t.cfg.SessionID,
		Agent:     t.Name(),
		Phase:     t.agent.Phase(),
		Role:      string(env.Source),
		Kind:      string(env.Kind()),
		Content:   env.Text,
		Latency:   latency,
		Turn:      turn,
		Timestamp: time.Now(),
	}
	if env.Message != nil {
		entry.ToolCalls = []string{string(env.Message.Kind())}
	}
	if env.Err != nil {
		entry.Content += "\n[decode error] " + env.Err.Error()
	}
	t.cfg.Transcript.LogEntry(entry)
}

func kindOf(msg tools.Message) string {
	if msg == nil {
		return "text"
	}
	return string(msg.Kind())
}
