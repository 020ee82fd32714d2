// OpenTelemetry tracing for agent turns, model calls and collaborator calls.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with protocol-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include prompt and response text in spans
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (content in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// --- Session spans ---

// StartQuestionSpan starts the root span for one top-level question.
func (t *Tracer) StartQuestionSpan(ctx context.Context, sessionID, question string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "session.question", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("session.id", sessionID))
	if t.debug {
		span.SetAttributes(attribute.String("session.question", truncate(question, 2000)))
	}
	return ctx, span
}

// EndQuestionSpan ends a question span with its outcome.
func (t *Tracer) EndQuestionSpan(span trace.Span, status string, rounds int, err error) {
	span.SetAttributes(
		attribute.String("session.status", status),
		attribute.Int("session.critic_rounds", rounds),
	)
	finish(span, err)
}

// --- Turn spans ---

// TurnSpanOptions describes one agent turn.
type TurnSpanOptions struct {
	Phase string // phase after the turn
	Kind  string // message kind handled, empty for a reasoning step
	Reply string // continue, forward, done, finish, ask_user, ignore
	Route string // target agent for forwards
}

// StartTurnSpan starts a span for one agent turn.
func (t *Tracer) StartTurnSpan(ctx context.Context, agent string, turn int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "agent."+agent, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("agent.name", agent),
		attribute.Int("agent.turn", turn),
	)
	return ctx, span
}

// EndTurnSpan ends a turn span with the handler outcome.
func (t *Tracer) EndTurnSpan(span trace.Span, opts TurnSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("agent.phase", opts.Phase),
		attribute.String("agent.reply", opts.Reply),
	}
	if opts.Kind != "" {
		attrs = append(attrs, attribute.String("message.kind", opts.Kind))
	}
	if opts.Route != "" {
		attrs = append(attrs, attribute.String("agent.route", opts.Route))
	}
	span.SetAttributes(attrs...)
	finish(span, err)
}

// --- LLM spans ---

// LLMSpanOptions contains options for LLM call spans.
type LLMSpanOptions struct {
	Model     string
	Provider  string
	TokensIn  int
	TokensOut int
	Tools     int
	ToolCalls []string
	Prompt    string // Only included if debug=true
	Response  string // Only included if debug=true
}

// StartLLMSpan starts a span for an LLM call.
func (t *Tracer) StartLLMSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

// EndLLMSpan ends an LLM span with attributes.
func (t *Tracer) EndLLMSpan(span trace.Span, opts LLMSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", opts.Model),
		attribute.String("llm.provider", opts.Provider),
		attribute.Int("llm.tokens.input", opts.TokensIn),
		attribute.Int("llm.tokens.output", opts.TokensOut),
		attribute.Int("llm.tools.offered", opts.Tools),
	}
	if len(opts.ToolCalls) > 0 {
		attrs = append(attrs, attribute.StringSlice("llm.tool_calls", opts.ToolCalls))
	}
	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("llm.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("llm.response", truncate(opts.Response, 4000)))
		}
	}
	span.SetAttributes(attrs...)
	finish(span, err)
}

// --- Collaborator spans ---

// CollaboratorSpanOptions describes a call to the graph store or an HTTP API.
type CollaboratorSpanOptions struct {
	Args   map[string]interface{} // Always included
	Result string                 // Only included if debug=true
}

// StartCollaboratorSpan starts a span for an external collaborator call
// such as "graph.read", "depsdev.dependencies" or "osv.query".
func (t *Tracer) StartCollaboratorSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("collaborator.name", name))
	return ctx, span
}

// EndCollaboratorSpan ends a collaborator span.
func (t *Tracer) EndCollaboratorSpan(span trace.Span, opts CollaboratorSpanOptions, err error) {
	for k, v := range opts.Args {
		span.SetAttributes(attribute.String("collaborator.arg."+k, truncateAny(v, 500)))
	}
	if t.debug && opts.Result != "" {
		span.SetAttributes(attribute.String("collaborator.result", truncate(opts.Result, 4000)))
	}
	finish(span, err)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func truncateAny(v interface{}, maxLen int) string {
	if s, ok := v.(string); ok {
		return truncate(s, maxLen)
	}
	return truncate(fmt.Sprint(v), maxLen)
}
