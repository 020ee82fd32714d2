package agent

import (
	"context"

	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/llm"
	"github.com/Mohannadcse/DepsRAG/logging"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// DefaultFallbackLimit is the number of consecutive reminders an agent
// issues before escalating.
const DefaultFallbackLimit = 3

// Agent is a participant driven by a task.
type Agent interface {
	// Name is the routing key for this agent.
	Name() string
	// Phase describes what the agent expects next.
	Phase() string
	// InitState resets the agent to its starting phase.
	InitState()
	// Handle dispatches a structured message. It returns false when the
	// agent has no handler for the message kind.
	Handle(ctx context.Context, env Envelope) (Reply, bool)
	// Respond runs the agent's reasoning step on a text input.
	Respond(ctx context.Context, env Envelope) (Envelope, error)
	// Fallback produces a corrective reply when nothing handled the input.
	// It returns Ignore when the agent has nothing to say.
	Fallback(ctx context.Context, env Envelope) Reply
}

// Handler handles one message kind.
type Handler func(ctx context.Context, msg tools.Message) Reply

// Config configures a Base.
type Config struct {
	Name          string
	System        string // system prompt
	Provider      llm.Provider
	Registry      *tools.Registry
	Tools         []tools.Kind // tools offered to the model
	FallbackLimit int
	MaxTokens     int
	Logger        *logging.Logger
}

// Base implements handler dispatch, the reasoning step and the fallback
// budget. Roles embed it and add their phase machine.
type Base struct {
	name          string
	system        string
	provider      llm.Provider
	registry      *tools.Registry
	tools         []tools.Kind
	handlers      map[tools.Kind]Handler
	history       []llm.Message
	pendingCall   *llm.ToolCallResponse
	fallbacks     int
	fallbackLimit int
	maxTokens     int
	log           *logging.Logger
}

// NewBase creates a Base from cfg.
func NewBase(cfg Config) *Base {
	if cfg.Registry == nil {
		cfg.Registry = tools.NewRegistry()
	}
	if cfg.FallbackLimit <= 0 {
		cfg.FallbackLimit = DefaultFallbackLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Base{
		name:          cfg.Name,
		system:        cfg.System,
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		tools:         cfg.Tools,
		handlers:      make(map[tools.Kind]Handler),
		fallbackLimit: cfg.FallbackLimit,
		maxTokens:     cfg.MaxTokens,
		log:           cfg.Logger.WithComponent(cfg.Name),
	}
}

// Name returns the agent name.
func (b *Base) Name() string { return b.name }

// Logger returns the agent's component logger.
func (b *Base) Logger() *logging.Logger { return b.log }

// On registers the handler for a message kind.
func (b *Base) On(kind tools.Kind, h Handler) {
	b.handlers[kind] = h
}

// Handles reports whether a handler is registered for kind.
func (b *Base) Handles(kind tools.Kind) bool {
	_, ok := b.handlers[kind]
	return ok
}

// Handle dispatches env.Message to its handler. Any reply other than
// Ignore resets the fallback budget. Replies that hand control away from
// the agent end its turn.
func (b *Base) Handle(ctx context.Context, env Envelope) (Reply, bool) {
	if env.Message == nil {
		return Reply{}, false
	}
	h, ok := b.handlers[env.Message.Kind()]
	if !ok {
		return Reply{}, false
	}
	reply := h(ctx, env.Message)
	if reply.Kind != ReplyIgnore {
		b.fallbacks = 0
	}
	switch reply.Kind {
	case ReplyFinish, ReplyAskUser, ReplyDone:
		b.EndTurn(turnResult(reply))
	}
	b.log.Dispatch(b.name, string(env.Message.Kind()), reply.Kind.String())
	return reply, true
}

// Respond sends env.Text to the model with the agent's tools and decodes
// the first tool call, if any. If the previous response was a tool call,
// the input is sent as that call's result.
func (b *Base) Respond(ctx context.Context, env Envelope) (Envelope, error) {
	b.appendInput(env)

	resp, err := b.provider.Chat(ctx, llm.ChatRequest{
		Messages:  b.messages(),
		Tools:     b.registry.Definitions(b.tools...),
		MaxTokens: b.maxTokens,
	})
	if err != nil {
		return Envelope{}, errors.WrapWithCode(err, errors.ErrCodeLLM,
			"reasoning step failed", errors.WithAgent(b.name))
	}

	out := Envelope{From: b.name, Source: SourceLLM, Text: resp.Content}
	turn := llm.Message{Role: "assistant", Content: resp.Content}
	if len(resp.ToolCalls) > 0 {
		// Only the first call is acted on, so only it is kept in history.
		call := resp.ToolCalls[0]
		turn.ToolCalls = []llm.ToolCallResponse{call}
		b.pendingCall = &call
		if !b.offers(tools.Kind(call.Name)) {
			out.Err = errors.New(errors.ErrCodeProtocolViolation,
				"tool "+call.Name+" was not offered", errors.WithAgent(b.name))
		} else if msg, err := b.registry.Decode(call); err != nil {
			out.Err = err
		} else {
			out.Message = msg
		}
	}
	b.history = append(b.history, turn)
	return out, nil
}

func (b *Base) offers(kind tools.Kind) bool {
	for _, k := range b.tools {
		if k == kind {
			return true
		}
	}
	return false
}

// Forget runs a one-off reasoning step on prompt without tools and without
// touching the conversation history.
func (b *Base) Forget(ctx context.Context, prompt string) (string, error) {
	msgs := make([]llm.Message, 0, 2)
	if b.system != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: b.system})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: prompt})

	resp, err := b.provider.Chat(ctx, llm.ChatRequest{Messages: msgs, MaxTokens: b.maxTokens})
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeLLM,
			"reasoning step failed", errors.WithAgent(b.name))
	}
	return resp.Content, nil
}

// Remind issues a corrective reminder for phase. It returns false once
// the budget of consecutive reminders is spent; the caller then escalates
// and the budget starts over.
func (b *Base) Remind(env Envelope, phase, text string) (Reply, bool) {
	if b.fallbacks >= b.fallbackLimit {
		b.log.Escalation(b.name, "fallback limit reached in phase "+phase)
		b.fallbacks = 0
		return Reply{}, false
	}
	b.fallbacks++
	b.log.FallbackReminder(b.name, phase, b.fallbacks, b.fallbackLimit)
	if env.Err != nil {
		text += "\n\nYour last tool call was rejected: " + env.Err.Error()
	}
	return Continue(text), true
}

// EndTurn closes the pending tool call with result once the turn goes
// back to the user, so the next input is recorded as a user turn.
func (b *Base) EndTurn(result string) {
	if b.pendingCall == nil {
		return
	}
	b.history = append(b.history, llm.Message{
		Role:       "tool",
		Content:    result,
		ToolCallID: b.pendingCall.ID,
		ToolName:   b.pendingCall.Name,
	})
	b.pendingCall = nil
}

func turnResult(r Reply) string {
	if r.Text == "" && r.Message != nil {
		return tools.Encode(r.Message)
	}
	return r.Text
}

// Fallbacks returns the number of consecutive reminders issued.
func (b *Base) Fallbacks() int { return b.fallbacks }

// ResetConversation clears history and the fallback budget.
func (b *Base) ResetConversation() {
	b.history = nil
	b.pendingCall = nil
	b.fallbacks = 0
}

// History returns a copy of the conversation so far.
func (b *Base) History() []llm.Message {
	out := make([]llm.Message, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Base) appendInput(env Envelope) {
	content := env.Text
	if content == "" && env.Message != nil {
		content = tools.Encode(env.Message)
	}
	if b.pendingCall != nil {
		b.history = append(b.history, llm.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: b.pendingCall.ID,
			ToolName:   b.pendingCall.Name,
		})
		b.pendingCall = nil
		return
	}
	b.history = append(b.history, llm.Message{Role: "user", Content: content})
}

func (b *Base) messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(b.history)+1)
	if b.system != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: b.system})
	}
	return append(msgs, b.history...)
}
