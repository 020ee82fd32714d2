// Package llm provides the reasoning-step interface agents talk to and the
// hosted model providers behind it.
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Message represents an LLM message.
type Message struct {
	Role       string             `json:"role"` // user, assistant, tool, system
	Content    string             `json:"content"`
	ToolCalls  []ToolCallResponse `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"` // For tool result messages
	ToolName   string             `json:"tool_name,omitempty"`    // Gemini pairs results by name
}

// ToolDef represents a tool definition for the LLM.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCallResponse represents a tool call from the LLM.
type ToolCallResponse struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ChatRequest represents a chat request to the LLM.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	Tools     []ToolDef `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// ChatResponse represents a chat response from the LLM.
type ChatResponse struct {
	Content      string             `json:"content"`
	ToolCalls    []ToolCallResponse `json:"tool_calls,omitempty"`
	StopReason   string             `json:"stop_reason"`
	InputTokens  int                `json:"input_tokens"`
	OutputTokens int                `json:"output_tokens"`
	Model        string             `json:"model"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Chat sends a chat request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ProviderConfig selects and configures a hosted model.
type ProviderConfig struct {
	Provider    string      `json:"provider" mapstructure:"provider"` // anthropic, openai, google, groq, openai-compat
	Model       string      `json:"model" mapstructure:"model"`
	APIKey      string      `json:"api_key" mapstructure:"api_key"`
	MaxTokens   int         `json:"max_tokens" mapstructure:"max_tokens"`
	BaseURL     string      `json:"base_url" mapstructure:"base_url"` // Azure, LiteLLM, local gateways
	RetryConfig RetryConfig `json:"retry" mapstructure:"retry"`
}

// RetryConfig holds retry settings for LLM calls.
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`   // default 5
	MaxBackoff  time.Duration `json:"max_backoff" mapstructure:"max_backoff"`   // default 60s
	InitBackoff time.Duration `json:"init_backoff" mapstructure:"init_backoff"` // default 1s
}

// Validate validates the configuration.
func (c *ProviderConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.MaxTokens == 0 {
		return fmt.Errorf("max_tokens is required")
	}
	return nil
}

// --- Scripted provider for tests and dry runs ---

// Step is one canned reply from a ScriptedProvider.
type Step struct {
	Content  string
	ToolCall *ToolCallResponse
	Err      error
}

// Text returns a step that answers with plain text.
func Text(content string) Step {
	return Step{Content: content}
}

// Call returns a step that answers with a single tool call.
func Call(name string, args map[string]interface{}) Step {
	return Step{ToolCall: &ToolCallResponse{Name: name, Args: args}}
}

// Fail returns a step whose Chat call errors.
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedProvider replays a fixed sequence of replies, one per Chat call.
// Running past the end of the script is an error.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []Step
	next     int
	requests []ChatRequest

	// ChatFunc, when set, replaces the script entirely.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NewScriptedProvider creates a provider that replays steps in order.
func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// Push appends more steps to the script.
func (p *ScriptedProvider) Push(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

// Remaining reports how many steps have not been consumed.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps) - p.next
}

// Requests returns every request received so far.
func (p *ScriptedProvider) Requests() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// LastRequest returns the most recent request, or nil.
func (p *ScriptedProvider) LastRequest() *ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// Chat implements the Provider interface.
func (p *ScriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if p.ChatFunc != nil {
		fn := p.ChatFunc
		p.mu.Unlock()
		return fn(ctx, req)
	}
	if p.next >= len(p.steps) {
		p.mu.Unlock()
		return nil, fmt.Errorf("scripted provider exhausted after %d steps", len(p.steps))
	}
	step := p.steps[p.next]
	p.next++
	p.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	resp := &ChatResponse{
		Content:    step.Content,
		StopReason: "end_turn",
		Model:      "scripted",
	}
	if step.ToolCall != nil {
		call := *step.ToolCall
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", p.next)
		}
		resp.ToolCalls = []ToolCallResponse{call}
		resp.StopReason = "tool_use"
	}
	return resp, nil
}
