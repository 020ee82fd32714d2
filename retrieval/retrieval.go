package retrieval

import (
	"context"
	"time"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/llm"
	"github.com/Mohannadcse/DepsRAG/logging"
	"github.com/Mohannadcse/DepsRAG/tools"
	"github.com/Mohannadcse/DepsRAG/vuln"
	"github.com/Mohannadcse/DepsRAG/websearch"
)

// SystemPrompt is the RetrievalAgent's standing instruction.
const SystemPrompt = `You are an expert in retrieving information about security vulnerabilities
of packages and in performing web searches.
- Use the vulnerability_check tool to retrieve vulnerability information about
  the provided package name, version and type. MAKE SURE you have this
  information before using the tool.
- Use the web_search tool to retrieve information from the web.`

// Options configures a RetrievalAgent.
type Options struct {
	Provider llm.Provider
	Registry *tools.Registry
	Checker  vuln.Checker
	Searcher websearch.Searcher

	// MaxLookupFailures bounds failed lookups per question.
	MaxLookupFailures int
	FallbackLimit     int
	MaxTokens         int
	Logger            *logging.Logger
}

// Agent is the RetrievalAgent role.
type Agent struct {
	*agent.Base
	state       State
	checker     vuln.Checker
	searcher    websearch.Searcher
	maxFailures int
}

// New creates a RetrievalAgent.
func New(opts Options) *Agent {
	if opts.MaxLookupFailures <= 0 {
		opts.MaxLookupFailures = DefaultMaxLookupFailures
	}
	a := &Agent{
		Base: agent.NewBase(agent.Config{
			Name:          tools.RetrievalAgent,
			System:        SystemPrompt,
			Provider:      opts.Provider,
			Registry:      opts.Registry,
			Tools:         []tools.Kind{tools.KindVulnerability, tools.KindWebSearch},
			FallbackLimit: opts.FallbackLimit,
			MaxTokens:     opts.MaxTokens,
			Logger:        opts.Logger,
		}),
		state:       Initial(),
		checker:     opts.Checker,
		searcher:    opts.Searcher,
		maxFailures: opts.MaxLookupFailures,
	}
	a.On(tools.KindQuestion, a.question)
	a.On(tools.KindVulnerability, a.vulnerabilityCheck)
	a.On(tools.KindWebSearch, a.webSearch)
	a.On(tools.KindAnswer, a.answer)
	return a
}

func (a *Agent) question(_ context.Context, msg tools.Message) agent.Reply {
	m := msg.(tools.Question)
	a.ResetConversation()
	a.state = Ask(a.state, m.Question)
	return agent.Continue(QuestionPrompt(m.Question))
}

func (a *Agent) vulnerabilityCheck(ctx context.Context, msg tools.Message) agent.Reply {
	if a.state.Phase != PhaseExpectingSearchTool {
		return agent.Ignore()
	}
	m := msg.(tools.VulnerabilityCheck)
	if a.checker == nil {
		return a.failed(msg.Kind(), "no vulnerability database is configured")
	}

	start := time.Now()
	body, err := a.checker.Check(ctx, m.PackageName, m.PackageVersion, m.PackageType)
	a.Logger().CollaboratorCall("osv", time.Since(start), err)
	if err != nil {
		return a.failed(msg.Kind(), err.Error())
	}
	a.state = Fetched(a.state, msg.Kind())
	return agent.Continue(vuln.Summary(body) + "\n\n" + string(body))
}

func (a *Agent) webSearch(ctx context.Context, msg tools.Message) agent.Reply {
	if a.state.Phase != PhaseExpectingSearchTool {
		return agent.Ignore()
	}
	m := msg.(tools.WebSearch)
	if a.searcher == nil {
		return a.failed(msg.Kind(), "no web search provider is configured")
	}

	start := time.Now()
	results, err := a.searcher.Search(ctx, m.Query, m.NumResults)
	a.Logger().CollaboratorCall("web_search", time.Since(start), err)
	if err != nil {
		return a.failed(msg.Kind(), err.Error())
	}
	a.state = Fetched(a.state, msg.Kind())
	return agent.Continue(websearch.Format(results))
}

func (a *Agent) answer(_ context.Context, msg tools.Message) agent.Reply {
	var ok bool
	if a.state, ok = Answered(a.state); !ok {
		return agent.Ignore()
	}
	return agent.Done(msg)
}

func (a *Agent) failed(kind tools.Kind, reason string) agent.Reply {
	var reply agent.Reply
	a.state, reply = LookupFailed(a.state, kind, reason, a.maxFailures)
	if reply.Kind == agent.ReplyDone {
		a.Logger().Escalation(a.Name(), "lookup failures exhausted")
	}
	return reply
}

// Respond composes the answer once results are in; otherwise it runs the
// normal reasoning step.
func (a *Agent) Respond(ctx context.Context, env agent.Envelope) (agent.Envelope, error) {
	if a.state.Phase != PhaseExpectingSearchResults {
		return a.Base.Respond(ctx, env)
	}
	content, err := a.Forget(ctx, ComposePrompt(a.state.Question, env.Text))
	if err != nil {
		return agent.Envelope{}, err
	}
	answer := Compose(a.state, content)
	return agent.Envelope{
		From:    a.Name(),
		Source:  agent.SourceLLM,
		Text:    answer.Answer,
		Message: answer,
	}, nil
}

// Fallback reminds the model of the tool format.
func (a *Agent) Fallback(_ context.Context, env agent.Envelope) agent.Reply {
	if a.state.Phase != PhaseExpectingSearchTool {
		return agent.Ignore()
	}
	if reply, ok := a.Remind(env, a.Phase(), reminder); ok {
		return reply
	}
	var reply agent.Reply
	a.state, reply = Escalate(a.state, "")
	return reply
}

// Phase implements agent.Agent.
func (a *Agent) Phase() string { return string(a.state.Phase) }

// State returns a copy of the phase machine.
func (a *Agent) State() State { return a.state }

// InitState implements agent.Agent.
func (a *Agent) InitState() {
	stats := a.state.Stats
	a.state = Initial()
	a.state.Stats = stats
	a.ResetConversation()
}

// Stats returns the analytics collected since the last ResetStats.
func (a *Agent) Stats() Stats { return a.state.Stats }

// ResetStats clears the analytics.
func (a *Agent) ResetStats() { a.state.Stats = Stats{} }
