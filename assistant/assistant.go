package assistant

import (
	"context"
	"strings"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/llm"
	"github.com/Mohannadcse/DepsRAG/logging"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// SystemPrompt is the Assistant's standing instruction.
const SystemPrompt = `You are a resourceful assistant, able to think step by step to answer
complex questions from the user about software dependency graphs.
Your task is to:
 (1) coordinate the other agents to construct and analyze dependency graphs
     for software packages.
 (2) answer the user's questions. You must break down complex questions into
     simpler questions that can be answered by retrieving information from
     different agents.

First, ask the user to provide the name of the package, version, and ecosystem
they want to analyze. Then use the construct_dependency_graph tool to construct
the dependency graph.
After constructing the dependency graph, the user will ask their questions.
You must ask each question ONE BY ONE using the question_tool, and the
appropriate agent will retrieve the information from the constructed dependency
graph, the web, and/or the vulnerability database.
Provide ALL of package name, version, and type when you ask a question about
vulnerabilities.
Once you have enough information to answer the original (complex) question, you
MUST present your INTERMEDIATE STEPS and FINAL ANSWER using the
final_answer_tool.
You will then receive FEEDBACK from the Critic, and if needed you should try to
improve your answer based on this feedback.`

// Options configures an Assistant.
type Options struct {
	Provider        llm.Provider
	Registry        *tools.Registry
	MaxCriticRounds int
	FallbackLimit   int
	MaxTokens       int
	Logger          *logging.Logger
}

// Agent is the orchestrator role.
type Agent struct {
	*agent.Base
	state     State
	maxRounds int
}

// New creates an Assistant. A zero MaxCriticRounds uses
// DefaultMaxCriticRounds.
func New(opts Options) *Agent {
	if opts.MaxCriticRounds <= 0 {
		opts.MaxCriticRounds = DefaultMaxCriticRounds
	}
	a := &Agent{
		Base: agent.NewBase(agent.Config{
			Name:     tools.Assistant,
			System:   SystemPrompt,
			Provider: opts.Provider,
			Registry: opts.Registry,
			Tools: []tools.Kind{
				tools.KindConstructGraph,
				tools.KindQuestion,
				tools.KindFinalAnswer,
			},
			FallbackLimit: opts.FallbackLimit,
			MaxTokens:     opts.MaxTokens,
			Logger:        opts.Logger,
		}),
		state:     Initial(),
		maxRounds: opts.MaxCriticRounds,
	}
	for _, kind := range []tools.Kind{
		tools.KindConstructGraph,
		tools.KindConstructDone,
		tools.KindAskNewQuestion,
		tools.KindQuestion,
		tools.KindAnswer,
		tools.KindFinalAnswer,
		tools.KindFeedback,
	} {
		a.On(kind, a.transition)
	}
	return a
}

// fromAgents are the kinds only a sub-agent may deliver.
var fromAgents = map[tools.Kind]bool{
	tools.KindConstructDone: true,
	tools.KindAnswer:        true,
	tools.KindFeedback:      true,
}

// Handle rejects results that did not come from a sub-agent, so the model
// cannot mark the graph built or answer its own questions.
func (a *Agent) Handle(ctx context.Context, env agent.Envelope) (agent.Reply, bool) {
	if fromAgents[env.Kind()] && env.Source != agent.SourceAgent {
		a.Logger().Warn("result not from a sub-agent", map[string]interface{}{
			"kind":   string(env.Kind()),
			"source": string(env.Source),
		})
		return agent.Ignore(), true
	}
	return a.Base.Handle(ctx, env)
}

func (a *Agent) transition(_ context.Context, msg tools.Message) agent.Reply {
	var reply agent.Reply
	a.state, reply = Transition(a.state, msg, a.maxRounds)

	if fb, ok := msg.(tools.Feedback); ok && reply.Kind != agent.ReplyIgnore {
		round := a.state.Rounds
		if reply.Kind == agent.ReplyFinish && !fb.Accepted() {
			round = a.maxRounds + 1
		}
		a.Logger().CriticVerdict(fb.Accepted(), round, a.maxRounds)
	}
	return reply
}

// Respond records text typed by the user before running the reasoning step.
func (a *Agent) Respond(ctx context.Context, env agent.Envelope) (agent.Envelope, error) {
	if env.Source == agent.SourceUser {
		a.state = Start(a.state, strings.TrimSpace(env.Text))
	}
	return a.Base.Respond(ctx, env)
}

// Fallback handles free text and malformed tool calls from the model.
//
// While accepting a new question the turn goes straight back to the user.
// While waiting for the graph to be constructed, plain text is the model
// asking the user for package details. Otherwise the model is reminded of
// what the phase expects, and once the reminders are spent the question
// is abandoned.
func (a *Agent) Fallback(ctx context.Context, env agent.Envelope) agent.Reply {
	reply := a.fallback(ctx, env)
	if reply.Kind == agent.ReplyFinish || reply.Kind == agent.ReplyAskUser {
		a.EndTurn(reply.Text)
	}
	return reply
}

func (a *Agent) fallback(ctx context.Context, env agent.Envelope) agent.Reply {
	switch a.state.Phase {
	case PhaseAcceptingNewQuestion:
		return a.transition(ctx, tools.AskNewQuestion{})
	case PhaseAwaitingConstructAck:
		if env.Source == agent.SourceLLM && env.Message == nil && env.Err == nil &&
			strings.TrimSpace(env.Text) != "" {
			return agent.AskUser(env.Text)
		}
	}

	text := Reminder(a.state)
	if text == "" {
		return agent.Ignore()
	}
	if reply, ok := a.Remind(env, a.Phase(), text); ok {
		return reply
	}
	query := a.state.Query
	a.state = Abandon(a.state)
	return agent.Finish(agent.StatusTerminated, "could not resolve the question: "+query, nil)
}

// Phase implements agent.Agent.
func (a *Agent) Phase() string { return string(a.state.Phase) }

// State returns a copy of the phase machine.
func (a *Agent) State() State { return a.state }

// InitState implements agent.Agent. It forgets the graph too.
func (a *Agent) InitState() {
	a.state = Initial()
	a.ResetConversation()
}

// Recover returns the Assistant to a usable phase after a run failed
// mid-question. The graph, if built, is kept.
func (a *Agent) Recover() {
	stats := a.state.Stats
	ready := a.state.GraphReady
	a.state = Initial()
	a.state.Stats = stats
	a.state.GraphReady = ready
	if ready {
		a.state.Phase = PhaseAcceptingNewQuestion
	}
	a.ResetConversation()
}

// MarkGraphReady records a graph built outside the conversation, so the
// next user text is taken as a question.
func (a *Agent) MarkGraphReady() {
	a.state.GraphReady = true
	if a.state.Phase == PhaseIdle {
		a.state.Phase = PhaseAcceptingNewQuestion
	}
}

// Stats returns the analytics collected since the last ResetStats.
func (a *Agent) Stats() Stats { return a.state.Stats }

// ResetStats clears the analytics.
func (a *Agent) ResetStats() { a.state.Stats = Stats{} }
