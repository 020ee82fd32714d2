package critic

import (
	"context"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/llm"
	"github.com/Mohannadcse/DepsRAG/logging"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// SystemPrompt is the Critic's standing instruction.
const SystemPrompt = `You excel at logical reasoning and combining pieces of information retrieved from:
- the dependency graph database
- the web search
- the vulnerability database
To validate the correctness of the answer, YOU NEED to consider graph and tree
concepts because the dependency graph is a tree structure, where the root node
is the package name provided by the user.
The user will send you a summary of the intermediate steps and final answer.
You must examine these and provide feedback to the user, using the
feedback_tool, as follows:
- If you think the answer is valid, simply set the suggested_fix field to an
  empty string "".
- Otherwise set the feedback field to a reason why the answer is invalid, and in
  the suggested_fix field indicate how the user can improve the answer, for
  example by reasoning differently, or asking different questions.`

// Options configures a Critic.
type Options struct {
	Provider      llm.Provider
	Registry      *tools.Registry
	FallbackLimit int
	MaxTokens     int
	Logger        *logging.Logger
}

// Agent is the Critic role.
type Agent struct {
	*agent.Base
	state State
}

// New creates a Critic.
func New(opts Options) *Agent {
	a := &Agent{
		Base: agent.NewBase(agent.Config{
			Name:          tools.Critic,
			System:        SystemPrompt,
			Provider:      opts.Provider,
			Registry:      opts.Registry,
			Tools:         []tools.Kind{tools.KindFeedback},
			FallbackLimit: opts.FallbackLimit,
			MaxTokens:     opts.MaxTokens,
			Logger:        opts.Logger,
		}),
		state: Initial(),
	}
	a.On(tools.KindFinalAnswer, a.transition)
	a.On(tools.KindFeedback, a.transition)
	return a
}

func (a *Agent) transition(_ context.Context, msg tools.Message) agent.Reply {
	var reply agent.Reply
	a.state, reply = Transition(a.state, msg)
	return reply
}

// Phase implements agent.Agent.
func (a *Agent) Phase() string { return string(a.state.Phase) }

// State returns a copy of the phase machine.
func (a *Agent) State() State { return a.state }

// InitState implements agent.Agent.
func (a *Agent) InitState() {
	a.state = Initial()
	a.ResetConversation()
}

// Fallback reminds the model to use the feedback tool. When the reminders
// run out the Critic rejects the answer it could not judge, so nothing
// reaches the user unreviewed.
func (a *Agent) Fallback(_ context.Context, env agent.Envelope) agent.Reply {
	if a.state.Phase != PhaseExpectingFeedback {
		return agent.Ignore()
	}
	if reply, ok := a.Remind(env, a.Phase(), reminder); ok {
		return reply
	}
	a.state.Phase = PhaseIdle
	verdict := tools.Feedback{
		Feedback:     "could not resolve a verdict on this answer",
		SuggestedFix: "Re-check the reasoning steps against the retrieved facts and present the final answer again.",
	}
	a.EndTurn(tools.Encode(verdict))
	return agent.Done(verdict)
}
