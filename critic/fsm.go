// Package critic validates the Assistant's final answers.
//
// The Critic receives a final answer with the query it answers, asks its
// model for a verdict and hands the resulting feedback back to the
// Assistant. An empty suggested fix accepts the answer.
package critic

import (
	"fmt"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// Phase is what the Critic expects next.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseExpectingFeedback Phase = "expecting_feedback"
)

// State is the Critic's phase machine.
type State struct {
	Phase Phase
	// Reviews counts final answers reviewed since the last reset.
	Reviews int
}

// Initial returns the starting state.
func Initial() State {
	return State{Phase: PhaseIdle}
}

// Transition applies msg to s.
func Transition(s State, msg tools.Message) (State, agent.Reply) {
	switch m := msg.(type) {
	case tools.FinalAnswer:
		s.Phase = PhaseExpectingFeedback
		s.Reviews++
		return s, agent.Continue(ReviewPrompt(m))

	case tools.Feedback:
		if s.Phase != PhaseExpectingFeedback {
			return s, agent.Ignore()
		}
		s.Phase = PhaseIdle
		return s, agent.Done(m)
	}
	return s, agent.Ignore()
}

// ReviewPrompt asks the model to judge a final answer.
func ReviewPrompt(m tools.FinalAnswer) string {
	return fmt.Sprintf(`The user has presented the following query, intermediate steps and final answer
shown below. Please provide feedback using the %[1]s, with the feedback field
containing your feedback, and the suggested_fix field containing a suggested fix,
such as fixing how the answer or the steps, or how it was obtained from the steps,
or asking new questions.

REMEMBER to set the suggested_fix field to an EMPTY string if the answer is VALID.

QUERY: %[2]s

STEPS: %[3]s

ANSWER: %[4]s`, "`"+string(tools.KindFeedback)+"`", m.Query, m.Steps, m.Answer)
}

const reminder = "You forgot to provide feedback using the `feedback_tool` " +
	"on the user's reasoning steps and final answer."
