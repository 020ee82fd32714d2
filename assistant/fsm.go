// Package assistant is the orchestrator. It gates questions on the graph
// being constructed, breaks the user's query into sub-questions for the
// specialist agents and submits its final answer to the Critic until the
// Critic accepts it or the feedback budget runs out.
package assistant

import (
	"fmt"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// Phase is what the Assistant expects next. Exactly one phase is active,
// so at most one awaiting-state holds at any time.
type Phase string

const (
	PhaseIdle                    Phase = "idle"
	PhaseAwaitingConstructAck    Phase = "awaiting_graph_construction_ack"
	PhaseAcceptingNewQuestion    Phase = "accepting_new_question"
	PhaseAwaitingQuestion        Phase = "awaiting_question"
	PhaseAwaitingSearchAnswer    Phase = "awaiting_search_answer"
	PhaseAwaitingQuestionOrFinal Phase = "awaiting_question_or_final_answer"
	PhaseAwaitingFeedback        Phase = "awaiting_feedback"
)

// DefaultMaxCriticRounds is the number of rejections the Assistant works
// through before giving up on a question.
const DefaultMaxCriticRounds = 9

// DoneText is the text of a question that ran out of feedback rounds.
const DoneText = "No more suggestions, DONE."

// Stats are the per-question analytics reported after each run.
type Stats struct {
	QuestionsAsked  int
	CriticResponses int
	FinalAnswer     string
	Terminated      bool
}

// State is the Assistant's phase machine.
type State struct {
	Phase Phase
	// Query is the user's original query while it is being answered.
	Query string
	// Rounds counts rejected final answers for the current question.
	Rounds int
	// GraphReady is set once a dependency graph exists to ask about.
	GraphReady bool
	// Pending is the last final answer sent to the Critic.
	Pending tools.FinalAnswer
	Stats   Stats
}

// Initial returns the starting state.
func Initial() State {
	return State{Phase: PhaseIdle}
}

// Start records a query typed by the user. Before the graph exists the
// query names the package to analyze; afterwards it opens a new question.
// Text arriving mid-question leaves the state unchanged.
func Start(s State, query string) State {
	switch s.Phase {
	case PhaseIdle:
		s.Phase = PhaseAwaitingConstructAck
		s.Query = query
	case PhaseAwaitingConstructAck:
		s.Query = query
	case PhaseAcceptingNewQuestion:
		s.Phase = PhaseAwaitingQuestion
		s.Query = query
		s.Rounds = 0
		s.Pending = tools.FinalAnswer{}
	}
	return s
}

// Transition applies msg to s. maxRounds bounds rejected final answers.
func Transition(s State, msg tools.Message, maxRounds int) (State, agent.Reply) {
	switch m := msg.(type) {
	case tools.ConstructGraph:
		if s.Phase != PhaseAwaitingConstructAck {
			return s, agent.Ignore()
		}
		return s, agent.Forward(tools.GraphQueryAgent, nil)

	case tools.ConstructGraphDone:
		if s.Phase != PhaseAwaitingConstructAck {
			return s, agent.Ignore()
		}
		s.Query = ""
		if !m.Ready() {
			ready := s.GraphReady
			s = Initial()
			s.GraphReady = ready
			if ready {
				s.Phase = PhaseAcceptingNewQuestion
			}
			return s, agent.Finish(agent.StatusTerminated, m.Answer, m)
		}
		s.GraphReady = true
		s.Phase = PhaseAcceptingNewQuestion
		return s, agent.AskUser(m.Answer + " " + AskNewQuestionPrompt)

	case tools.AskNewQuestion:
		if s.Phase != PhaseAcceptingNewQuestion {
			return s, agent.Ignore()
		}
		s.Query = ""
		return s, agent.AskUser(AskNewQuestionPrompt)

	case tools.Question:
		if s.Phase != PhaseAwaitingQuestion && s.Phase != PhaseAwaitingQuestionOrFinal {
			return s, agent.Ignore()
		}
		s.Phase = PhaseAwaitingSearchAnswer
		s.Stats.QuestionsAsked++
		return s, agent.Forward(m.TargetAgent, nil)

	case tools.Answer:
		if s.Phase != PhaseAwaitingSearchAnswer {
			return s, agent.Ignore()
		}
		s.Phase = PhaseAwaitingQuestionOrFinal
		return s, agent.Continue(AnswerPrompt(m.Answer))

	case tools.FinalAnswer:
		if s.Phase != PhaseAwaitingQuestionOrFinal {
			return s, agent.Ignore()
		}
		s.Phase = PhaseAwaitingFeedback
		final := tools.FinalAnswer{Steps: m.Steps, Answer: m.Answer, Query: s.Query}
		s.Pending = final
		s.Stats.FinalAnswer = m.Answer
		return s, agent.Forward(tools.Critic, final)

	case tools.Feedback:
		if s.Phase != PhaseAwaitingFeedback {
			return s, agent.Ignore()
		}
		if m.Accepted() {
			final := s.Pending
			s = acceptNext(s)
			return s, agent.Finish(agent.StatusAccepted, final.Answer, final)
		}
		s.Rounds++
		s.Stats.CriticResponses++
		if s.Rounds > maxRounds {
			s.Stats.Terminated = true
			s = acceptNext(s)
			return s, agent.Finish(agent.StatusTerminated, DoneText, nil)
		}
		s.Phase = PhaseAwaitingQuestionOrFinal
		return s, agent.Continue(FeedbackPrompt(m))
	}
	return s, agent.Ignore()
}

// acceptNext closes the current question and waits for the next one.
func acceptNext(s State) State {
	s.Phase = PhaseAcceptingNewQuestion
	s.Query = ""
	s.Rounds = 0
	s.Pending = tools.FinalAnswer{}
	return s
}

// Abandon closes the current question after the Assistant could not make
// progress. The graph, if built, stays usable.
func Abandon(s State) State {
	s.Stats.Terminated = true
	if !s.GraphReady {
		stats := s.Stats
		s = Initial()
		s.Stats = stats
		return s
	}
	return acceptNext(s)
}

// AskNewQuestionPrompt invites the user's next question.
const AskNewQuestionPrompt = "Please ask your question"

// AnswerPrompt relays a specialist's answer.
func AnswerPrompt(answer string) string {
	return fmt.Sprintf(`Here is the answer to your question:
%s
Now decide whether you want to:
- present your FINAL answer to the user's ORIGINAL QUERY and INCLUDE the
  provided query if AVAILABLE. OR
- ask another question using the %s
  (Maybe REPHRASE the question to get BETTER search results).`, answer, "`"+string(tools.KindQuestion)+"`")
}

// FeedbackPrompt relays a rejection.
func FeedbackPrompt(m tools.Feedback) string {
	return fmt.Sprintf(`Below is feedback about your answer. Take it into account to
improve your answer, EITHER by:
- using the %[1]s again but with improved REASONING, OR
- asking another question using the %[2]s, and when you're
  ready, present your final answer again using the %[1]s.

FEEDBACK: %[3]s
SUGGESTED FIX: %[4]s`,
		"`"+string(tools.KindFinalAnswer)+"`", "`"+string(tools.KindQuestion)+"`",
		m.Feedback, m.SuggestedFix)
}

// Reminder is the corrective text for a phase, or "" if the phase has none.
func Reminder(s State) string {
	switch s.Phase {
	case PhaseAwaitingQuestionOrFinal:
		return fmt.Sprintf(`You may have intended to use a tool, but your JSON format may be wrong.

REMINDER: You must do one of the following:
- If you are ready with the final answer to the user's ORIGINAL QUERY
  [ Remember it was: %[1]s ],
  then present your reasoning steps and final answer using the
  %[2]s in the specified JSON format.
- If you still need to ask a question, then use the %[3]s
  to ask a SINGLE question that can be answered by the appropriate agent.`,
			s.Query, "`"+string(tools.KindFinalAnswer)+"`", "`"+string(tools.KindQuestion)+"`")
	case PhaseAwaitingQuestion:
		return fmt.Sprintf(`You must ask a question using the %s in the specified format,
to break down the user's original query: %s into
smaller questions that can be answered by the appropriate agent.`,
			"`"+string(tools.KindQuestion)+"`", s.Query)
	case PhaseAwaitingConstructAck:
		return fmt.Sprintf("You must use the %s tool with the package name, version and type "+
			"the user provided in: %s", "`"+string(tools.KindConstructGraph)+"`", s.Query)
	}
	return ""
}
