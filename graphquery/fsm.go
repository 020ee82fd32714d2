// Package graphquery answers questions from the dependency graph. It builds
// the graph on request, translates each question into a read query against
// the store, repairs failing queries and composes a concise answer.
package graphquery

import (
	"fmt"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/graph"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// Phase is what the GraphQueryAgent expects next.
type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseAwaitingRetrievalQuery Phase = "awaiting_retrieval_query"
	PhaseComposingAnswer        Phase = "composing_answer"
)

// DefaultMaxQueryCorrections bounds failed queries per question.
const DefaultMaxQueryCorrections = 5

// Stats are the analytics reported after each run.
type Stats struct {
	CorrectedQueries int
	Questions        int
}

// State is the GraphQueryAgent's phase machine.
type State struct {
	Phase Phase
	// Question is the question being answered.
	Question string
	// Corrections counts failed queries for the current question.
	Corrections int
	Stats       Stats
}

// Initial returns the starting state.
func Initial() State {
	return State{Phase: PhaseIdle}
}

// Ask starts answering question.
func Ask(s State, question string) State {
	s.Phase = PhaseAwaitingRetrievalQuery
	s.Question = question
	s.Corrections = 0
	s.Stats.Questions++
	return s
}

// QueryDone applies the result of a retrieval query. A failed query is
// sent back for correction until maxCorrections is exceeded, at which
// point the question is given up.
func QueryDone(s State, res graph.QueryResult, schema string, maxCorrections int) (State, agent.Reply) {
	if res.Success {
		s.Phase = PhaseComposingAnswer
		return s, agent.Continue(res.Text())
	}
	s.Corrections++
	s.Stats.CorrectedQueries++
	if s.Corrections > maxCorrections {
		q := s.Question
		s.Phase = PhaseIdle
		s.Question = ""
		return s, agent.Done(tools.Answer{Answer: fmt.Sprintf(
			"could not resolve the question: %s. The last query failed with: %s", q, res.Error)})
	}
	return s, agent.Continue(FixPrompt(res.Text(), s.Question, schema))
}

// Rendered applies the outcome of a visualization, which stands in for
// a query result.
func Rendered(s State, uri string, err error) (State, agent.Reply) {
	s.Phase = PhaseComposingAnswer
	if err != nil {
		return s, agent.Continue("Failed to create visualization: " + err.Error())
	}
	return s, agent.Continue(uri)
}

// Compose wraps the model's concise answer for the Assistant.
func Compose(s State, answer string) tools.Answer {
	return tools.Answer{Answer: fmt.Sprintf(`Here are the retrieval_query results for the question: %s.
===
%s
===
Decide if you want to ask any further questions, for the user's original question.`, s.Question, answer)}
}

// Answered hands the composed answer over. Only a question whose query
// results are in can be answered.
func Answered(s State) (State, bool) {
	if s.Phase != PhaseComposingAnswer {
		return s, false
	}
	s.Phase = PhaseIdle
	s.Question = ""
	return s, true
}

// Escalate gives up on the current question after the reminders ran out.
func Escalate(s State) (State, agent.Reply) {
	q := s.Question
	s.Phase = PhaseIdle
	s.Question = ""
	return s, agent.Done(tools.Answer{Answer: "could not resolve the question: " + q})
}

// QuestionPrompt asks the model for a retrieval query.
func QuestionPrompt(question, schema, dialect string) string {
	return fmt.Sprintf(`User asked this question: %s.
Perform a retrieval from the graph database ONLY using the %s tool.
Use this graph schema: %s
for generating the %s query.`, question, "`"+string(tools.KindRetrievalQuery)+"`", schema, dialect)
}

// FixPrompt asks the model to repair a failed query.
func FixPrompt(errText, question, schema string) string {
	return fmt.Sprintf(`FIX the query and make another trial:
Here is the error message: %s.
===
Remember the question: %s
and the graph schema: %s to generate a correct query.`, errText, question, schema)
}

// ForgotPrompt reminds the model to use the retrieval tool.
func ForgotPrompt(question, schema string) string {
	return fmt.Sprintf(`You forgot to use the %s tool to answer the
user's question: %s based on this graph database schema
%s.`, "`"+string(tools.KindRetrievalQuery)+"`", question, schema)
}
