// Package retrieval answers questions from outside the graph: known
// vulnerabilities from OSV and anything else from a web search.
package retrieval

import (
	"fmt"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// Phase is what the RetrievalAgent expects next.
type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseExpectingSearchTool    Phase = "expecting_search_tool"
	PhaseExpectingSearchResults Phase = "expecting_search_results"
)

// DefaultMaxLookupFailures bounds failed lookups per question.
const DefaultMaxLookupFailures = 3

// Stats are the analytics reported after each run.
type Stats struct {
	Searches            int
	VulnerabilityChecks int
	Failures            int
}

// State is the RetrievalAgent's phase machine.
type State struct {
	Phase    Phase
	Question string
	// Failures counts failed lookups for the current question.
	Failures int
	Stats    Stats
}

// Initial returns the starting state.
func Initial() State {
	return State{Phase: PhaseIdle}
}

// Ask starts answering question.
func Ask(s State, question string) State {
	s.Phase = PhaseExpectingSearchTool
	s.Question = question
	s.Failures = 0
	return s
}

// Fetched records a successful lookup of the given kind; the next
// reasoning step composes the answer.
func Fetched(s State, kind tools.Kind) State {
	s.Phase = PhaseExpectingSearchResults
	switch kind {
	case tools.KindWebSearch:
		s.Stats.Searches++
	case tools.KindVulnerability:
		s.Stats.VulnerabilityChecks++
	}
	return s
}

// LookupFailed sends a collaborator error back to the model so it can
// retry, until maxFailures is exceeded and the question is given up.
func LookupFailed(s State, kind tools.Kind, reason string, maxFailures int) (State, agent.Reply) {
	s.Failures++
	s.Stats.Failures++
	if s.Failures > maxFailures {
		return Escalate(s, "The lookup kept failing: "+reason)
	}
	return s, agent.Continue(string(kind) + " failed: " + reason +
		"\nFix the tool arguments or try the other tool.")
}

// Compose wraps the model's answer for the Assistant.
func Compose(s State, answer string) tools.Answer {
	return tools.Answer{Answer: fmt.Sprintf(`Here are the web-search results for the question: %s.
===
%s`, s.Question, answer)}
}

// Answered hands the composed answer over. Without a successful lookup
// there is nothing to answer from.
func Answered(s State) (State, bool) {
	if s.Phase != PhaseExpectingSearchResults {
		return s, false
	}
	s.Phase = PhaseIdle
	s.Question = ""
	return s, true
}

// Escalate gives up on the current question.
func Escalate(s State, reason string) (State, agent.Reply) {
	q := s.Question
	s.Phase = PhaseIdle
	s.Question = ""
	text := "could not resolve the question: " + q
	if reason != "" {
		text += ". " + reason
	}
	return s, agent.Done(tools.Answer{Answer: text})
}

// QuestionPrompt asks the model to pick a lookup tool.
func QuestionPrompt(question string) string {
	return fmt.Sprintf(`User asked this question: %s.
Use the %s tool if the question is about vulnerabilities.
Otherwise, perform a web search using the %s tool
using the specified JSON format, to find the answer.`,
		question, "`"+string(tools.KindVulnerability)+"`", "`"+string(tools.KindWebSearch)+"`")
}

// ComposePrompt asks the model for an answer from lookup results.
func ComposePrompt(question, results string) string {
	return fmt.Sprintf(`Compose a CONCISE answer to the question: %s
based ONLY on these results:
%s`, question, results)
}

const reminder = `You may have intended to use a tool, but your JSON format may be wrong.
Re-try your response using the CORRECT format of the tool/function.`
