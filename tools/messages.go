// Package tools defines the structured messages agents exchange.
//
// Every message is a tool the LLM can call: it has a kind, a purpose the
// model reads, a JSON schema for its parameters and a Validate method that
// rejects calls the protocol cannot act on. Messages are values; handlers
// build new ones instead of changing the ones they receive.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies a message type. It doubles as the tool name offered to
// the LLM.
type Kind string

const (
	KindQuestion       Kind = "question_tool"
	KindAnswer         Kind = "answer_tool"
	KindFinalAnswer    Kind = "final_answer_tool"
	KindFeedback       Kind = "feedback_tool"
	KindConstructGraph Kind = "construct_dependency_graph"
	KindConstructDone  Kind = "construct_graph_done"
	KindAskNewQuestion Kind = "ask_new_question"
	KindRetrievalQuery Kind = "retrieval_query"
	KindVisualizeGraph Kind = "visualize_dependency_graph"
	KindVulnerability  Kind = "vulnerability_check"
	KindWebSearch      Kind = "web_search"
)

// Agent names used as question targets and routing keys.
const (
	GraphQueryAgent = "GraphQueryAgent"
	RetrievalAgent  = "RetrievalAgent"
	Critic          = "Critic"
	Assistant       = "Assistant"
)

// Construction outcomes carried by ConstructGraphDone.
const (
	StatusCreated = "created"
	StatusExists  = "exists"
	StatusFailed  = "failed"
)

// DefaultNumResults is the web search result count when the model omits it.
const DefaultNumResults = 3

// Message is a structured payload exchanged between agents.
type Message interface {
	Kind() Kind
	Purpose() string
	Parameters() map[string]interface{}
	Validate() error
}

// Question asks a single sub-question of a specialist agent.
type Question struct {
	Question    string `json:"question"`
	TargetAgent string `json:"target_agent"`
}

func (Question) Kind() Kind { return KindQuestion }

func (Question) Purpose() string {
	return "Ask a SINGLE <question> to the <target_agent>. Use GraphQueryAgent for " +
		"questions answerable from the dependency graph database, RetrievalAgent " +
		"for vulnerabilities or anything that needs a web search."
}

func (Question) Parameters() map[string]interface{} {
	return schema(props{
		"question": str("A single, self-contained question."),
		"target_agent": enum("The agent that should answer the question.",
			GraphQueryAgent, RetrievalAgent),
	}, "question", "target_agent")
}

func (m Question) Validate() error {
	if strings.TrimSpace(m.Question) == "" {
		return fmt.Errorf("question is required")
	}
	if m.TargetAgent != GraphQueryAgent && m.TargetAgent != RetrievalAgent {
		return fmt.Errorf("target_agent must be %s or %s, got %q", GraphQueryAgent, RetrievalAgent, m.TargetAgent)
	}
	return nil
}

// Answer carries a specialist's answer back to the Assistant.
type Answer struct {
	Answer string `json:"answer"`
}

func (Answer) Kind() Kind { return KindAnswer }

func (Answer) Purpose() string {
	return "Present the <answer> to the question you were asked."
}

func (Answer) Parameters() map[string]interface{} {
	return schema(props{"answer": str("The answer.")}, "answer")
}

func (m Answer) Validate() error {
	if strings.TrimSpace(m.Answer) == "" {
		return fmt.Errorf("answer is required")
	}
	return nil
}

// FinalAnswer is the Assistant's answer to the user's original query.
// Query is filled in by the Assistant before the Critic sees it.
type FinalAnswer struct {
	Steps  string `json:"steps"`
	Answer string `json:"answer"`
	Query  string `json:"query,omitempty"`
}

func (FinalAnswer) Kind() Kind { return KindFinalAnswer }

func (FinalAnswer) Purpose() string {
	return "Present the intermediate <steps> and final <answer> to the user's original query."
}

func (FinalAnswer) Parameters() map[string]interface{} {
	return schema(props{
		"steps":  str("The reasoning steps that led to the answer."),
		"answer": str("The final answer."),
		"query":  str("The user's original query, if available."),
	}, "steps", "answer")
}

func (m FinalAnswer) Validate() error {
	if strings.TrimSpace(m.Answer) == "" {
		return fmt.Errorf("answer is required")
	}
	return nil
}

// Feedback is the Critic's verdict. An empty SuggestedFix accepts the answer.
type Feedback struct {
	Feedback     string `json:"feedback"`
	SuggestedFix string `json:"suggested_fix"`
}

func (Feedback) Kind() Kind { return KindFeedback }

func (Feedback) Purpose() string {
	return "Provide <feedback> on the answer and a <suggested_fix>. Leave " +
		"<suggested_fix> EMPTY if the answer is valid."
}

func (Feedback) Parameters() map[string]interface{} {
	return schema(props{
		"feedback":      str("Feedback on the reasoning and the answer."),
		"suggested_fix": str("How to fix the answer, or empty if it is valid."),
	}, "feedback", "suggested_fix")
}

func (Feedback) Validate() error { return nil }

// Accepted reports whether the Critic accepted the answer.
func (m Feedback) Accepted() bool {
	return strings.TrimSpace(m.SuggestedFix) == ""
}

// ConstructGraph asks for the dependency graph of a package to be built.
type ConstructGraph struct {
	PackageName    string `json:"package_name"`
	PackageVersion string `json:"package_version"`
	PackageType    string `json:"package_type"`
}

func (ConstructGraph) Kind() Kind { return KindConstructGraph }

func (ConstructGraph) Purpose() string {
	return "Get package <package_version>, <package_type>, and <package_name>. " +
		"For the <package_version>, obtain the recent version, it should be a number. " +
		"For the <package_type>, return if the package is PyPI, NPM, Go, Cargo, Maven or NuGet. " +
		"For the <package_name>, return the package name provided by the user. " +
		"ALL strings are in lower case."
}

func (ConstructGraph) Parameters() map[string]interface{} {
	return packageProps(nil)
}

func (m ConstructGraph) Validate() error {
	return validatePackage(m.PackageName, m.PackageVersion, m.PackageType)
}

// ConstructGraphDone reports the outcome of graph construction.
type ConstructGraphDone struct {
	Answer string `json:"answer"`
	Status string `json:"status"`
	Nodes  int    `json:"nodes"`
	Edges  int    `json:"edges"`
}

func (ConstructGraphDone) Kind() Kind { return KindConstructDone }

func (ConstructGraphDone) Purpose() string {
	return "Report whether the dependency graph was created."
}

func (ConstructGraphDone) Parameters() map[string]interface{} {
	return schema(props{
		"answer": str("Human readable outcome."),
		"status": enum("Outcome.", StatusCreated, StatusExists, StatusFailed),
		"nodes":  integer("Packages in the graph."),
		"edges":  integer("Dependency edges in the graph."),
	}, "answer", "status")
}

func (m ConstructGraphDone) Validate() error {
	switch m.Status {
	case StatusCreated, StatusExists, StatusFailed:
		return nil
	}
	return fmt.Errorf("status must be created, exists or failed, got %q", m.Status)
}

// Ready reports whether questions can be asked against the graph.
func (m ConstructGraphDone) Ready() bool {
	return m.Status == StatusCreated || m.Status == StatusExists
}

// AskNewQuestion hands the turn back to the user for a new question.
type AskNewQuestion struct {
	Question string `json:"question"`
}

func (AskNewQuestion) Kind() Kind { return KindAskNewQuestion }

func (AskNewQuestion) Purpose() string {
	return "Ask the user for a new question about the dependency graph."
}

func (AskNewQuestion) Parameters() map[string]interface{} {
	return schema(props{"question": str("Leave empty.")})
}

func (AskNewQuestion) Validate() error { return nil }

// RetrievalQuery is a read query against the dependency graph store.
type RetrievalQuery struct {
	Query string `json:"query"`
}

func (RetrievalQuery) Kind() Kind { return KindRetrievalQuery }

func (RetrievalQuery) Purpose() string {
	return "Run a read-only <query> against the dependency graph database to " +
		"retrieve the information needed to answer the question."
}

func (RetrievalQuery) Parameters() map[string]interface{} {
	return schema(props{"query": str("The query, in the database's query language.")}, "query")
}

func (m RetrievalQuery) Validate() error {
	if strings.TrimSpace(m.Query) == "" {
		return fmt.Errorf("query is required")
	}
	return nil
}

// VisualizeGraph renders the dependency graph to a page.
type VisualizeGraph struct {
	PackageName    string `json:"package_name"`
	PackageVersion string `json:"package_version"`
	PackageType    string `json:"package_type"`
	Query          string `json:"query"`
}

func (VisualizeGraph) Kind() Kind { return KindVisualizeGraph }

func (VisualizeGraph) Purpose() string {
	return "Use this tool/function to display the dependency graph."
}

func (VisualizeGraph) Parameters() map[string]interface{} {
	return packageProps(props{"query": str("The user's request, for the page title.")})
}

func (m VisualizeGraph) Validate() error {
	return validatePackage(m.PackageName, m.PackageVersion, m.PackageType)
}

// VulnerabilityCheck queries OSV for a package version.
type VulnerabilityCheck struct {
	PackageName    string `json:"package_name"`
	PackageVersion string `json:"package_version"`
	PackageType    string `json:"package_type"`
}

func (VulnerabilityCheck) Kind() Kind { return KindVulnerability }

func (VulnerabilityCheck) Purpose() string {
	return "Use this tool/function to check for vulnerabilities based on the provided " +
		"<package_version>, <package_type>, and <package_name>. DO NOT make assumptions " +
		"about <package_type> and <package_name>."
}

func (VulnerabilityCheck) Parameters() map[string]interface{} {
	return packageProps(nil)
}

func (m VulnerabilityCheck) Validate() error {
	return validatePackage(m.PackageName, m.PackageVersion, m.PackageType)
}

// WebSearch runs a web search.
type WebSearch struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results"`
}

func (WebSearch) Kind() Kind { return KindWebSearch }

func (WebSearch) Purpose() string {
	return "Search the web for <query> and return the top <num_results> results."
}

func (WebSearch) Parameters() map[string]interface{} {
	return schema(props{
		"query":       str("The search query."),
		"num_results": integer("Number of results (default 3)."),
	}, "query")
}

func (m WebSearch) Validate() error {
	if strings.TrimSpace(m.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if m.NumResults < 0 {
		return fmt.Errorf("num_results must be positive")
	}
	return nil
}

// Encode renders a message as the JSON a model would have produced,
// with the kind under "request".
func Encode(m Message) string {
	data, err := json.Marshal(m)
	if err != nil {
		return string(m.Kind())
	}
	var fields map[string]interface{}
	json.Unmarshal(data, &fields)
	fields["request"] = string(m.Kind())
	data, _ = json.Marshal(fields)
	return string(data)
}

// --- schema helpers ---

type props map[string]interface{}

func schema(p props, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}(p),
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func integer(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func enum(desc string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc, "enum": values}
}

func packageProps(extra props) map[string]interface{} {
	p := props{
		"package_name":    str("Package name, lower case."),
		"package_version": str("Package version, for example 1.1.200."),
		"package_type":    str("Package ecosystem: pypi, npm, go, cargo, maven or nuget."),
	}
	for k, v := range extra {
		p[k] = v
	}
	return schema(p, "package_name", "package_version", "package_type")
}

func validatePackage(name, version, typ string) error {
	var missing []string
	if strings.TrimSpace(name) == "" {
		missing = append(missing, "package_name")
	}
	if strings.TrimSpace(version) == "" {
		missing = append(missing, "package_version")
	}
	if strings.TrimSpace(typ) == "" {
		missing = append(missing, "package_type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required", strings.Join(missing, ", "))
	}
	return nil
}
