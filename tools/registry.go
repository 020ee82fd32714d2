package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mohannadcse/DepsRAG/llm"
)

// Decoder builds a message from tool call arguments.
type Decoder func(args Args) (Message, error)

// Registry maps message kinds to their prototype and decoder.
type Registry struct {
	protos   map[Kind]Message
	decoders map[Kind]Decoder
}

// NewRegistry returns a registry with every protocol message registered.
func NewRegistry() *Registry {
	r := &Registry{
		protos:   make(map[Kind]Message),
		decoders: make(map[Kind]Decoder),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(Question{}, decodeQuestion)
	r.Register(Answer{}, decodeAnswer)
	r.Register(FinalAnswer{}, decodeFinalAnswer)
	r.Register(Feedback{}, decodeFeedback)
	r.Register(ConstructGraph{}, decodeConstructGraph)
	r.Register(ConstructGraphDone{}, decodeConstructDone)
	r.Register(AskNewQuestion{}, decodeAskNewQuestion)
	r.Register(RetrievalQuery{}, decodeRetrievalQuery)
	r.Register(VisualizeGraph{}, decodeVisualize)
	r.Register(VulnerabilityCheck{}, decodeVulnerability)
	r.Register(WebSearch{}, decodeWebSearch)
}

// Register adds or replaces a message kind.
func (r *Registry) Register(proto Message, dec Decoder) {
	r.protos[proto.Kind()] = proto
	r.decoders[proto.Kind()] = dec
}

// Has reports whether the kind is registered.
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.decoders[kind]
	return ok
}

// Kinds returns every registered kind, sorted.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.protos))
	for k := range r.protos {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Definitions returns the LLM-facing tool definitions for the given kinds,
// in the order given. Unknown kinds are skipped.
func (r *Registry) Definitions(kinds ...Kind) []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(kinds))
	for _, k := range kinds {
		proto, ok := r.protos[k]
		if !ok {
			continue
		}
		defs = append(defs, llm.ToolDef{
			Name:        string(k),
			Description: proto.Purpose(),
			Parameters:  proto.Parameters(),
		})
	}
	return defs
}

// Decode turns an LLM tool call into a validated message.
func (r *Registry) Decode(call llm.ToolCallResponse) (Message, error) {
	dec, ok := r.decoders[Kind(call.Name)]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	msg, err := dec(Args(call.Args))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Name, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", call.Name, err)
	}
	return msg, nil
}

// --- decoders ---

func decodeQuestion(a Args) (Message, error) {
	q, err := a.String("question")
	if err != nil {
		return nil, err
	}
	target, err := a.String("target_agent")
	if err != nil {
		return nil, err
	}
	return Question{Question: q, TargetAgent: normalizeAgent(target)}, nil
}

func decodeAnswer(a Args) (Message, error) {
	ans, err := a.String("answer")
	if err != nil {
		return nil, err
	}
	return Answer{Answer: ans}, nil
}

func decodeFinalAnswer(a Args) (Message, error) {
	ans, err := a.String("answer")
	if err != nil {
		return nil, err
	}
	return FinalAnswer{
		Steps:  a.StringOr("steps", ""),
		Answer: ans,
		Query:  a.StringOr("query", ""),
	}, nil
}

func decodeFeedback(a Args) (Message, error) {
	fb, err := a.String("feedback")
	if err != nil {
		return nil, err
	}
	return Feedback{Feedback: fb, SuggestedFix: a.StringOr("suggested_fix", "")}, nil
}

func decodeConstructGraph(a Args) (Message, error) {
	name, version, typ, err := packageArgs(a)
	if err != nil {
		return nil, err
	}
	return ConstructGraph{PackageName: name, PackageVersion: version, PackageType: typ}, nil
}

func decodeConstructDone(a Args) (Message, error) {
	ans, err := a.String("answer")
	if err != nil {
		return nil, err
	}
	status, err := a.String("status")
	if err != nil {
		return nil, err
	}
	return ConstructGraphDone{
		Answer: ans,
		Status: status,
		Nodes:  a.IntOr("nodes", 0),
		Edges:  a.IntOr("edges", 0),
	}, nil
}

func decodeAskNewQuestion(a Args) (Message, error) {
	return AskNewQuestion{Question: a.StringOr("question", "")}, nil
}

func decodeRetrievalQuery(a Args) (Message, error) {
	q, err := a.String("query")
	if err != nil {
		return nil, err
	}
	return RetrievalQuery{Query: q}, nil
}

func decodeVisualize(a Args) (Message, error) {
	name, version, typ, err := packageArgs(a)
	if err != nil {
		return nil, err
	}
	return VisualizeGraph{
		PackageName:    name,
		PackageVersion: version,
		PackageType:    typ,
		Query:          a.StringOr("query", ""),
	}, nil
}

func decodeVulnerability(a Args) (Message, error) {
	name, version, typ, err := packageArgs(a)
	if err != nil {
		return nil, err
	}
	return VulnerabilityCheck{PackageName: name, PackageVersion: version, PackageType: typ}, nil
}

func decodeWebSearch(a Args) (Message, error) {
	q, err := a.String("query")
	if err != nil {
		return nil, err
	}
	n := a.IntOr("num_results", DefaultNumResults)
	if n == 0 {
		n = DefaultNumResults
	}
	return WebSearch{Query: q, NumResults: n}, nil
}

func packageArgs(a Args) (name, version, typ string, err error) {
	if name, err = a.Text("package_name"); err != nil {
		return
	}
	if version, err = a.Text("package_version"); err != nil {
		return
	}
	if typ, err = a.Text("package_type"); err != nil {
		return
	}
	return strings.ToLower(name), version, strings.ToLower(typ), nil
}

// normalizeAgent accepts common spellings of the specialist names.
func normalizeAgent(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "graphqueryagent", "graph_query_agent", "dependencygraphagent":
		return GraphQueryAgent
	case "retrievalagent", "retrieval_agent", "retrieveragent":
		return RetrievalAgent
	}
	return name
}
