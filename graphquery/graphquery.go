package graphquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/graph"
	"github.com/Mohannadcse/DepsRAG/llm"
	"github.com/Mohannadcse/DepsRAG/logging"
	"github.com/Mohannadcse/DepsRAG/tools"
	"github.com/Mohannadcse/DepsRAG/visualize"
)

// Constructor builds the dependency graph of a package. *graph.Builder
// implements it.
type Constructor interface {
	Construct(ctx context.Context, name, version, pkgType string) graph.ConstructResult
}

// Options configures a GraphQueryAgent.
type Options struct {
	Provider            llm.Provider
	Registry            *tools.Registry
	Store               graph.Store
	Constructor         Constructor
	Renderer            visualize.Renderer
	MaxQueryCorrections int
	FallbackLimit       int
	MaxTokens           int
	Logger              *logging.Logger
}

// Agent is the GraphQueryAgent role.
type Agent struct {
	*agent.Base
	state          State
	store          graph.Store
	constructor    Constructor
	renderer       visualize.Renderer
	maxCorrections int
	schema         string // cached schema summary
	questionSchema string // schema shown for the current question
}

// New creates a GraphQueryAgent.
func New(opts Options) *Agent {
	if opts.MaxQueryCorrections <= 0 {
		opts.MaxQueryCorrections = DefaultMaxQueryCorrections
	}
	dialect := "graph"
	if opts.Store != nil {
		dialect = opts.Store.Dialect()
	}
	a := &Agent{
		Base: agent.NewBase(agent.Config{
			Name:          tools.GraphQueryAgent,
			System:        systemPrompt(dialect),
			Provider:      opts.Provider,
			Registry:      opts.Registry,
			Tools:         []tools.Kind{tools.KindRetrievalQuery, tools.KindVisualizeGraph},
			FallbackLimit: opts.FallbackLimit,
			MaxTokens:     opts.MaxTokens,
			Logger:        opts.Logger,
		}),
		state:          Initial(),
		store:          opts.Store,
		constructor:    opts.Constructor,
		renderer:       opts.Renderer,
		maxCorrections: opts.MaxQueryCorrections,
	}
	a.On(tools.KindConstructGraph, a.construct)
	a.On(tools.KindQuestion, a.question)
	a.On(tools.KindRetrievalQuery, a.retrievalQuery)
	a.On(tools.KindVisualizeGraph, a.visualizeGraph)
	a.On(tools.KindAnswer, a.answer)
	return a
}

func systemPrompt(dialect string) string {
	return fmt.Sprintf(`You are an expert in retrieving information from a %s dependency graph database.
Packages are nodes; DEPENDS_ON edges point from a package to each of its dependencies.
- Use the retrieval_query tool to query the database.
- Use the visualize_dependency_graph tool when the user asks to display the graph.
- Once you receive the results from the database you must compose a CONCISE answer.`, dialect)
}

func (a *Agent) construct(ctx context.Context, msg tools.Message) agent.Reply {
	m := msg.(tools.ConstructGraph)
	if a.constructor == nil {
		return agent.Done(tools.ConstructGraphDone{
			Answer: "Database is not created! No graph builder is configured.",
			Status: tools.StatusFailed,
		})
	}
	res := a.constructor.Construct(ctx, m.PackageName, m.PackageVersion, m.PackageType)
	if res.Status == graph.StatusCreated {
		a.schema = ""
	}
	return agent.Done(tools.ConstructGraphDone{
		Answer: res.Answer,
		Status: res.Status,
		Nodes:  res.Nodes,
		Edges:  res.Edges,
	})
}

func (a *Agent) question(ctx context.Context, msg tools.Message) agent.Reply {
	m := msg.(tools.Question)
	a.ResetConversation()
	a.state = Ask(a.state, m.Question)
	a.questionSchema = a.schemaSummary(ctx)
	return agent.Continue(QuestionPrompt(m.Question, a.questionSchema, a.dialect()))
}

func (a *Agent) retrievalQuery(ctx context.Context, msg tools.Message) agent.Reply {
	if a.state.Phase != PhaseAwaitingRetrievalQuery {
		return agent.Ignore()
	}
	m := msg.(tools.RetrievalQuery)
	var res graph.QueryResult
	if a.store == nil {
		res = graph.QueryResult{Error: "no graph database is configured"}
	} else {
		start := time.Now()
		res = a.store.ReadQuery(ctx, m.Query, nil)
		var err error
		if !res.Success {
			err = fmt.Errorf("%s", res.Error)
		}
		a.Logger().CollaboratorCall("graph.read_query", time.Since(start), err)
	}

	var reply agent.Reply
	a.state, reply = QueryDone(a.state, res, a.questionSchema, a.maxCorrections)
	a.Logger().QueryResult(a.Name(), res.Success, len(res.Rows), a.state.Corrections)
	if reply.Kind == agent.ReplyDone {
		a.Logger().Escalation(a.Name(), "query corrections exhausted")
	}
	return reply
}

func (a *Agent) answer(_ context.Context, msg tools.Message) agent.Reply {
	var ok bool
	if a.state, ok = Answered(a.state); !ok {
		return agent.Ignore()
	}
	return agent.Done(msg)
}

func (a *Agent) visualizeGraph(ctx context.Context, msg tools.Message) agent.Reply {
	if a.state.Phase != PhaseAwaitingRetrievalQuery {
		return agent.Ignore()
	}
	uri, err := a.render(ctx)
	var reply agent.Reply
	a.state, reply = Rendered(a.state, uri, err)
	return reply
}

func (a *Agent) render(ctx context.Context) (string, error) {
	if a.renderer == nil || a.store == nil {
		return "", fmt.Errorf("no renderer is configured")
	}
	start := time.Now()
	snap, err := a.store.Snapshot(ctx)
	if err == nil {
		var uri string
		uri, err = a.renderer.Render(ctx, snap)
		a.Logger().CollaboratorCall("visualize", time.Since(start), err)
		return uri, err
	}
	a.Logger().CollaboratorCall("graph.snapshot", time.Since(start), err)
	return "", err
}

// schemaSummary asks the model once for a compact description of the
// store schema. If that fails the raw schema is used for this question.
func (a *Agent) schemaSummary(ctx context.Context) string {
	if a.schema != "" {
		return a.schema
	}
	if a.store == nil {
		return "unknown"
	}
	raw, err := a.store.Schema(ctx)
	if err != nil {
		a.Logger().Warn("schema unavailable", map[string]interface{}{"error": err.Error()})
		return "unknown"
	}
	summary, err := a.Forget(ctx, "Provide a concise summary of nodes and edges WITHOUT any explanation "+
		"for this graph schema "+raw)
	if err != nil || strings.TrimSpace(summary) == "" {
		a.Logger().Warn("schema summary failed, using raw schema")
		return raw
	}
	a.schema = strings.TrimSpace(summary)
	return a.schema
}

func (a *Agent) dialect() string {
	if a.store == nil {
		return "graph"
	}
	return a.store.Dialect()
}

// Respond composes the answer once query results are in; otherwise it runs
// the normal reasoning step.
func (a *Agent) Respond(ctx context.Context, env agent.Envelope) (agent.Envelope, error) {
	if a.state.Phase != PhaseComposingAnswer {
		return a.Base.Respond(ctx, env)
	}
	concise, err := a.Forget(ctx, "Provide concise answer: "+env.Text)
	if err != nil {
		return agent.Envelope{}, err
	}
	answer := Compose(a.state, concise)
	return agent.Envelope{
		From:    a.Name(),
		Source:  agent.SourceLLM,
		Text:    answer.Answer,
		Message: answer,
	}, nil
}

// Fallback reminds the model to query the graph. When the reminders run
// out the question is answered as unresolved.
func (a *Agent) Fallback(_ context.Context, env agent.Envelope) agent.Reply {
	if a.state.Phase != PhaseAwaitingRetrievalQuery {
		return agent.Ignore()
	}
	if reply, ok := a.Remind(env, a.Phase(), ForgotPrompt(a.state.Question, a.questionSchema)); ok {
		return reply
	}
	var reply agent.Reply
	a.state, reply = Escalate(a.state)
	return reply
}

// Phase implements agent.Agent.
func (a *Agent) Phase() string { return string(a.state.Phase) }

// State returns a copy of the phase machine.
func (a *Agent) State() State { return a.state }

// InitState implements agent.Agent. The schema summary is kept.
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
