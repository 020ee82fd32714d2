// Package session wires the Assistant, GraphQueryAgent, RetrievalAgent and
// Critic into a task tree and runs user turns through it.
//
// A Session owns its collaborators: the graph store and builder, the
// deps.dev and OSV clients with their shared cache and rate limiter, the
// web searcher, the visualizer and the iteration report sink. Sessions do
// not share agent state, and at most one user turn runs at a time.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/assistant"
	"github.com/Mohannadcse/DepsRAG/cache"
	"github.com/Mohannadcse/DepsRAG/config"
	"github.com/Mohannadcse/DepsRAG/credentials"
	"github.com/Mohannadcse/DepsRAG/critic"
	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/graph"
	"github.com/Mohannadcse/DepsRAG/graphquery"
	"github.com/Mohannadcse/DepsRAG/llm"
	"github.com/Mohannadcse/DepsRAG/logging"
	"github.com/Mohannadcse/DepsRAG/ratelimit"
	"github.com/Mohannadcse/DepsRAG/report"
	"github.com/Mohannadcse/DepsRAG/retrieval"
	"github.com/Mohannadcse/DepsRAG/tasks"
	"github.com/Mohannadcse/DepsRAG/telemetry"
	"github.com/Mohannadcse/DepsRAG/tools"
	"github.com/Mohannadcse/DepsRAG/visualize"
	"github.com/Mohannadcse/DepsRAG/vuln"
	"github.com/Mohannadcse/DepsRAG/websearch"
)

// Config is the session configuration, loaded by the config package.
type Config = config.Config

// Rate limiter resources for the external APIs.
const (
	resourceDepsDev = "depsdev"
	resourceOSV     = "osv"
)

// Deps overrides collaborators that New would otherwise build from the
// configuration. Zero fields are built.
type Deps struct {
	// Provider is shared by every agent without an entry in Providers.
	Provider llm.Provider
	// Providers assigns a provider per agent name.
	Providers map[string]llm.Provider

	Credentials *credentials.Credentials
	HTTPClient  *http.Client
	Store       graph.Store
	Fetcher     graph.Fetcher
	Checker     vuln.Checker
	Searcher    websearch.Searcher
	Renderer    visualize.Renderer
	Reports     report.Sink
	Transcript  telemetry.Exporter

	// Human answers Assistant prompts mid-run when the protocol is
	// interactive. Without one, runs stop and return the prompt.
	Human tasks.Human

	Logger *logging.Logger
}

// Outcome is what one user turn produced.
type Outcome struct {
	// Status is accepted or terminated once a question is closed, and
	// empty while the Assistant waits for the user.
	Status agent.Status

	// AwaitingUser is set when Text is a prompt for the user.
	AwaitingUser bool

	// Text is the answer, the terminal message or the prompt.
	Text string

	// Final is the accepted or last proposed final answer, if any.
	Final *tools.FinalAnswer

	// Report is the iteration recorded for a closed question.
	Report *report.Iteration

	Turns    int
	Duration time.Duration
}

// Session is one coordination session.
type Session struct {
	id  string
	cfg *Config
	log *logging.Logger

	mu   sync.Mutex
	busy bool

	store      graph.Store
	builder    *graph.Builder
	renderer   visualize.Renderer
	reports    report.Sink
	transcript telemetry.Exporter

	assistant  *assistant.Agent
	graphQuery *graphquery.Agent
	retrieval  *retrieval.Agent
	critic     *critic.Agent
	root       *tasks.Task

	// question is the user question the current run answers.
	question   string
	questionNo map[string]int
	iterations map[int]int

	closers []func(context.Context) error
}

// New builds a session from cfg. A nil cfg uses the defaults.
func New(ctx context.Context, cfg *Config, deps Deps) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		questionNo: make(map[string]int),
		iterations: make(map[int]int),
	}
	log := deps.Logger
	if log == nil {
		log = logging.New()
		log.SetLevel(logging.ParseLevel(cfg.Log.Level))
	}
	s.log = log.WithComponent("session").WithTraceID(s.id)

	if err := s.build(ctx, cfg, deps, log); err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.log.Info("session started", map[string]interface{}{
		"graph":   cfg.Graph.Backend,
		"search":  cfg.Search.Provider,
		"reports": cfg.Report.Sink,
	})
	return s, nil
}

func (s *Session) build(ctx context.Context, cfg *Config, deps Deps, log *logging.Logger) error {
	creds := deps.Credentials
	if creds == nil {
		loaded, path, err := credentials.Load()
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, "loading credentials",
				errors.WithMetadata("path", path))
		}
		creds = loaded
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTP.Timeout}
	}

	limiter := ratelimit.NewMemoryLimiter()
	if rpm := cfg.HTTP.RequestsPerMinute; rpm > 0 {
		limiter.SetCapacity(resourceDepsDev, rpm, time.Minute)
		limiter.SetCapacity(resourceOSV, rpm, time.Minute)
	}
	s.closers = append(s.closers, func(context.Context) error { return limiter.Close() })

	var responses *cache.Cache
	if deps.Fetcher == nil || deps.Checker == nil {
		c, err := cache.New(cfg.Cache.MaxCost, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		responses = c
		s.closers = append(s.closers, func(context.Context) error { c.Close(); return nil })
	}

	s.store = deps.Store
	if s.store == nil {
		neo := creds.GetNeo4j()
		store, err := graph.Open(ctx, cfg.Graph.Backend, cfg.Graph.Path, &neo)
		if err != nil {
			return err
		}
		s.store = store
		s.closers = append(s.closers, store.Close)
	}

	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = graph.NewDepsDev(cfg.HTTP.DepsDevURL,
			graph.WithHTTPClient(client), graph.WithCache(responses), graph.WithLimiter(limiter))
	}
	s.builder = graph.NewBuilder(s.store, fetcher,
		graph.WithWorkers(cfg.Graph.FetchWorkers), graph.WithLogger(log))

	checker := deps.Checker
	if checker == nil {
		checker = vuln.NewOSV(cfg.HTTP.OSVURL,
			vuln.WithHTTPClient(client), vuln.WithCache(responses), vuln.WithLimiter(limiter))
	}

	searcher := deps.Searcher
	if searcher == nil {
		ws, err := websearch.New(cfg.Search.Provider, creds, cfg.Search.Cooldown, client)
		if err != nil {
			return err
		}
		searcher = ws
	}

	s.renderer = deps.Renderer
	if s.renderer == nil {
		s.renderer = visualize.NewHTML(cfg.Visualize.OutputDir, cfg.Visualize.HostPath)
	}

	s.reports = deps.Reports
	if s.reports == nil {
		sink, err := report.Open(ctx, cfg.Report.Sink, cfg.Report.Path)
		if err != nil {
			return err
		}
		s.reports = sink
		s.closers = append(s.closers, func(context.Context) error { return sink.Close() })
	}

	s.transcript = deps.Transcript
	if s.transcript == nil {
		protocol := ""
		if cfg.Telemetry.Transcript != "" {
			protocol = "file"
		}
		exp, err := telemetry.NewExporter(protocol, cfg.Telemetry.Transcript)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, "opening transcript")
		}
		s.transcript = exp
		s.closers = append(s.closers, func(context.Context) error { return exp.Close() })
	}

	providers, err := newProviders(cfg.LLM, creds, deps)
	if err != nil {
		return err
	}
	return s.wire(cfg, providers, checker, searcher, deps.Human, log)
}

// wire builds the four roles and the task tree. The routing table is
// fixed here: the Assistant reaches the other three roles, which reach
// nobody.
func (s *Session) wire(cfg *Config, providers func(string) llm.Provider, checker vuln.Checker,
	searcher websearch.Searcher, human tasks.Human, log *logging.Logger) error {
	registry := tools.NewRegistry()
	p := cfg.Protocol

	s.assistant = assistant.New(assistant.Options{
		Provider:        providers(tools.Assistant),
		Registry:        registry,
		MaxCriticRounds: p.MaxCriticRounds,
		FallbackLimit:   p.FallbackLimit,
		MaxTokens:       cfg.LLM.MaxTokens,
		Logger:          log.WithTraceID(s.id),
	})
	s.graphQuery = graphquery.New(graphquery.Options{
		Provider:            providers(tools.GraphQueryAgent),
		Registry:            registry,
		Store:               s.store,
		Constructor:         s.builder,
		Renderer:            s.renderer,
		MaxQueryCorrections: p.MaxQueryCorrections,
		FallbackLimit:       p.FallbackLimit,
		MaxTokens:           cfg.LLM.MaxTokens,
		Logger:              log.WithTraceID(s.id),
	})
	s.retrieval = retrieval.New(retrieval.Options{
		Provider:      providers(tools.RetrievalAgent),
		Registry:      registry,
		Checker:       checker,
		Searcher:      searcher,
		FallbackLimit: p.FallbackLimit,
		MaxTokens:     cfg.LLM.MaxTokens,
		Logger:        log.WithTraceID(s.id),
	})
	s.critic = critic.New(critic.Options{
		Provider:      providers(tools.Critic),
		Registry:      registry,
		FallbackLimit: p.FallbackLimit,
		MaxTokens:     cfg.LLM.MaxTokens,
		Logger:        log.WithTraceID(s.id),
	})

	taskCfg := func(interactive bool) tasks.Config {
		c := tasks.Config{
			MaxTurns:   p.MaxTurns,
			SessionID:  s.id,
			Transcript: s.transcript,
			Logger:     log.WithTraceID(s.id),
		}
		if interactive {
			c.Interactive = true
			c.Human = human
		}
		return c
	}

	var subs []*tasks.Task
	for _, a := range []agent.Agent{s.graphQuery, s.retrieval, s.critic} {
		t, err := tasks.New(a, taskCfg(false))
		if err != nil {
			return err
		}
		subs = append(subs, t)
	}
	root, err := tasks.New(s.assistant, taskCfg(p.Interactive && human != nil), subs...)
	if err != nil {
		return err
	}
	s.root = root
	return nil
}

// newProviders resolves the model behind each agent. Agents without an
// injected provider share one built from cfg.
func newProviders(cfg llm.ProviderConfig, creds *credentials.Credentials, deps Deps) (func(string) llm.Provider, error) {
	shared := deps.Provider
	needShared := false
	for _, name := range []string{tools.Assistant, tools.GraphQueryAgent, tools.RetrievalAgent, tools.Critic} {
		if _, ok := deps.Providers[name]; !ok {
			needShared = true
		}
	}
	if shared == nil && needShared {
		if cfg.Provider == "" {
			cfg.Provider = llm.InferProviderFromModel(cfg.Model)
		}
		if cfg.APIKey == "" {
			cfg.APIKey = creds.GetAPIKey(cfg.Provider)
		}
		p, err := llm.NewProvider(cfg)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, "creating LLM provider",
				errors.WithMetadata("provider", cfg.Provider), errors.WithMetadata("model", cfg.Model))
		}
		shared = llm.WithTracing(p, cfg.Provider)
	}
	return func(name string) llm.Provider {
		if p, ok := deps.Providers[name]; ok {
			return p
		}
		return shared
	}, nil
}

// ID returns the session ID that tags logs, spans and reports.
func (s *Session) ID() string { return s.id }

// Store returns the graph store.
func (s *Session) Store() graph.Store { return s.store }

// Reports returns the iteration report sink.
func (s *Session) Reports() report.Sink { return s.reports }

// Phase returns the Assistant's phase.
func (s *Session) Phase() assistant.Phase { return s.assistant.State().Phase }

// GraphReady reports whether a dependency graph has been constructed.
func (s *Session) GraphReady() bool { return s.assistant.State().GraphReady }

// Close releases the session's collaborators in reverse order of creation.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if len(errs) > 0 {
		return errors.WrapWithCode(errors.Join(errs...), errors.ErrCodeInternal, "closing session")
	}
	return nil
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return errors.FromCode(errors.ErrCodeQuestionInProgress, errors.WithSession(s.id))
	}
	s.busy = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}
