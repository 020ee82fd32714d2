package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/config"
	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/logging"
	"github.com/Mohannadcse/DepsRAG/report"
	"github.com/Mohannadcse/DepsRAG/session"
	"github.com/Mohannadcse/DepsRAG/shutdown"
	"github.com/Mohannadcse/DepsRAG/tasks"
	"github.com/Mohannadcse/DepsRAG/telemetry"
)

var version = "dev"

var (
	configPath string
	debug      bool
	model      string
	provider   string
	ecosystem  string
)

var rootCmd = &cobra.Command{
	Use:   "depsrag",
	Short: "Ask questions about a package's dependency graph",
	Long: `depsrag builds the transitive dependency graph of a package from deps.dev
and answers questions about it with a team of agents:

  Assistant        breaks the question into smaller ones
  GraphQueryAgent  queries the graph database
  RetrievalAgent   searches the web and the OSV vulnerability database
  Critic           reviews the final answer and asks for fixes

Configuration is read from depsrag.yaml (or --config) and DEPSRAG_*
environment variables; API keys from credentials.toml.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default depsrag.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug logging and span payloads")
	rootCmd.PersistentFlags().StringVarP(&model, "model", "m", "", "LLM model name")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "LLM provider (anthropic, openai, google, groq, openai-compat)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(constructCmd)
	rootCmd.AddCommand(visualizeCmd)
	rootCmd.AddCommand(benchCmd)
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
		cfg.Telemetry.Debug = true
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	if provider != "" {
		cfg.LLM.Provider = provider
	}
	return cfg, cfg.Validate()
}

// runtime is what every command sets up: a session, the report sink it
// writes to, and the shutdown order that closes them.
type runtime struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     *config.Config
	session *session.Session
	reports report.Sink
	coord   *shutdown.Coordinator
	stop    func()
}

func start(cmd *cobra.Command, human tasks.Human) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.Log.Level))

	ctx, cancel := context.WithCancel(cmd.Context())
	rt := &runtime{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		coord:  shutdown.New(shutdown.DefaultTimeout, log),
		stop:   func() {},
	}

	if cfg.Telemetry.Endpoint != "" {
		tp, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
			Debug:          cfg.Telemetry.Debug,
		})
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.coord.Register("tracer", shutdown.PhaseTelemetry, tp.Shutdown)
	}

	sink, err := report.Open(ctx, cfg.Report.Sink, cfg.Report.Path)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.reports = sink
	rt.coord.Register("reports", shutdown.PhaseSinks, func(context.Context) error { return sink.Close() })

	s, err := session.New(ctx, cfg, session.Deps{Reports: sink, Human: human, Logger: log})
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.session = s
	rt.coord.Register("session", shutdown.PhaseSession, s.Close)

	rt.stop = rt.coord.HandleSignals(cancel)
	return rt, nil
}

func (rt *runtime) close() error {
	rt.stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdown.DefaultTimeout)
	defer cancel()
	err := rt.coord.Shutdown(ctx)
	rt.cancel()
	if err == shutdown.ErrAlreadyClosed {
		return nil
	}
	return err
}

// parsePackage splits "name@version". Scoped npm names keep their
// leading "@".
func parsePackage(s string) (name, version string, err error) {
	i := strings.LastIndex(s, "@")
	if i <= 0 || i == len(s)-1 {
		return "", "", errors.InvalidInput(fmt.Sprintf("package must be name@version, got %q", s))
	}
	return s[:i], s[i+1:], nil
}

func addEcosystemFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&ecosystem, "ecosystem", "e", "pypi", "package ecosystem (pypi, npm, go, maven, cargo, nuget)")
}

var (
	assistantLabel = color.New(color.FgCyan, color.Bold).SprintFunc()
	userLabel      = color.New(color.FgGreen, color.Bold).SprintFunc()
)

func printOutcome(out *session.Outcome) {
	switch {
	case out.AwaitingUser:
		fmt.Printf("%s %s\n", assistantLabel("assistant>"), out.Text)
	case out.Status == agent.StatusAccepted:
		fmt.Printf("%s %s\n", color.GreenString("✓"), out.Text)
	default:
		fmt.Printf("%s %s\n", color.YellowString("✗"), out.Text)
	}
	if out.Report != nil {
		color.New(color.Faint).Printf("  question %d, run %d: %d sub-questions, %d critic responses, %s\n",
			out.Report.QuestionNo, out.Report.Iteration, out.Report.NumQuestionsAsked,
			out.Report.NumCriticResponses, out.Duration.Round(time.Millisecond))
	}
}

func printError(err error) {
	code := errors.Code(err)
	if code != "" {
		fmt.Fprintf(os.Stderr, "%s [%s] %v\n", color.RedString("error:"), code, err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
}
