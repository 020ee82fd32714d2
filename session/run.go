package session

import (
	"context"
	"time"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/assistant"
	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/graph"
	"github.com/Mohannadcse/DepsRAG/report"
	"github.com/Mohannadcse/DepsRAG/tasks"
	"github.com/Mohannadcse/DepsRAG/telemetry"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// Send delivers one user turn to the Assistant: a question, a package
// description, or an answer to the Assistant's last prompt. It returns
// when the question is closed or the Assistant needs the user again.
func (s *Session) Send(ctx context.Context, text string) (*Outcome, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.run(ctx, text)
}

// Ask runs a question against the constructed graph. Unlike Send it
// refuses to start before a graph exists.
func (s *Session) Ask(ctx context.Context, question string) (*Outcome, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	st := s.assistant.State()
	if !st.GraphReady {
		return nil, errors.New(errors.ErrCodeGraphNotReady,
			"construct a dependency graph before asking questions", errors.WithSession(s.id))
	}
	if st.Phase != assistant.PhaseAcceptingNewQuestion {
		return nil, errors.New(errors.ErrCodeQuestionInProgress,
			"the assistant is in phase "+string(st.Phase), errors.WithSession(s.id))
	}
	return s.run(ctx, question)
}

// Construct builds the dependency graph of a package directly, without a
// conversation turn. A successful build lets the next Send be a question.
func (s *Session) Construct(ctx context.Context, name, version, pkgType string) (graph.ConstructResult, error) {
	if err := s.acquire(); err != nil {
		return graph.ConstructResult{}, err
	}
	defer s.release()

	tracer := telemetry.GetTracer()
	spanCtx, span := tracer.StartCollaboratorSpan(ctx, "graph.construct")
	res := s.builder.Construct(spanCtx, name, version, pkgType)
	var err error
	if !res.Success {
		err = errors.New(errors.ErrCodePackageMissing, res.Answer,
			errors.WithSession(s.id), errors.WithMetadata("package", name+"@"+version),
			errors.WithMetadata("error", res.Error))
	}
	tracer.EndCollaboratorSpan(span, telemetry.CollaboratorSpanOptions{
		Args:   map[string]interface{}{"package": name, "version": version, "type": pkgType},
		Result: res.Status,
	}, err)
	if err != nil {
		return res, err
	}
	s.assistant.MarkGraphReady()
	return res, nil
}

// Visualize renders the whole graph and returns the page URI.
func (s *Session) Visualize(ctx context.Context) (string, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return s.renderer.Render(ctx, snap)
}

func (s *Session) run(ctx context.Context, text string) (*Outcome, error) {
	before := s.assistant.State()
	if before.Phase == assistant.PhaseIdle || before.Phase == assistant.PhaseAcceptingNewQuestion {
		s.question = text
	}

	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartQuestionSpan(ctx, s.id, text)
	res, err := s.root.Run(ctx, agent.Envelope{From: "user", Source: agent.SourceUser, Text: text})
	if err != nil {
		s.recover(err)
		tracer.EndQuestionSpan(span, "error", s.assistant.State().Rounds, err)
		return nil, err
	}

	out := &Outcome{Text: res.Text, Turns: res.Turns, Duration: res.Duration}
	switch res.Status {
	case tasks.StatusFinished:
		out.Status = res.Outcome
		if final, ok := res.Message.(tools.FinalAnswer); ok {
			out.Final = &final
		}
		if s.question != "" && s.closedQuestion() {
			it, err := s.record(ctx, out, res.Duration)
			if err != nil {
				s.log.Warn("iteration report not recorded", map[string]interface{}{"error": err.Error()})
			} else {
				out.Report = it
			}
		}
		s.question = ""
	default:
		out.AwaitingUser = true
	}
	tracer.EndQuestionSpan(span, string(res.Status), s.assistant.Stats().CriticResponses, nil)
	return out, nil
}

// closedQuestion reports whether the finished run went past graph
// construction. A failed construction closes the turn without a question
// having been worked on.
func (s *Session) closedQuestion() bool {
	st := s.assistant.Stats()
	return st.QuestionsAsked > 0 || st.FinalAnswer != "" || st.Terminated
}

// recover puts every role back into a usable phase after a run failed.
func (s *Session) recover(err error) {
	s.log.Error("run failed", map[string]interface{}{
		"error": err.Error(),
		"code":  string(errors.Code(err)),
		"phase": s.Phase(),
	})
	s.assistant.Recover()
	s.graphQuery.InitState()
	s.retrieval.InitState()
	s.critic.InitState()
	s.resetStats()
}

// record writes the iteration report of the question just closed and
// resets the analytics counters.
func (s *Session) record(ctx context.Context, out *Outcome, elapsed time.Duration) (*report.Iteration, error) {
	defer s.resetStats()

	no, ok := s.questionNo[s.question]
	if !ok {
		no = len(s.questionNo) + 1
		s.questionNo[s.question] = no
	}
	s.iterations[no]++

	ast := s.assistant.Stats()
	it := report.Iteration{
		SessionID:           s.id,
		QuestionNo:          no,
		Question:            s.question,
		Iteration:           s.iterations[no],
		Answer:              out.Text,
		NumCorrectedQueries: s.graphQuery.Stats().CorrectedQueries,
		NumCriticResponses:  ast.CriticResponses,
		NumQuestionsAsked:   ast.QuestionsAsked,
		NumSearches:         s.retrieval.Stats().Searches + s.retrieval.Stats().VulnerabilityChecks,
		Terminated:          ast.Terminated || out.Status == agent.StatusTerminated,
		Duration:            elapsed,
		RecordedAt:          time.Now(),
	}
	s.log.QuestionComplete(string(out.Status), it.NumCriticResponses, it.NumQuestionsAsked, elapsed)
	if err := s.reports.Record(ctx, it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Session) resetStats() {
	s.assistant.ResetStats()
	s.graphQuery.ResetStats()
	s.retrieval.ResetStats()
}
