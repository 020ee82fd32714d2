// Package report records per-iteration analytics of answered questions:
// how many queries the GraphQueryAgent had to correct, how often the
// Critic pushed back, how many sub-questions the Assistant asked, and
// whether the question was accepted or abandoned.
//
// Three sinks are provided: a JSON file keyed by question number, a
// sqlite table, and an in-memory sink for tests and the "none" setting.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Mohannadcse/DepsRAG/errors"
)

// Common errors.
var (
	ErrClosed = errors.New(errors.ErrCodeInternal, "report sink closed")
)

// Sink kinds accepted by Open.
const (
	SinkJSON   = "json"
	SinkSQLite = "sqlite"
	SinkNone   = "none"
)

// Iteration is the outcome of one run of one question.
type Iteration struct {
	SessionID           string        `json:"session_id,omitempty"`
	QuestionNo          int           `json:"question_no"`
	Question            string        `json:"question"`
	Iteration           int           `json:"iteration"`
	Answer              string        `json:"answer"`
	NumCorrectedQueries int           `json:"num_corrected_queries"`
	NumCriticResponses  int           `json:"num_critic_responses"`
	NumQuestionsAsked   int           `json:"num_questions_asked"`
	NumSearches         int           `json:"num_searches"`
	Terminated          bool          `json:"terminated"`
	Duration            time.Duration `json:"duration_ns"`
	RecordedAt          time.Time     `json:"recorded_at"`
}

// Validate checks the fields every sink keys on.
func (it Iteration) Validate() error {
	switch {
	case it.QuestionNo < 1:
		return errors.InvalidInput("question_no must be at least 1")
	case it.Iteration < 1:
		return errors.InvalidInput("iteration must be at least 1")
	case strings.TrimSpace(it.Question) == "":
		return errors.InvalidInput("question is required")
	}
	return nil
}

// Filter selects iterations for List.
type Filter struct {
	// QuestionNo limits to one question. 0 means all.
	QuestionNo int

	// SessionID limits to one session.
	SessionID string

	// TerminatedOnly keeps abandoned runs.
	TerminatedOnly bool

	// Limit caps the number returned. 0 means no limit.
	Limit int
}

// Matches reports whether it passes the filter, ignoring Limit.
func (f Filter) Matches(it Iteration) bool {
	if f.QuestionNo != 0 && it.QuestionNo != f.QuestionNo {
		return false
	}
	if f.SessionID != "" && it.SessionID != f.SessionID {
		return false
	}
	if f.TerminatedOnly && !it.Terminated {
		return false
	}
	return true
}

// Sink stores iteration reports.
type Sink interface {
	// Record appends one iteration.
	Record(ctx context.Context, it Iteration) error

	// List returns the iterations matching f, ordered by question number
	// and iteration.
	List(ctx context.Context, f Filter) ([]Iteration, error)

	// Close releases the sink.
	Close() error
}

// Open returns the sink named by kind. An empty kind means SinkNone.
func Open(ctx context.Context, kind, path string) (Sink, error) {
	switch kind {
	case SinkJSON:
		j, err := NewJSONFile(path)
		if err != nil {
			return nil, err
		}
		return j, nil
	case SinkSQLite:
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case SinkNone, "":
		return NewMemory(), nil
	default:
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "unknown report sink %q", kind)
	}
}

// Summary aggregates a set of iterations.
type Summary struct {
	Iterations          int
	Accepted            int
	Terminated          int
	MeanCriticResponses float64
	MeanCorrected       float64
	MeanQuestionsAsked  float64
	MeanDuration        time.Duration
}

// Summarize aggregates its.
func Summarize(its []Iteration) Summary {
	var s Summary
	if len(its) == 0 {
		return s
	}
	var critic, corrected, asked int
	var total time.Duration
	for _, it := range its {
		s.Iterations++
		if it.Terminated {
			s.Terminated++
		} else {
			s.Accepted++
		}
		critic += it.NumCriticResponses
		corrected += it.NumCorrectedQueries
		asked += it.NumQuestionsAsked
		total += it.Duration
	}
	n := float64(len(its))
	s.MeanCriticResponses = float64(critic) / n
	s.MeanCorrected = float64(corrected) / n
	s.MeanQuestionsAsked = float64(asked) / n
	s.MeanDuration = total / time.Duration(len(its))
	return s
}

// String renders the summary on one line.
func (s Summary) String() string {
	return fmt.Sprintf("%d runs, %d accepted, %d terminated, mean critic responses %.2f, "+
		"mean corrected queries %.2f, mean questions asked %.2f, mean duration %s",
		s.Iterations, s.Accepted, s.Terminated, s.MeanCriticResponses,
		s.MeanCorrected, s.MeanQuestionsAsked, s.MeanDuration.Round(time.Millisecond))
}

func limit(its []Iteration, n int) []Iteration {
	if n > 0 && len(its) > n {
		return its[:n]
	}
	return its
}
