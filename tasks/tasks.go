package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/Mohannadcse/DepsRAG/agent"
	"github.com/Mohannadcse/DepsRAG/logging"
	"github.com/Mohannadcse/DepsRAG/telemetry"
	"github.com/Mohannadcse/DepsRAG/tools"
)

// Common errors.
var (
	// ErrNilAgent indicates a task was created without an agent.
	ErrNilAgent = errors.New("task requires an agent")

	// ErrDuplicateSubtask indicates two sub-tasks share a name.
	ErrDuplicateSubtask = errors.New("duplicate sub-task name")

	// ErrNoHuman indicates an interactive task has no human to ask.
	ErrNoHuman = errors.New("interactive task has no human")
)

// DefaultMaxTurns bounds a task that does not set MaxTurns.
const DefaultMaxTurns = 200

// TaskStatus says how a run ended.
type TaskStatus string

const (
	// StatusDone indicates a sub-task completed with a result for its parent.
	StatusDone TaskStatus = "done"

	// StatusFinished indicates the root task completed a question.
	StatusFinished TaskStatus = "finished"

	// StatusAwaitingUser indicates the task stopped to wait for the user.
	StatusAwaitingUser TaskStatus = "awaiting_user"

	// StatusIdle indicates the agent had nothing left to do.
	StatusIdle TaskStatus = "idle"
)

// String returns the string representation of the status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the run completed its work.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFinished
}

// Result is the outcome of a run.
type Result struct {
	// Status is how the run ended.
	Status TaskStatus

	// Outcome is the user-visible status of a finished question.
	Outcome agent.Status

	// Text is the final text, or the prompt when awaiting the user.
	Text string

	// Message is the structured result handed to the parent, if any.
	Message tools.Message

	// Turns is the number of turns this task took, sub-tasks excluded.
	Turns int

	// Duration is the wall time of the run.
	Duration time.Duration
}

// Human answers prompts when a task hands the turn to the user.
type Human interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// HumanFunc adapts a function to the Human interface.
type HumanFunc func(ctx context.Context, prompt string) (string, error)

// Ask calls f.
func (f HumanFunc) Ask(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config is the policy for running one agent.
type Config struct {
	// Name overrides the routing name. Defaults to the agent name.
	Name string

	// SingleRound returns after the first reasoning step without
	// dispatching the model's output.
	SingleRound bool

	// Interactive lets AskUser replies reach Human. Otherwise the run
	// stops with StatusAwaitingUser.
	Interactive bool

	// Human answers AskUser prompts in interactive mode.
	Human Human

	// MaxTurns bounds the run. Zero means DefaultMaxTurns.
	MaxTurns int

	// SessionID tags transcript entries.
	SessionID string

	// Transcript receives one entry per turn. Optional.
	Transcript telemetry.Exporter

	// Logger for turn events. Defaults to a no-op logger.
	Logger *logging.Logger
}
