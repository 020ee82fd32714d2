// Package logging provides real-time console output for coordination
// sessions. Iteration reports are the durable record; this package is for
// watching agents hand turns to each other while a question runs.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

// WithComponent returns a new logger with the given component name.
// The returned logger shares the parent's output.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger tagged with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := map[string]interface{}{}
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["trace"] = l.traceID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Protocol events ---

// TurnStart logs the start of an agent turn.
func (l *Logger) TurnStart(agent string, turn int, phase string) {
	l.Debug("turn_start", map[string]interface{}{
		"agent": agent,
		"turn":  turn,
		"phase": phase,
	})
}

// Handoff logs a message routed from one agent to another.
func (l *Logger) Handoff(from, to, kind string) {
	l.Info("handoff", map[string]interface{}{
		"from": from,
		"to":   to,
		"kind": kind,
	})
}

// Dispatch logs a handler invocation and what it decided.
func (l *Logger) Dispatch(agent, kind, reply string) {
	l.Debug("dispatch", map[string]interface{}{
		"agent": agent,
		"kind":  kind,
		"reply": reply,
	})
}

// StaleMessage logs a message absorbed because its phase is not active.
func (l *Logger) StaleMessage(agent, kind, phase string) {
	l.Debug("stale_message", map[string]interface{}{
		"agent": agent,
		"kind":  kind,
		"phase": phase,
	})
}

// FallbackReminder logs a corrective reminder issued to the language model.
func (l *Logger) FallbackReminder(agent, phase string, count, limit int) {
	l.Warn("fallback_reminder", map[string]interface{}{
		"agent": agent,
		"phase": phase,
		"count": count,
		"limit": limit,
	})
}

// Escalation logs an agent giving up after exhausting its reminders.
func (l *Logger) Escalation(agent, reason string) {
	l.Warn("escalation", map[string]interface{}{
		"agent":  agent,
		"reason": reason,
	})
}

// CriticVerdict logs the outcome of a critic feedback round.
func (l *Logger) CriticVerdict(accepted bool, round, max int) {
	l.Info("critic_verdict", map[string]interface{}{
		"accepted": accepted,
		"round":    round,
		"max":      max,
	})
}

// GraphConstruct logs the outcome of a graph construction request.
func (l *Logger) GraphConstruct(pkg, status string, nodes, edges int, duration time.Duration) {
	l.Info("graph_construct", map[string]interface{}{
		"package":  pkg,
		"status":   status,
		"nodes":    nodes,
		"edges":    edges,
		"duration": duration.String(),
	})
}

// QueryResult logs the outcome of a graph query issued by an agent.
func (l *Logger) QueryResult(agent string, success bool, rows, corrections int) {
	l.Info("query_result", map[string]interface{}{
		"agent":       agent,
		"success":     success,
		"rows":        rows,
		"corrections": corrections,
	})
}

// CollaboratorCall logs a blocking call to an external collaborator.
func (l *Logger) CollaboratorCall(name string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"collaborator": name,
		"duration":     duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("collaborator_error", fields)
		return
	}
	l.Debug("collaborator_call", fields)
}

// QuestionComplete logs the final status of a top-level question.
func (l *Logger) QuestionComplete(status string, rounds, questions int, duration time.Duration) {
	l.Info("question_complete", map[string]interface{}{
		"status":    status,
		"rounds":    rounds,
		"questions": questions,
		"duration":  duration.String(),
	})
}
