// Package agent provides the message dispatch shared by every role: a
// handler table keyed by message kind, a bounded fallback, and the LLM
// reasoning step that turns model output back into messages.
package agent

import (
	"github.com/Mohannadcse/DepsRAG/tools"
)

// ReplyKind says what a handler wants the task to do next.
type ReplyKind int

const (
	// ReplyContinue feeds Text back into this agent's next reasoning step.
	ReplyContinue ReplyKind = iota
	// ReplyForward routes Message to the agent named Target.
	ReplyForward
	// ReplyDone completes a sub-task, handing Message to the parent.
	ReplyDone
	// ReplyFinish completes the root task with a user-visible Status.
	ReplyFinish
	// ReplyAskUser hands the turn to the human with Text as the prompt.
	ReplyAskUser
	// ReplyIgnore absorbs a stale or duplicate message.
	ReplyIgnore
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyContinue:
		return "continue"
	case ReplyForward:
		return "forward"
	case ReplyDone:
		return "done"
	case ReplyFinish:
		return "finish"
	case ReplyAskUser:
		return "ask_user"
	case ReplyIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Status is the user-visible outcome of a finished question.
type Status string

const (
	StatusAccepted   Status = "accepted"
	StatusTerminated Status = "terminated"
	StatusReady      Status = "ready"
)

// Reply is the result of handling one message.
type Reply struct {
	Kind    ReplyKind
	Text    string
	Target  string
	Message tools.Message
	Status  Status
}

// Continue echoes text into the agent's next reasoning step.
func Continue(text string) Reply {
	return Reply{Kind: ReplyContinue, Text: text}
}

// Forward routes msg to target. A nil msg forwards the message being handled.
func Forward(target string, msg tools.Message) Reply {
	return Reply{Kind: ReplyForward, Target: target, Message: msg}
}

// Done completes a sub-task with msg as its result.
func Done(msg tools.Message) Reply {
	return Reply{Kind: ReplyDone, Message: msg}
}

// Finish completes the root task.
func Finish(status Status, text string, msg tools.Message) Reply {
	return Reply{Kind: ReplyFinish, Status: status, Text: text, Message: msg}
}

// AskUser hands the turn to the human.
func AskUser(prompt string) Reply {
	return Reply{Kind: ReplyAskUser, Text: prompt}
}

// Ignore absorbs the message without effect.
func Ignore() Reply {
	return Reply{Kind: ReplyIgnore}
}

// Source says where an envelope came from.
type Source string

const (
	SourceUser  Source = "user"
	SourceLLM   Source = "llm"
	SourceAgent Source = "agent"
	SourceTask  Source = "task"
)

// Envelope is one input to an agent turn. At most one of Message and Err
// is set; Err records a tool call the model made that failed to decode.
type Envelope struct {
	From    string
	Source  Source
	Text    string
	Message tools.Message
	Err     error
}

// Kind returns the message kind, or "" for plain text.
func (e Envelope) Kind() tools.Kind {
	if e.Message == nil {
		return ""
	}
	return e.Message.Kind()
}
