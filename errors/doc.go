// Package errors provides the structured error taxonomy used across DepsRAG.
//
// # Error Categories
//
//   - Transient: collaborator hiccups where a retry may succeed
//   - Permanent: bad input, unknown packages, protocol misuse
//   - Resource: exhausted budgets and rate limits
//   - Internal: broken invariants and recovered panics
//
// # Protocol Codes
//
// Routing and turn-taking failures have dedicated codes so callers can tell
// a misconfigured task tree (UNKNOWN_RECIPIENT) from a runaway conversation
// (TURN_LIMIT) or an out-of-order user request (QUESTION_IN_PROGRESS).
//
// # Usage
//
//	err := errors.New(errors.ErrCodeUnknownRecipient, "no task named Planner",
//	    errors.WithAgent("Assistant"))
//
//	if errors.Is(err, errors.ErrCodeUnknownRecipient) {
//	    // configuration bug, not retryable
//	}
//
// Errors marshal to JSON so they can be written into iteration reports.
package errors
