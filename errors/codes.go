package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: network timeouts, deps.dev or OSV returning 5xx.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: unknown package, malformed tool arguments, unknown recipient.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates exhaustion of a bounded budget or quota.
	// Examples: LLM rate limiting, turn limit reached.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors or broken invariants.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Collaborator temporarily unavailable
	ErrCodeNetworkErr  ErrorCode = "NETWORK_ERR" // Network connectivity issue

	// Permanent errors
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"       // Resource does not exist
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"   // Malformed or invalid input
	ErrCodeUnauthorized   ErrorCode = "UNAUTHORIZED"    // Authentication failed
	ErrCodeUnsupported    ErrorCode = "UNSUPPORTED"     // Operation not supported
	ErrCodeCanceled       ErrorCode = "CANCELED"        // Operation was canceled
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"  // Configuration rejected at startup
	ErrCodePackageMissing ErrorCode = "PACKAGE_MISSING" // deps.dev does not know the package

	// Protocol errors
	ErrCodeUnknownRecipient   ErrorCode = "UNKNOWN_RECIPIENT"    // Message addressed to an agent not in the routing table
	ErrCodeProtocolViolation  ErrorCode = "PROTOCOL_VIOLATION"   // Wrong or missing message kind for the current phase
	ErrCodeQuestionInProgress ErrorCode = "QUESTION_IN_PROGRESS" // A new question arrived while one is unresolved
	ErrCodeGraphNotReady      ErrorCode = "GRAPH_NOT_READY"      // Question asked before graph construction finished
	ErrCodeCollaborator       ErrorCode = "COLLABORATOR_FAILED"  // Graph store, HTTP API or renderer failed

	// Resource errors
	ErrCodeRateLimit ErrorCode = "RATE_LIMITED" // Rate limit exceeded
	ErrCodeTurnLimit ErrorCode = "TURN_LIMIT"   // Task exceeded its turn budget

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodeLLM      ErrorCode = "LLM_FAILED"
	ErrCodePanic    ErrorCode = "PANIC" // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr, ErrCodeCollaborator:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeUnauthorized, ErrCodeUnsupported,
		ErrCodeCanceled, ErrCodeConfigInvalid, ErrCodePackageMissing,
		ErrCodeUnknownRecipient, ErrCodeProtocolViolation, ErrCodeQuestionInProgress,
		ErrCodeGraphNotReady:
		return CategoryPermanent

	case ErrCodeRateLimit, ErrCodeTurnLimit:
		return CategoryResource

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:            "operation timed out",
	ErrCodeUnavailable:        "service temporarily unavailable",
	ErrCodeNetworkErr:         "network connectivity error",
	ErrCodeNotFound:           "resource not found",
	ErrCodeInvalidInput:       "invalid input provided",
	ErrCodeUnauthorized:       "authentication required",
	ErrCodeUnsupported:        "operation not supported",
	ErrCodeCanceled:           "operation canceled",
	ErrCodeConfigInvalid:      "invalid configuration",
	ErrCodePackageMissing:     "package not found in dependency index",
	ErrCodeUnknownRecipient:   "unknown recipient agent",
	ErrCodeProtocolViolation:  "message not valid in current phase",
	ErrCodeQuestionInProgress: "a question is already in progress",
	ErrCodeGraphNotReady:      "dependency graph not constructed",
	ErrCodeCollaborator:       "collaborator call failed",
	ErrCodeRateLimit:          "rate limit exceeded",
	ErrCodeTurnLimit:          "turn limit exceeded",
	ErrCodeInternal:           "internal error",
	ErrCodeLLM:                "language model call failed",
	ErrCodePanic:              "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
