package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity errors
// 12000-12999: Task catalog errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Duel errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Messaging & storage errors (10400-10499)
	MessagePublishFailed ErrorCode = 10400
	MessageDecodeFailed  ErrorCode = 10401
	ObjectStorageError   ErrorCode = 10402

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Identity Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Task Catalog Errors (12000-12999) ==========

	TaskNotFound     ErrorCode = 12000
	TaskInvalid      ErrorCode = 12001
	TaskBundleBroken ErrorCode = 12002

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound   ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003

	// Judge (13100-13199)
	JudgeQueueFull      ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	RuntimeError        ErrorCode = 13103
	TimeLimitExceeded   ErrorCode = 13104
	MemoryLimitExceeded ErrorCode = 13105
	OutputLimitExceeded ErrorCode = 13106
	JudgeCancelled      ErrorCode = 13107

	// ========== Duel Errors (14000-14999) ==========

	// Lookup (14000-14099)
	DuelNotFound      ErrorCode = 14000
	InviteNotFound    ErrorCode = 14001
	DuelAlreadyExists ErrorCode = 14002
	DuelCreateFailed  ErrorCode = 14003

	// Protocol (14100-14199)
	DuelFull          ErrorCode = 14100
	InvalidTransition ErrorCode = 14101
	NotParticipant    ErrorCode = 14102
	AlreadySubmitted  ErrorCode = 14103
	DuelClosed        ErrorCode = 14104
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Messaging & storage
	MessagePublishFailed: "Failed to publish message",
	MessageDecodeFailed:  "Failed to decode message",
	ObjectStorageError:   "Object storage operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Identity
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Task catalog
	TaskNotFound:     "Task not found",
	TaskInvalid:      "Task definition is invalid",
	TaskBundleBroken: "Task bundle cannot be decoded",

	// Submission
	SubmissionNotFound:   "Submission not found",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",

	// Judge
	JudgeQueueFull:      "System busy, please try again later",
	JudgeSystemError:    "Judge system error",
	CompilationError:    "Compilation error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	MemoryLimitExceeded: "Memory limit exceeded",
	OutputLimitExceeded: "Output limit exceeded",
	JudgeCancelled:      "Judging cancelled",

	// Duel lookup
	DuelNotFound:      "Duel not found",
	InviteNotFound:    "Invite code not found",
	DuelAlreadyExists: "Duel already exists",
	DuelCreateFailed:  "Failed to create duel",

	// Duel protocol
	DuelFull:          "Duel is full",
	InvalidTransition: "Action not allowed in the current duel state",
	NotParticipant:    "User is not a participant of this duel",
	AlreadySubmitted:  "A submission for this duel is already recorded",
	DuelClosed:        "Duel is closed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsProtocol reports whether the code describes a rejected client event.
// Protocol errors go back to the originating client only and never mutate duel state.
func (c ErrorCode) IsProtocol() bool {
	switch {
	case c >= 14000 && c < 14200:
		return c != DuelCreateFailed
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == NotParticipant:
		return 403
	case c == NotFound, c == TaskNotFound, c == SubmissionNotFound, c == DuelNotFound, c == InviteNotFound:
		return 404
	case c == DuelFull, c == InvalidTransition, c == AlreadySubmitted, c == DuelClosed, c == DuelAlreadyExists:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == JudgeQueueFull:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge:
		return 400
	default:
		return 500
	}
}
