package contextkey

// Key is a private-by-convention type to avoid context key collisions across packages.
type Key string

const (
	TraceID   Key = "trace_id"
	RequestID Key = "request_id"
	UserID    Key = "user_id"
	DuelID    Key = "duel_id"
)
