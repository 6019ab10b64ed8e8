package store

// SessionStatus tracks the lifecycle of a persisted terminal or chat
// record across process restarts.
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusInactive SessionStatus = "inactive"
	StatusExited   SessionStatus = "exited"
)

// ParseSessionStatus maps a stored label back to a SessionStatus,
// defaulting unrecognized labels to Inactive rather than failing, so a
// corrupted or hand-edited row degrades safely instead of refusing to
// load.
func ParseSessionStatus(label string) SessionStatus {
	switch SessionStatus(label) {
	case StatusActive, StatusInactive, StatusExited:
		return SessionStatus(label)
	default:
		return StatusInactive
	}
}

// TerminalRecord is the persisted view of one terminal session.
type TerminalRecord struct {
	SessionID string        `json:"session_id"`
	Shell     string        `json:"shell"`
	Cols      uint16        `json:"cols"`
	Rows      uint16        `json:"rows"`
	StartedAt int64         `json:"started_at"`
	Status    SessionStatus `json:"status"`
	ExitCode  *uint32       `json:"exit_code,omitempty"`
}

// ChatRecord is the persisted view of one chat thread driven by the
// agent façade.
type ChatRecord struct {
	ChatID       string        `json:"chat_id"`
	ThreadID     string        `json:"thread_id"`
	CreatedAt    int64         `json:"created_at"`
	Status       SessionStatus `json:"status"`
	EventPointer uint64        `json:"event_pointer"`
}

// JobStatus tracks the lifecycle of a background job record.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobRecord is the persisted view of one background job.
type JobRecord struct {
	JobID     string    `json:"job_id"`
	Name      string    `json:"name"`
	Status    JobStatus `json:"status"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
	Spec      string    `json:"spec"`
	Logs      []string  `json:"logs"`
}

// PairingRecord is the persisted view of one device pairing code.
type PairingRecord struct {
	PairingID string `json:"pairing_id"`
	Code      string `json:"code"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	ClaimedBy string `json:"claimed_by,omitempty"`
	ClaimedAt int64  `json:"claimed_at,omitempty"`
}

// NotificationRecord is the persisted view of one inbox entry.
type NotificationRecord struct {
	NotificationID string `json:"notification_id"`
	Topic          string `json:"topic"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	CreatedAt      int64  `json:"created_at"`
	ReadAt         int64  `json:"read_at,omitempty"`
}
