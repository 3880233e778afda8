package audit

import (
	"encoding/json"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	ClientID  string    `json:"client_id,omitempty"`
	User      string    `json:"user,omitempty"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes one JSON audit event per line. A nil *Logger drops events.
type Logger struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an audit logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{
		logger: zerolog.New(w).With().Str("log", "audit").Logger(),
		now:    time.Now,
	}
}

// Record logs the outcome of a security relevant action.
func (l *Logger) Record(action, clientID, user, details string, err error) {
	if l == nil {
		return
	}

	event := Event{
		Timestamp: l.now().UTC(),
		Action:    action,
		ClientID:  clientID,
		User:      user,
		Details:   details,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}

	entry, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		l.logger.Error().
			Str("action", action).
			Str("client_id", clientID).
			Str("user", user).
			Bool("success", event.Success).
			AnErr("audit_error", err).
			Err(marshalErr).
			Msg("Audit Log (fallback)")
		return
	}

	l.logger.Log().RawJSON("audit_event", entry).Msg("")
}
