package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.now = func() time.Time { return time.Date(2025, 1, 3, 3, 8, 6, 0, time.UTC) }

	l.Record("token.password", "client", "john", "scope=read", errors.New("invalid_grant: Bad credentials"))

	var line struct {
		Event Event `json:"audit_event"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "token.password", line.Event.Action)
	assert.Equal(t, "client", line.Event.ClientID)
	assert.False(t, line.Event.Success)
	assert.Equal(t, "invalid_grant: Bad credentials", line.Event.Error)
	assert.True(t, line.Event.Timestamp.Equal(time.Date(2025, 1, 3, 3, 8, 6, 0, time.UTC)))
}

func TestNilLoggerDropsEvents(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Record("token.password", "client", "john", "", nil) })
}
