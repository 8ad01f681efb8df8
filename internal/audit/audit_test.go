package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongocrypt-go/core/internal/config"
	"github.com/mongocrypt-go/core/internal/status"
)

func TestLoggerRecordsContextInitSuccessAndFailure(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLogger(10, mock)

	logger.LogContextInit(1, "explicit-encrypt", "NEED_MONGO_KEYS", nil)
	logger.LogContextInit(2, "explicit-encrypt", "", status.New(status.ClientMisuse, "bad options"))

	events := logger.GetEvents()
	require.Len(t, events, 2)
	assert.True(t, events[0].Success)
	assert.Equal(t, EventTypeInit, events[0].EventType)

	assert.False(t, events[1].Success)
	assert.Equal(t, "client-misuse", events[1].Category)
	assert.Contains(t, events[1].Error, "bad options")
}

func TestLoggerRecordsContextFinalize(t *testing.T) {
	logger := NewLogger(10, &mockWriter{})

	logger.LogContextFinalize(1, "automatic-decrypt", true, nil, 5*time.Millisecond)
	events := logger.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeFinalize, events[0].EventType)
	assert.True(t, events[0].Success)
}

func TestLoggerRecordsKMSOperationWithRedaction(t *testing.T) {
	logger := NewLoggerWithRedaction(10, &mockWriter{}, []string{"provider"})

	logger.LogKMSOperation("aws", "unwrap", false, errors.New("timed out"), time.Second)
	events := logger.GetEvents()
	require.Len(t, events, 1)

	assert.Equal(t, EventTypeKMS, events[0].EventType)
	assert.False(t, events[0].Success)
	assert.Equal(t, "timed out", events[0].Error)
	assert.Equal(t, "[REDACTED]", events[0].Metadata["provider"])
	assert.Equal(t, "unwrap", events[0].Metadata["operation"])
}

func TestLoggerTrimsToMaxEvents(t *testing.T) {
	logger := NewLogger(2, &mockWriter{})

	for i := uint32(0); i < 5; i++ {
		logger.LogContextInit(i, "explicit-encrypt", "READY", nil)
	}

	events := logger.GetEvents()
	require.Len(t, events, 2)
	assert.Equal(t, uint32(3), events[0].CtxID, "only the most recent maxEvents entries must survive")
	assert.Equal(t, uint32(4), events[1].CtxID)
}

func TestNewLoggerFromConfigUnknownSinkErrors(t *testing.T) {
	_, err := NewLoggerFromConfig(config.AuditConfig{Sink: config.SinkConfig{Type: "carrier-pigeon"}})
	require.Error(t, err)
}
