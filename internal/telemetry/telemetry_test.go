package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Enabled:        false,
		ServiceName:    "wharfd",
		ServiceVersion: "test",
	}

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, ClientIP("192.168.1.1"))
	})
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("ClientIP", func(t *testing.T) {
		attr := ClientIP("192.168.1.100")
		assert.Equal(t, AttrClientIP, string(attr.Key))
		assert.Equal(t, "192.168.1.100", attr.Value.AsString())
	})

	t.Run("ClientAddr", func(t *testing.T) {
		attr := ClientAddr("192.168.1.100:12345")
		assert.Equal(t, AttrClientAddr, string(attr.Key))
		assert.Equal(t, "192.168.1.100:12345", attr.Value.AsString())
	})

	t.Run("FSOperation", func(t *testing.T) {
		attr := FSOperation("rename")
		assert.Equal(t, AttrOperation, string(attr.Key))
		assert.Equal(t, "rename", attr.Value.AsString())
	})

	t.Run("SFTPRequest", func(t *testing.T) {
		attr := SFTPRequest("open")
		assert.Equal(t, AttrSFTPRequest, string(attr.Key))
		assert.Equal(t, "open", attr.Value.AsString())
	})

	t.Run("SFTPRequestID", func(t *testing.T) {
		attr := SFTPRequestID(0x12345678)
		assert.Equal(t, AttrSFTPRequestID, string(attr.Key))
		assert.Equal(t, int64(0x12345678), attr.Value.AsInt64())
	})

	t.Run("FTPCommand", func(t *testing.T) {
		attr := FTPCommand("stor")
		assert.Equal(t, AttrFTPCommand, string(attr.Key))
		assert.Equal(t, "stor", attr.Value.AsString())
	})

	t.Run("FSHandle", func(t *testing.T) {
		attr := FSHandle("42")
		assert.Equal(t, AttrHandle, string(attr.Key))
		assert.Equal(t, "42", attr.Value.AsString())
	})

	t.Run("FSPath", func(t *testing.T) {
		attr := FSPath("/reports/q3.csv")
		assert.Equal(t, AttrPath, string(attr.Key))
		assert.Equal(t, "/reports/q3.csv", attr.Value.AsString())
	})

	t.Run("FSTargetPath", func(t *testing.T) {
		attr := FSTargetPath("/reports/q3-final.csv")
		assert.Equal(t, AttrTargetPath, string(attr.Key))
		assert.Equal(t, "/reports/q3-final.csv", attr.Value.AsString())
	})

	t.Run("FSOffset", func(t *testing.T) {
		attr := FSOffset(1024)
		assert.Equal(t, AttrOffset, string(attr.Key))
		assert.Equal(t, int64(1024), attr.Value.AsInt64())
	})

	t.Run("FSCount", func(t *testing.T) {
		attr := FSCount(4096)
		assert.Equal(t, AttrCount, string(attr.Key))
		assert.Equal(t, int64(4096), attr.Value.AsInt64())
	})

	t.Run("FSSize", func(t *testing.T) {
		attr := FSSize(1 << 20)
		assert.Equal(t, AttrSize, string(attr.Key))
		assert.Equal(t, int64(1<<20), attr.Value.AsInt64())
	})

	t.Run("FSStatus", func(t *testing.T) {
		attr := FSStatus(0)
		assert.Equal(t, AttrStatus, string(attr.Key))
		assert.Equal(t, int64(0), attr.Value.AsInt64())
	})

	t.Run("FSStatusMsg", func(t *testing.T) {
		attr := FSStatusMsg("permission denied")
		assert.Equal(t, AttrStatusMsg, string(attr.Key))
		assert.Equal(t, "permission denied", attr.Value.AsString())
	})

	t.Run("FSAllowed", func(t *testing.T) {
		attr := FSAllowed(false)
		assert.Equal(t, AttrAllowed, string(attr.Key))
		assert.False(t, attr.Value.AsBool())
	})

	t.Run("FSDenyReason", func(t *testing.T) {
		attr := FSDenyReason("capability")
		assert.Equal(t, AttrDenyReason, string(attr.Key))
		assert.Equal(t, "capability", attr.Value.AsString())
	})

	t.Run("ListenerID", func(t *testing.T) {
		attr := ListenerID("9c3f")
		assert.Equal(t, AttrListenerID, string(attr.Key))
		assert.Equal(t, "9c3f", attr.Value.AsString())
	})

	t.Run("ListenerName", func(t *testing.T) {
		attr := ListenerName("sftp-main")
		assert.Equal(t, AttrListenerName, string(attr.Key))
		assert.Equal(t, "sftp-main", attr.Value.AsString())
	})

	t.Run("SessionID", func(t *testing.T) {
		attr := SessionID("sess-1")
		assert.Equal(t, AttrSessionID, string(attr.Key))
		assert.Equal(t, "sess-1", attr.Value.AsString())
	})

	t.Run("Username", func(t *testing.T) {
		attr := Username("alice")
		assert.Equal(t, AttrUsername, string(attr.Key))
		assert.Equal(t, "alice", attr.Value.AsString())
	})

	t.Run("AuthMethod", func(t *testing.T) {
		attr := AuthMethod("publickey")
		assert.Equal(t, AttrAuth, string(attr.Key))
		assert.Equal(t, "publickey", attr.Value.AsString())
	})
}

func TestStartSFTPSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSFTPSpan(ctx, "open", FSPath("/inbox/report.pdf"))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartSFTPSpan(ctx, "read", FSHandle("1"), FSOffset(0), FSCount(4096))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartFTPSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartFTPSpan(ctx, "retr", FSPath("/inbox/report.pdf"))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
