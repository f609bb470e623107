package sse

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterHeadersAndFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	require.NoError(t, err)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	ctx := context.Background()
	require.NoError(t, writer.Send(ctx, map[string]string{"type": "start"}))
	require.NoError(t, writer.Send(ctx, map[string]string{"type": "token", "content": "hi"}))

	body := rec.Body.String()
	require.Equal(t, "data: {\"type\":\"start\"}\n\ndata: {\"content\":\"hi\",\"type\":\"token\"}\n\n", body)
	require.True(t, rec.Flushed)
}

func TestWriterCanceledContext(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, writer.Send(ctx, map[string]string{"type": "token"}))
	require.Empty(t, rec.Body.String())
}
