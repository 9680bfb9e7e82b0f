package wsproxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/upload-engine/chunkup/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventFromProgress(t *testing.T) {
	p := model.Progress{
		FileID:                 "f1",
		BytesUploaded:          512,
		TotalBytes:             1024,
		Speed:                  256.5,
		EstimatedTimeRemaining: 2 * time.Second,
	}

	ev := EventFromProgress(p, "uploading")

	require.Equal(t, "f1", ev.FileID)
	require.Equal(t, int64(512), ev.BytesUploaded)
	require.Equal(t, int64(1024), ev.TotalBytes)
	require.Equal(t, 256.5, ev.Speed)
	require.Equal(t, 2.0, ev.EstimatedTimeRemaining)
	require.Equal(t, "uploading", ev.Status)
}

func TestHubBroadcastsToConnectedClients(t *testing.T) {
	hub := NewHub(discardLogger())

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()

		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	want := EventFromProgress(model.Progress{FileID: "f2", BytesUploaded: 10, TotalBytes: 20}, "uploading")
	hub.Broadcast(want)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, want, got)

	hub.Close()
}
