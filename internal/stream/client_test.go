package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
)

// mockFeed simulates the backend's status feed endpoint.
type mockFeed struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
	auth     []string
}

func newMockFeed(t *testing.T) *mockFeed {
	mf := &mockFeed{
		t: t,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/builder/stream", mf.handleWS)
	mf.server = httptest.NewServer(mux)
	return mf
}

func (mf *mockFeed) url() string {
	return "ws" + strings.TrimPrefix(mf.server.URL, "http") + "/api/builder/stream"
}

func (mf *mockFeed) close() {
	mf.mu.Lock()
	for _, conn := range mf.conns {
		conn.Close()
	}
	mf.mu.Unlock()
	mf.server.Close()
}

func (mf *mockFeed) handleWS(w http.ResponseWriter, r *http.Request) {
	mf.mu.Lock()
	mf.auth = append(mf.auth, r.Header.Get("Authorization"))
	mf.mu.Unlock()

	conn, err := mf.upgrader.Upgrade(w, r, nil)
	if err != nil {
		mf.t.Logf("upgrade error: %v", err)
		return
	}
	mf.mu.Lock()
	mf.conns = append(mf.conns, conn)
	mf.accepted++
	mf.mu.Unlock()

	// Keep the connection open; tests push frames through push().
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (mf *mockFeed) push(raw string) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	require.NotEmpty(mf.t, mf.conns, "no connection to push to")
	conn := mf.conns[len(mf.conns)-1]
	require.NoError(mf.t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (mf *mockFeed) connections() int {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	return mf.accepted
}

func (mf *mockFeed) dropAll() {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	for _, conn := range mf.conns {
		conn.Close()
	}
	mf.conns = nil
}

// recordingSink captures applied updates.
type recordingSink struct {
	mu      sync.Mutex
	applied []builder.BuildUpdate
}

func (r *recordingSink) ApplyServerUpdate(_ string, upd builder.BuildUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, upd)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

func (r *recordingSink) last() builder.BuildUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied[len(r.applied)-1]
}

func runClient(t *testing.T, mf *mockFeed, sink UpdateSink, token string) {
	t.Helper()
	c := NewClient(Config{
		URL:                  mf.url(),
		Token:                token,
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectInterval: 50 * time.Millisecond,
	}, sink, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
}

func TestClient_AppliesStatusFrames(t *testing.T) {
	mf := newMockFeed(t)
	defer mf.close()

	sink := &recordingSink{}
	runClient(t, mf, sink, "")

	require.Eventually(t, func() bool { return mf.connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	mf.push(`{"type":"status","update":{"id":"b-1","phase":"implementing","progress":{"completed":2,"total":5}}}`)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	upd := sink.last()
	assert.Equal(t, "b-1", upd.ID)
	require.NotNil(t, upd.Phase)
	assert.Equal(t, builder.PhaseImplementing, *upd.Phase)
	require.NotNil(t, upd.Progress)
	assert.Equal(t, 2, upd.Progress.Completed)
}

func TestClient_IgnoresBadFrames(t *testing.T) {
	mf := newMockFeed(t)
	defer mf.close()

	sink := &recordingSink{}
	runClient(t, mf, sink, "")
	require.Eventually(t, func() bool { return mf.connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	mf.push(`not json`)
	mf.push(`{"type":"ping"}`)
	mf.push(`{"type":"status","update":{"phase":"complete"}}`) // missing id
	mf.push(`{"type":"status","update":{"id":"b-2","phase":"complete"}}`)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "b-2", sink.last().ID)
}

func TestClient_Reconnects(t *testing.T) {
	mf := newMockFeed(t)
	defer mf.close()

	sink := &recordingSink{}
	runClient(t, mf, sink, "")
	require.Eventually(t, func() bool { return mf.connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	mf.dropAll()

	require.Eventually(t, func() bool { return mf.connections() >= 2 }, 2*time.Second, 10*time.Millisecond)

	mf.push(`{"type":"status","update":{"id":"b-3","phase":"verifying"}}`)
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SendsBearerToken(t *testing.T) {
	mf := newMockFeed(t)
	defer mf.close()

	sink := &recordingSink{}
	runClient(t, mf, sink, "feed-secret")
	require.Eventually(t, func() bool { return mf.connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	mf.mu.Lock()
	auth := mf.auth[0]
	mf.mu.Unlock()
	assert.Equal(t, "Bearer feed-secret", auth)
}

func TestFrameDecoding(t *testing.T) {
	var f frame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"status","update":{"id":"x"}}`), &f))
	assert.Equal(t, "status", f.Type)
	assert.NotEmpty(t, f.Update)
}
