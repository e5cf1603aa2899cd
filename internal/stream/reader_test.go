package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lumi/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// sseBackend serves fixed events on each stream path, then either holds the
// connection open until the client leaves or ends the response.
type sseBackend struct {
	events map[string][]string
	hold   bool
	status int
}

func (b *sseBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.status != 0 {
		w.WriteHeader(b.status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	for _, event := range b.events[r.URL.Path] {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", event)
		flusher.Flush()
	}
	if !b.hold {
		return
	}
	<-r.Context().Done()
}

func newReader(t *testing.T, srv *httptest.Server, transport Transport) *Reader {
	t.Helper()
	r, err := NewReader(Config{BaseURL: srv.URL, Transport: transport, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return r
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("subscription goroutine did not finish")
	}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for message")
		return ""
	}
}

func TestReaderDeliversSSEMessagesInOrder(t *testing.T) {
	backend := &sseBackend{
		events: map[string][]string{
			"/drowsiness/live_status": {"INITIAL", "NORMAL", "LISTENING", "AWAKE"},
		},
		hold: true,
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	got := make(chan string, 8)
	sub := newReader(t, srv, TransportSSE).Open(context.Background(), domain.StreamStatus, func(raw string) {
		got <- raw
	})
	assert.Equal(t, domain.StreamStatus, sub.Kind())

	var order []string
	for i := 0; i < 4; i++ {
		order = append(order, receive(t, got))
	}
	assert.Equal(t, []string{"INITIAL", "NORMAL", "LISTENING", "AWAKE"}, order)

	require.NoError(t, sub.Close())
	waitDone(t, sub.Done())
	assert.NoError(t, sub.Err())
}

func TestReaderCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	backend := &sseBackend{
		events:  map[string][]string{"/gemini_response": {"Are you feeling tired?"}},
		hold: true,
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	var mu sync.Mutex
	var delivered []string
	first := make(chan struct{}, 1)
	sub := newReader(t, srv, TransportSSE).Open(context.Background(), domain.StreamGeneratedText, func(raw string) {
		mu.Lock()
		delivered = append(delivered, raw)
		mu.Unlock()
		select {
		case first <- struct{}{}:
		default:
		}
	})

	<-first
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	waitDone(t, sub.Done())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Are you feeling tired?"}, delivered)
	assert.NoError(t, sub.Err())
}

func TestReaderReportsStreamEndedByBackend(t *testing.T) {
	backend := &sseBackend{events: map[string][]string{"/drowsiness/live_status": {"AWAKE"}}}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	got := make(chan string, 1)
	sub := newReader(t, srv, TransportSSE).Open(context.Background(), domain.StreamStatus, func(raw string) {
		got <- raw
	})
	assert.Equal(t, "AWAKE", receive(t, got))

	waitDone(t, sub.Done())
	assert.ErrorIs(t, sub.Err(), ErrStreamEnded)
	require.NoError(t, sub.Close())
}

func TestReaderReportsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(&sseBackend{status: http.StatusServiceUnavailable})
	defer srv.Close()

	sub := newReader(t, srv, TransportSSE).Open(context.Background(), domain.StreamStatus, func(string) {
		t.Errorf("no message expected")
	})
	waitDone(t, sub.Done())
	require.Error(t, sub.Err())
	assert.Contains(t, sub.Err().Error(), "503")
}

func TestReaderParentContextCancelClosesSubscription(t *testing.T) {
	backend := &sseBackend{hold: true}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := newReader(t, srv, TransportSSE).Open(ctx, domain.StreamStatus, func(string) {})
	cancel()

	waitDone(t, sub.Done())
	assert.NoError(t, sub.Err())
}

func TestReaderWebSocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/drowsiness/live_status" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
		for _, token := range []string{"NORMAL", "SYSTEM"} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(token))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	got := make(chan string, 4)
	sub := newReader(t, srv, TransportWebSocket).Open(context.Background(), domain.StreamStatus, func(raw string) {
		got <- raw
	})
	assert.Equal(t, "NORMAL", receive(t, got))
	assert.Equal(t, "SYSTEM", receive(t, got))

	require.NoError(t, sub.Close())
	waitDone(t, sub.Done())
	assert.NoError(t, sub.Err())
}

func TestNewReaderValidation(t *testing.T) {
	_, err := NewReader(Config{BaseURL: "http://localhost:8000", Transport: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = NewReader(Config{BaseURL: "ftp://localhost"})
	assert.Error(t, err)

	r, err := NewReader(Config{BaseURL: "http://localhost:8000/"})
	require.NoError(t, err)
	assert.Equal(t, TransportSSE, r.transport)
	assert.Equal(t, "http://localhost:8000/gemini_response", r.endpoint(domain.StreamGeneratedText))
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://car.local:8000/x", websocketURL("http://car.local:8000/x"))
	assert.Equal(t, "wss://car.local/x", websocketURL("https://car.local/x"))
}
