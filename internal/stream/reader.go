package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"lumi/internal/domain"
	lumilog "lumi/internal/log"
	"lumi/internal/metrics"
	"lumi/internal/ports"
)

// Transport selects the wire protocol of the push channels.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

func (t Transport) Valid() bool {
	return t == TransportSSE || t == TransportWebSocket
}

// ErrStreamEnded is reported when the backend closes a push channel on its own.
var ErrStreamEnded = errors.New("push stream ended by backend")

// Config controls the push channel endpoints.
type Config struct {
	BaseURL    string
	Transport  Transport
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Reader implements ports.StreamReader.
type Reader struct {
	base      *url.URL
	transport Transport
	client    *http.Client
	dialer    *websocket.Dialer
	log       zerolog.Logger
}

func NewReader(cfg Config) (*Reader, error) {
	if cfg.Transport == "" {
		cfg.Transport = TransportSSE
	}
	if !cfg.Transport.Valid() {
		return nil, fmt.Errorf("illegal stream transport: %q", cfg.Transport)
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Reader{
		base:      base,
		transport: cfg.Transport,
		client:    cfg.HTTPClient,
		dialer:    cfg.Dialer,
		log:       lumilog.WithComponent("stream"),
	}, nil
}

// Path returns the backend resource of a stream kind.
func Path(kind domain.StreamKind) string {
	switch kind {
	case domain.StreamStatus:
		return "/drowsiness/live_status"
	case domain.StreamGeneratedText:
		return "/gemini_response"
	default:
		return ""
	}
}

// Open starts a subscription and returns immediately. The connection is made on the
// subscription's own goroutine, which also invokes onMessage, one message at a time.
func (r *Reader) Open(ctx context.Context, kind domain.StreamKind, onMessage ports.MessageHandler) ports.Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		kind:   kind,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	logger := r.log.With().Str("kind", string(kind)).Str("transport", string(r.transport)).Logger()
	metrics.StreamSubscriptionsOpen.WithLabelValues(string(kind)).Inc()

	go func() {
		defer close(sub.done)
		defer metrics.StreamSubscriptionsOpen.WithLabelValues(string(kind)).Dec()
		defer cancel()

		deliver := func(raw string) bool {
			if sub.closed.Load() {
				return false
			}
			onMessage(raw)
			return true
		}

		var err error
		switch {
		case Path(kind) == "":
			err = fmt.Errorf("unknown stream kind: %q", kind)
		case r.transport == TransportWebSocket:
			err = r.readWebSocket(ctx, kind, deliver)
		default:
			err = r.readSSE(ctx, kind, deliver)
		}

		if err != nil && ctx.Err() == nil && !sub.closed.Load() {
			sub.setErr(err)
			metrics.StreamErrorsTotal.WithLabelValues(string(kind)).Inc()
			logger.Warn().Err(err).Msg("Push stream terminated. No further updates until the drive is restarted.")
			return
		}
		logger.Debug().Msg("Push stream closed.")
	}()

	logger.Debug().Msg("Push stream opened.")
	return sub
}

func (r *Reader) endpoint(kind domain.StreamKind) string {
	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + Path(kind)
	return u.String()
}

func (r *Reader) readSSE(ctx context.Context, kind domain.StreamKind, deliver func(string) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(kind), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	rsp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s stream: %w", kind, err)
	}
	defer func() {
		_ = rsp.Body.Close()
	}()

	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d - %s", rsp.StatusCode, rsp.Status)
	}

	if err := scanEvents(rsp.Body, deliver); err != nil {
		return fmt.Errorf("failed to read %s stream: %w", kind, err)
	}
	return ErrStreamEnded
}

func (r *Reader) readWebSocket(ctx context.Context, kind domain.StreamKind, deliver func(string) bool) error {
	wsURL := websocketURL(r.endpoint(kind))
	conn, _, err := r.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s websocket: %w", kind, err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return ErrStreamEnded
			}
			return fmt.Errorf("failed to read %s websocket: %w", kind, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !deliver(string(payload)) {
			return nil
		}
	}
}

func websocketURL(httpURL string) string {
	if strings.HasPrefix(httpURL, "https://") {
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	}
	if strings.HasPrefix(httpURL, "http://") {
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}

type subscription struct {
	kind   domain.StreamKind
	cancel context.CancelFunc
	done   chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (s *subscription) Kind() domain.StreamKind {
	return s.kind
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	return nil
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *subscription) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
