package ports

import (
	"context"

	"lumi/internal/domain"
)

// CommandGateway issues single, unretried requests to the detection backend.
type CommandGateway interface {
	StartMonitoring(ctx context.Context) error
	StopMonitoring(ctx context.Context) error
	SetCamera(ctx context.Context, on bool) error
	AdjustVolume(ctx context.Context, direction domain.VolumeDirection) error
	SystemAction(ctx context.Context, action domain.SystemAction) error
	SignalUserSpeaking(ctx context.Context) error
	VideoFeedURL() string
}

// BatteryProbe reads the host battery.
type BatteryProbe interface {
	Battery(ctx context.Context) (domain.Battery, error)
}

// MessageHandler receives one raw push message.
type MessageHandler func(raw string)

// Subscription is the ownership handle over one live push connection.
type Subscription interface {
	Kind() domain.StreamKind
	// Close releases the connection. It is idempotent and never blocks on the
	// delivery goroutine; use Done to join it.
	Close() error
	Done() <-chan struct{}
	Err() error
}

// StreamReader opens push subscriptions.
type StreamReader interface {
	Open(ctx context.Context, kind domain.StreamKind, onMessage MessageHandler) Subscription
}

// Listener is invoked once per controller state transition.
type Listener func(snapshot domain.Snapshot)
