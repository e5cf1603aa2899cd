package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumi/internal/domain"
	lumilog "lumi/internal/log"
	"lumi/internal/metrics"
	"lumi/internal/ports"
)

var (
	ErrNoActiveSession    = errors.New("no active drive session")
	ErrSpeakingNotAllowed = errors.New("driver response is only accepted during an alert")
	ErrCameraBusy         = errors.New("camera toggle already in progress")
	ErrClosed             = errors.New("drive controller is closed")
)

const (
	defaultCommandTimeout = 5 * time.Second
	defaultVolume         = 50
	defaultVolumeStep     = 10
)

// Config controls command handling of the drive controller.
type Config struct {
	CommandTimeout time.Duration
	InitialVolume  int
	VolumeStep     int
}

// DriveController owns the drive session lifecycle and derives the dashboard state
// from the backend's push streams.
//
// Every transition (user action, stream message, command completion) runs to
// completion under one lock, including listener dispatch. Listeners must therefore
// not call back into the controller synchronously.
type DriveController struct {
	gateway ports.CommandGateway
	reader  ports.StreamReader
	cfg     Config
	log     zerolog.Logger

	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	current       *driveSession
	status        domain.Status
	text          string
	camera        domain.CameraState
	cameraPending bool
	volume        int
	battery       *domain.Battery
	seq           uint64
	updatedAt     time.Time
	listeners     []listenerEntry
	nextListener  uint64
}

type listenerEntry struct {
	id uint64
	fn ports.Listener
}

func NewDriveController(gateway ports.CommandGateway, reader ports.StreamReader, cfg Config) *DriveController {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.VolumeStep <= 0 {
		cfg.VolumeStep = defaultVolumeStep
	}
	if cfg.InitialVolume <= 0 || cfg.InitialVolume > 100 {
		cfg.InitialVolume = defaultVolume
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DriveController{
		gateway:   gateway,
		reader:    reader,
		cfg:       cfg,
		log:       lumilog.WithComponent("controller"),
		baseCtx:   ctx,
		cancel:    cancel,
		status:    domain.StatusInitial,
		volume:    cfg.InitialVolume,
		updatedAt: time.Now(),
	}
}

// StartDrive begins a monitoring session. It reports false, and does nothing, while
// a session is already active.
func (c *DriveController) StartDrive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if c.current != nil {
		c.log.Debug().Str("session", c.current.id).Msg("Drive already active. Start ignored.")
		return false
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	session := newDriveSession(uuid.NewString(), cancel)
	c.current = session
	c.status = domain.StatusInitial
	c.text = ""

	c.issue(domain.CommandStartMonitoring, c.gateway.StartMonitoring, func(err error) bool {
		// Without detection running no status will ever arrive: end the drive.
		if err == nil || c.current != session {
			return false
		}
		c.reap(c.stopLocked())
		return false
	})

	for _, kind := range domain.AllStreamKinds {
		kind := kind
		sub := c.reader.Open(ctx, kind, func(raw string) {
			c.handleMessage(session, kind, raw)
		})
		session.subs[kind] = sub
		session.watchers.Add(1)
		go c.watch(session, sub)
	}

	metrics.DriveSessionsTotal.Inc()
	c.log.Info().Str("session", session.id).Msg("Drive started.")
	c.emitLocked(nil)
	return true
}

// StopDrive ends the active session. Both subscriptions are closed before the state
// change becomes visible, whatever happens to the stop command. It reports whether
// a session was active.
func (c *DriveController) StopDrive() bool {
	c.mu.Lock()
	session := c.stopLocked()
	c.mu.Unlock()

	if session == nil {
		return false
	}
	session.wait()
	return true
}

func (c *DriveController) stopLocked() *driveSession {
	session := c.current
	if session == nil {
		return nil
	}

	c.current = nil
	session.close()
	c.status = domain.StatusInitial
	c.text = ""

	c.issue(domain.CommandStopMonitoring, c.gateway.StopMonitoring, nil)

	c.log.Info().Str("session", session.id).Msg("Drive stopped.")
	c.emitLocked(nil)
	return session
}

// reap joins a stopped session in the background. Must be called with the lock held.
func (c *DriveController) reap(session *driveSession) {
	if session == nil {
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		session.wait()
	}()
}

// ToggleCamera requests the opposite camera state. The local camera state only
// changes once the backend acknowledged the request.
func (c *DriveController) ToggleCamera() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cameraPending {
		return ErrCameraBusy
	}

	target := !c.camera.On
	command := domain.CommandCameraOff
	if target {
		command = domain.CommandCameraOn
	}

	c.cameraPending = true
	c.issue(command, func(ctx context.Context) error {
		return c.gateway.SetCamera(ctx, target)
	}, func(err error) bool {
		c.cameraPending = false
		if err != nil {
			return false
		}
		c.camera.On = target
		c.camera.FeedURL = ""
		if target {
			c.camera.FeedURL = c.gateway.VideoFeedURL()
		}
		return true
	})
	return nil
}

// SignalSpeaking tells the backend the driver is answering an alert. The resulting
// LISTENING/SYSTEM status arrives over the status stream.
func (c *DriveController) SignalSpeaking() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.current == nil {
		return ErrNoActiveSession
	}
	if !c.status.Respondable() {
		return fmt.Errorf("%w: status is %s", ErrSpeakingNotAllowed, c.status)
	}

	c.issue(domain.CommandUserSpeaking, c.gateway.SignalUserSpeaking, nil)
	return nil
}

// AdjustVolume steps the host volume. The local volume estimate follows only
// successful requests.
func (c *DriveController) AdjustVolume(direction domain.VolumeDirection) error {
	if !direction.Valid() {
		return fmt.Errorf("illegal volume direction: %q", direction)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	command := domain.CommandVolumeUp
	delta := c.cfg.VolumeStep
	if direction == domain.VolumeDown {
		command = domain.CommandVolumeDown
		delta = -delta
	}

	c.issue(command, func(ctx context.Context) error {
		return c.gateway.AdjustVolume(ctx, direction)
	}, func(err error) bool {
		if err != nil {
			return false
		}
		next := min(max(c.volume+delta, 0), 100)
		if next == c.volume {
			return false
		}
		c.volume = next
		return true
	})
	return nil
}

// SystemAction asks the backend host to shut down or reboot.
func (c *DriveController) SystemAction(action domain.SystemAction) error {
	if !action.Valid() {
		return fmt.Errorf("illegal system action: %q", action)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	command := domain.CommandShutdown
	if action == domain.SystemReboot {
		command = domain.CommandReboot
	}
	c.issue(command, func(ctx context.Context) error {
		return c.gateway.SystemAction(ctx, action)
	}, nil)
	return nil
}

// SetBattery records the latest battery reading.
func (c *DriveController) SetBattery(battery domain.Battery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.battery != nil && *c.battery == battery {
		return
	}
	c.battery = &battery
	c.emitLocked(nil)
}

// Snapshot returns the current state.
func (c *DriveController) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(nil)
}

// Subscribe registers a listener invoked once per state transition. The returned
// function removes it.
func (c *DriveController) Subscribe(listener ports.Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: listener})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, entry := range c.listeners {
			if entry.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Close ends any active drive, waits for outstanding commands and rejects further
// actions.
func (c *DriveController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	session := c.stopLocked()
	c.mu.Unlock()

	if session != nil {
		session.wait()
	}
	c.inflight.Wait()
	c.cancel()
}

func (c *DriveController) handleMessage(session *driveSession, kind domain.StreamKind, raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != session {
		metrics.ObserveStreamMessage(kind, "discarded")
		c.log.Debug().Str("session", session.id).Str("kind", string(kind)).Msg("Discarded message of a closed drive session.")
		return
	}

	switch kind {
	case domain.StreamStatus:
		status, ok := domain.ParseStatus(raw)
		if !ok {
			metrics.ObserveStreamMessage(kind, "unknown")
			c.log.Debug().Str("token", raw).Msg("Unrecognized status token.")
		} else {
			metrics.ObserveStreamMessage(kind, "applied")
		}
		if status == c.status {
			return
		}
		c.status = status
		metrics.StatusTransitionsTotal.WithLabelValues(string(status)).Inc()
		c.log.Debug().Str("session", session.id).Str("status", string(status)).Msg("Status changed.")

	case domain.StreamGeneratedText:
		metrics.ObserveStreamMessage(kind, "applied")
		if raw == c.text {
			return
		}
		c.text = raw

	default:
		return
	}

	c.emitLocked(nil)
}

func (c *DriveController) watch(session *driveSession, sub ports.Subscription) {
	defer session.watchers.Done()

	<-sub.Done()
	err := sub.Err()
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != session {
		return
	}
	c.emitLocked(&domain.Note{
		Code:   domain.ErrorCodeStream,
		Detail: fmt.Sprintf("%s stream lost: %v", sub.Kind(), err),
	})
}

// issue runs a command on its own goroutine. apply, when set, runs under the lock
// once the command finished and reports whether it changed state. Must be called
// with the lock held.
func (c *DriveController) issue(command domain.Command, call func(context.Context) error, apply func(err error) bool) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.CommandTimeout)
		err := call(ctx)
		cancel()

		c.mu.Lock()
		defer c.mu.Unlock()

		changed := false
		if apply != nil {
			changed = apply(err)
		}
		if err != nil {
			c.log.Debug().Err(err).Str("command", string(command)).Msg("Command failed. Reporting note.")
			c.emitLocked(&domain.Note{Code: domain.ErrorCodeCommand, Command: command, Detail: err.Error()})
			return
		}
		if changed {
			c.emitLocked(nil)
		}
	}()
}

func (c *DriveController) emitLocked(note *domain.Note) {
	c.seq++
	c.updatedAt = time.Now()
	snapshot := c.snapshotLocked(note)
	for _, entry := range c.listeners {
		entry.fn(snapshot)
	}
}

func (c *DriveController) snapshotLocked(note *domain.Note) domain.Snapshot {
	snapshot := domain.Snapshot{
		Seq:           c.seq,
		Status:        c.status,
		GeneratedText: c.text,
		Camera:        c.camera,
		Volume:        c.volume,
		Note:          note,
		UpdatedAt:     c.updatedAt,
	}
	if c.current != nil {
		snapshot.Started = true
		snapshot.SessionID = c.current.id
	}
	if c.battery != nil {
		battery := *c.battery
		snapshot.Battery = &battery
	}
	return snapshot
}
