package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lumi/internal/bootstrap"
	"lumi/internal/domain"
	lumilog "lumi/internal/log"
	"lumi/internal/ports"
	"lumi/internal/usecase"
	"lumi/internal/view"
)

const prompt = "lumi> "

var errUnknownCommand = errors.New("unknown command")

// drive is the part of the controller the console operates.
type drive interface {
	StartDrive() bool
	StopDrive() bool
	ToggleCamera() error
	SignalSpeaking() error
	AdjustVolume(direction domain.VolumeDirection) error
	SystemAction(action domain.SystemAction) error
	Snapshot() domain.Snapshot
	Subscribe(listener ports.Listener) func()
}

type lineSource interface {
	Readline() (string, error)
}

// App is the console application root. It renders view changes as lines and turns
// console input into controller actions.
type App struct {
	drive drive
	log   zerolog.Logger

	mu       sync.Mutex
	out      io.Writer
	rendered bool
	lastView view.State
}

func NewApp(d drive, out io.Writer) *App {
	return &App{
		drive: d,
		out:   out,
		log:   lumilog.WithComponent("app"),
	}
}

// Run starts the background services, reads console commands until quit, EOF or
// ctx is done, and finally releases the drive.
func (a *App) Run(ctx context.Context, services bootstrap.Services, stdin io.ReadCloser) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt: prompt,
		Stdin:  stdin,
		Stdout: a.out,
	})
	if err != nil {
		return fmt.Errorf("cannot open console: %w", err)
	}
	defer func() {
		_ = rl.Close()
	}()
	a.setOutput(rl.Stdout())

	unsubscribe := a.drive.Subscribe(a.render)
	defer unsubscribe()
	a.render(a.drive.Snapshot())

	if services.Config.Drive.Autostart {
		a.drive.StartDrive()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if services.Battery != nil {
		g.Go(func() error { return services.Battery.Run(gctx) })
	}
	if services.Diagnostics != nil {
		g.Go(func() error { return services.Diagnostics.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return a.console(gctx, rl)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks a pending Readline.
		return rl.Close()
	})

	err = g.Wait()
	a.drive.StopDrive()
	a.log.Info().Msg("Console closed.")
	return err
}

func (a *App) console(ctx context.Context, src lineSource) error {
	for {
		line, err := src.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		quit, err := a.Execute(line)
		if err != nil {
			a.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// Execute runs one console command and reports whether the console should quit.
func (a *App) Execute(line string) (quit bool, err error) {
	command := strings.ToLower(strings.TrimSpace(line))
	switch command {
	case "":
		return false, nil
	case "start":
		if !a.drive.StartDrive() {
			a.printf("A drive is already active.\n")
		}
	case "stop":
		if !a.drive.StopDrive() {
			a.printf("No active drive.\n")
		}
	case "camera":
		return false, a.drive.ToggleCamera()
	case "speak":
		return false, a.drive.SignalSpeaking()
	case "vol+":
		return false, a.drive.AdjustVolume(domain.VolumeUp)
	case "vol-":
		return false, a.drive.AdjustVolume(domain.VolumeDown)
	case "shutdown", "reboot":
		action, err := domain.ParseSystemAction(command)
		if err != nil {
			return false, err
		}
		return false, a.drive.SystemAction(action)
	case "status":
		a.printf("%s\n", statusLine(a.drive.Snapshot()))
	case "help":
		a.printf("commands: start, stop, camera, speak, vol+, vol-, shutdown, reboot, status, quit\n")
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q", errUnknownCommand, command)
	}
	return false, nil
}

// render is the controller listener. It runs under the controller lock and must
// not call back into the drive.
func (a *App) render(s domain.Snapshot) {
	state := view.FromSnapshot(s)

	a.mu.Lock()
	defer a.mu.Unlock()

	if s.Note != nil {
		_, _ = fmt.Fprintf(a.out, "! %s\n", noteMessage(*s.Note))
	}
	if a.rendered && state == a.lastView {
		return
	}
	a.rendered = true
	a.lastView = state
	_, _ = fmt.Fprintf(a.out, "%s\n", describeView(state))
}

func (a *App) setOutput(out io.Writer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.out = out
}

func (a *App) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func describeView(state view.State) string {
	switch state.ID {
	case view.Start:
		return "Ready. Type 'start' to begin a drive."
	case view.Ambient:
		return "Monitoring. Drive safely."
	case view.Listening:
		return "Listening..."
	case view.Speaking:
		if state.Text == "" {
			return "Lumi is speaking."
		}
		return "Lumi: " + state.Text
	case view.Alert:
		if state.Urgent {
			return "WARNING: severe drowsiness detected. Type 'speak' to respond."
		}
		return "Drowsiness detected. Type 'speak' to respond."
	default:
		return string(state.ID)
	}
}

func noteMessage(note domain.Note) string {
	switch note.Code {
	case domain.ErrorCodeCommand:
		return fmt.Sprintf("Command %s failed: %s", note.Command, note.Detail)
	case domain.ErrorCodeStream:
		return "Live updates interrupted: " + note.Detail
	default:
		if note.Detail == "" {
			return "Unknown error"
		}
		return note.Detail
	}
}

func statusLine(s domain.Snapshot) string {
	camera := "off"
	if s.Camera.On {
		camera = "on " + s.Camera.FeedURL
	}
	battery := "n/a"
	if s.Battery != nil {
		battery = fmt.Sprintf("%d%%", s.Battery.Level)
		if s.Battery.Charging {
			battery += " charging"
		}
	}
	return fmt.Sprintf("drive=%t status=%s view=%s camera=%s volume=%d battery=%s",
		s.Started, s.Status, view.FromSnapshot(s).ID, camera, s.Volume, battery)
}

var _ drive = (*usecase.DriveController)(nil)
