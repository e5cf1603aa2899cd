package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lumi/internal/domain"
	lumilog "lumi/internal/log"
	"lumi/internal/metrics"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	videoPath      = "/video"
)

// Config controls how the gateway reaches the backend.
type Config struct {
	BaseURL string
	// Timeout bounds each request whose context carries no deadline.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements ports.CommandGateway and ports.BatteryProbe over HTTP.
type Client struct {
	base    *url.URL
	timeout time.Duration
	client  *http.Client
	log     zerolog.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := ParseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	return &Client{
		base:    base,
		timeout: cfg.Timeout,
		client:  client,
		log:     lumilog.WithComponent("gateway"),
	}, nil
}

// NewHTTPClient returns a client whose transport is traced with otelhttp. It has no
// overall timeout so it can also carry long-lived push streams.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// ParseBaseURL validates a backend base URL and strips any trailing slash.
func ParseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: missing host", raw)
	}
	return u, nil
}

func (c *Client) StartMonitoring(ctx context.Context) error {
	return c.command(ctx, domain.CommandStartMonitoring, http.MethodPost, "/drowsiness/start")
}

func (c *Client) StopMonitoring(ctx context.Context) error {
	return c.command(ctx, domain.CommandStopMonitoring, http.MethodPost, "/drowsiness/stop")
}

func (c *Client) SetCamera(ctx context.Context, on bool) error {
	if on {
		return c.command(ctx, domain.CommandCameraOn, http.MethodGet, "/camera/start")
	}
	return c.command(ctx, domain.CommandCameraOff, http.MethodGet, "/camera/stop")
}

func (c *Client) AdjustVolume(ctx context.Context, direction domain.VolumeDirection) error {
	switch direction {
	case domain.VolumeUp:
		return c.command(ctx, domain.CommandVolumeUp, http.MethodPost, "/volume/up")
	case domain.VolumeDown:
		return c.command(ctx, domain.CommandVolumeDown, http.MethodPost, "/volume/down")
	default:
		return fmt.Errorf("illegal volume direction: %q", direction)
	}
}

func (c *Client) SystemAction(ctx context.Context, action domain.SystemAction) error {
	switch action {
	case domain.SystemShutdown:
		return c.command(ctx, domain.CommandShutdown, http.MethodPost, "/system/shutdown")
	case domain.SystemReboot:
		return c.command(ctx, domain.CommandReboot, http.MethodPost, "/system/reboot")
	default:
		return fmt.Errorf("illegal system action: %q", action)
	}
}

func (c *Client) SignalUserSpeaking(ctx context.Context) error {
	return c.command(ctx, domain.CommandUserSpeaking, http.MethodPost, "/user/speaking")
}

// Battery queries the best-effort battery endpoint.
func (c *Client) Battery(ctx context.Context) (domain.Battery, error) {
	var battery domain.Battery
	err := c.do(ctx, domain.CommandBattery, http.MethodGet, "/system/battery", func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(&battery); err != nil {
			return fmt.Errorf("failed to decode battery response: %w", err)
		}
		if battery.Level < 0 || battery.Level > 100 {
			return fmt.Errorf("battery level out of range: %d", battery.Level)
		}
		return nil
	})
	if err != nil {
		return domain.Battery{}, err
	}
	return battery, nil
}

// VideoFeedURL is the fixed camera feed resource.
func (c *Client) VideoFeedURL() string {
	return c.URL(videoPath)
}

// URL resolves a backend path against the base URL.
func (c *Client) URL(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) command(ctx context.Context, command domain.Command, method, path string) error {
	return c.do(ctx, command, method, path, nil)
}

func (c *Client) do(ctx context.Context, command domain.Command, method, path string, decode func(io.Reader) error) (err error) {
	defer func() {
		metrics.ObserveCommand(command, err)
		if err != nil {
			c.log.Warn().Err(err).Str("command", string(command)).Msg("Backend command failed.")
		}
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), nil)
	if err != nil {
		return &CommandError{Command: command, Err: err}
	}

	rsp, err := c.client.Do(req)
	if err != nil {
		return &CommandError{Command: command, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(rsp.Body, 64<<10))
		_ = rsp.Body.Close()
	}()

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		return &CommandError{
			Command:    command,
			StatusCode: rsp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d - %s", rsp.StatusCode, rsp.Status),
		}
	}

	if decode != nil {
		if err := decode(rsp.Body); err != nil {
			return &CommandError{Command: command, StatusCode: rsp.StatusCode, Err: err}
		}
	}

	c.log.Debug().Str("command", string(command)).Int("status", rsp.StatusCode).Msg("Backend command acknowledged.")
	return nil
}

// CommandError reports a failed backend command.
type CommandError struct {
	Command    domain.Command
	StatusCode int
	Err        error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsCommandError reports whether err carries a CommandError.
func IsCommandError(err error) bool {
	var target *CommandError
	return errors.As(err, &target)
}
