package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the drowsiness/interaction token broadcast by the detection backend.
type Status string

const (
	StatusInitial   Status = "INITIAL"
	StatusAwake     Status = "AWAKE"
	StatusNormal    Status = "NORMAL"
	StatusExtreme   Status = "EXTREME"
	StatusListening Status = "LISTENING"
	StatusSystem    Status = "SYSTEM"
	StatusUnknown   Status = "UNKNOWN"
)

// AllStatuses lists every status the controller can hold.
var AllStatuses = []Status{
	StatusInitial,
	StatusAwake,
	StatusNormal,
	StatusExtreme,
	StatusListening,
	StatusSystem,
	StatusUnknown,
}

// ParseStatus maps a raw stream token onto a Status. Matching is case-sensitive;
// anything else (including the backend's lowercase "unknown") yields StatusUnknown
// and ok=false.
func ParseStatus(raw string) (status Status, ok bool) {
	token := Status(strings.TrimSpace(raw))
	switch token {
	case StatusInitial, StatusAwake, StatusNormal, StatusExtreme, StatusListening, StatusSystem, StatusUnknown:
		return token, true
	default:
		return StatusUnknown, false
	}
}

// Respondable reports whether the driver may answer the backend while in this status.
func (s Status) Respondable() bool {
	return s == StatusNormal || s == StatusExtreme
}

// StreamKind identifies one of the two push channels of a drive session.
type StreamKind string

const (
	StreamStatus        StreamKind = "status"
	StreamGeneratedText StreamKind = "generated_text"
)

// AllStreamKinds lists the push channels opened per drive session.
var AllStreamKinds = []StreamKind{StreamStatus, StreamGeneratedText}

// VolumeDirection is a relative volume step.
type VolumeDirection string

const (
	VolumeUp   VolumeDirection = "up"
	VolumeDown VolumeDirection = "down"
)

func (d VolumeDirection) Valid() bool {
	return d == VolumeUp || d == VolumeDown
}

// SystemAction is a host power action.
type SystemAction string

const (
	SystemShutdown SystemAction = "shutdown"
	SystemReboot   SystemAction = "reboot"
)

func (a SystemAction) Valid() bool {
	return a == SystemShutdown || a == SystemReboot
}

// ParseSystemAction parses a user supplied action name.
func ParseSystemAction(plain string) (SystemAction, error) {
	action := SystemAction(strings.TrimSpace(strings.ToLower(plain)))
	if !action.Valid() {
		return "", fmt.Errorf("illegal system action: %q", plain)
	}
	return action, nil
}

// Command names an outbound backend command.
type Command string

const (
	CommandStartMonitoring Command = "start_monitoring"
	CommandStopMonitoring  Command = "stop_monitoring"
	CommandCameraOn        Command = "camera_on"
	CommandCameraOff       Command = "camera_off"
	CommandVolumeUp        Command = "volume_up"
	CommandVolumeDown      Command = "volume_down"
	CommandShutdown        Command = "system_shutdown"
	CommandReboot          Command = "system_reboot"
	CommandUserSpeaking    Command = "user_speaking"
	CommandBattery         Command = "battery"
)

// ErrorCode identifies transient problems surfaced to the renderer.
type ErrorCode string

const (
	ErrorCodeCommand ErrorCode = "command"
	ErrorCodeStream  ErrorCode = "stream"
)

// Note is a transient message attached to the snapshot of the transition that caused it.
type Note struct {
	Code    ErrorCode `json:"code"`
	Command Command   `json:"command,omitempty"`
	Detail  string    `json:"detail"`
}

// CameraState tracks the in-cabin camera and its feed.
type CameraState struct {
	On      bool   `json:"on"`
	FeedURL string `json:"feedUrl,omitempty"`
}

// Battery is the host battery as reported by the backend.
type Battery struct {
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
}

// Snapshot is the immutable controller state handed to listeners.
type Snapshot struct {
	Seq           uint64      `json:"seq"`
	Started       bool        `json:"started"`
	SessionID     string      `json:"sessionId,omitempty"`
	Status        Status      `json:"status"`
	GeneratedText string      `json:"generatedText,omitempty"`
	Camera        CameraState `json:"camera"`
	Volume        int         `json:"volume"`
	Battery       *Battery    `json:"battery,omitempty"`
	Note          *Note       `json:"note,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// DisplayText returns the generated text only while it may be shown.
func (s Snapshot) DisplayText() string {
	if !s.Started || s.Status != StatusSystem {
		return ""
	}
	return s.GeneratedText
}
