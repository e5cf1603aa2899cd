// Package view maps controller state onto the screen the renderer should show.
package view

import "lumi/internal/domain"

// ID names one of the dashboard screens.
type ID string

const (
	Start     ID = "start"
	Ambient   ID = "ambient"
	Listening ID = "listening"
	Speaking  ID = "speaking"
	Alert     ID = "alert"
)

// All lists every screen the selector can produce.
var All = []ID{Start, Ambient, Listening, Speaking, Alert}

// State is the derived view handed to the renderer.
type State struct {
	ID ID `json:"id"`
	// Text is the generated speech shown on the speaking screen.
	Text string `json:"text,omitempty"`
	// Urgent marks an EXTREME alert.
	Urgent bool `json:"urgent,omitempty"`
	// AudioIndicator enables the live audio-activity bar.
	AudioIndicator bool `json:"audioIndicator,omitempty"`
}

// Select is total: every status, including values outside the known set, maps to
// exactly one screen.
func Select(started bool, status domain.Status, generatedText string) State {
	if !started {
		return State{ID: Start}
	}
	switch status {
	case domain.StatusListening:
		return State{ID: Listening, AudioIndicator: true}
	case domain.StatusSystem:
		return State{ID: Speaking, Text: generatedText}
	case domain.StatusNormal:
		return State{ID: Alert}
	case domain.StatusExtreme:
		return State{ID: Alert, Urgent: true}
	case domain.StatusInitial, domain.StatusAwake, domain.StatusUnknown:
		return State{ID: Ambient}
	default:
		return State{ID: Ambient}
	}
}

// FromSnapshot selects the view for a controller snapshot.
func FromSnapshot(s domain.Snapshot) State {
	return Select(s.Started, s.Status, s.GeneratedText)
}
