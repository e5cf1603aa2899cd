package view

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lumi/internal/domain"
)

func TestSelectIsTotal(t *testing.T) {
	t.Parallel()

	known := make(map[ID]bool, len(All))
	for _, id := range All {
		known[id] = true
	}

	statuses := append([]domain.Status{"", "sleepy", "awake"}, domain.AllStatuses...)
	for _, started := range []bool{false, true} {
		for _, status := range statuses {
			got := Select(started, status, "text")
			assert.True(t, known[got.ID], "started=%v status=%q resolved to %q", started, status, got.ID)
		}
	}
}

func TestSelectMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status domain.Status
		want   State
	}{
		{domain.StatusInitial, State{ID: Ambient}},
		{domain.StatusAwake, State{ID: Ambient}},
		{domain.StatusUnknown, State{ID: Ambient}},
		{domain.StatusNormal, State{ID: Alert}},
		{domain.StatusExtreme, State{ID: Alert, Urgent: true}},
		{domain.StatusListening, State{ID: Listening, AudioIndicator: true}},
		{domain.StatusSystem, State{ID: Speaking, Text: "Take a break soon."}},
		{domain.Status("EXPERIMENTAL_NAP"), State{ID: Ambient}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Select(true, tc.status, "Take a break soon."))
		})
	}
}

func TestSelectNotStartedIgnoresStatus(t *testing.T) {
	t.Parallel()

	for _, status := range domain.AllStatuses {
		assert.Equal(t, State{ID: Start}, Select(false, status, "stale"))
	}
}

func TestSelectTokenScenario(t *testing.T) {
	t.Parallel()

	var got []ID
	for _, token := range []string{"INITIAL", "NORMAL", "LISTENING", "AWAKE"} {
		status, ok := domain.ParseStatus(token)
		assert.True(t, ok)
		got = append(got, Select(true, status, "").ID)
	}
	assert.Equal(t, []ID{Ambient, Alert, Listening, Ambient}, got)
}

func TestFromSnapshot(t *testing.T) {
	t.Parallel()

	s := domain.Snapshot{Started: true, Status: domain.StatusSystem, GeneratedText: "Hello"}
	assert.Equal(t, State{ID: Speaking, Text: "Hello"}, FromSnapshot(s))
}
