package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumi/internal/domain"
)

type scriptedProbe struct {
	mu      sync.Mutex
	results []probeResult
	calls   int
}

type probeResult struct {
	battery domain.Battery
	err     error
}

func (p *scriptedProbe) Battery(context.Context) (domain.Battery, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return domain.Battery{}, errors.New("no reading")
	}
	next := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return next.battery, next.err
}

type batteryLog struct {
	mu       sync.Mutex
	readings []domain.Battery
}

func (l *batteryLog) SetBattery(battery domain.Battery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readings = append(l.readings, battery)
}

func (l *batteryLog) all() []domain.Battery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Battery(nil), l.readings...)
}

func TestBatteryPollerSkipsFailedReadings(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{results: []probeResult{
		{battery: domain.Battery{Level: 81}},
		{err: errors.New("timeout")},
		{battery: domain.Battery{Level: 80, Charging: true}},
	}}
	sink := &batteryLog{}
	poller := NewBatteryPoller(probe, sink, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.all()) >= 2 }, waitFor, tick)
	cancel()
	require.NoError(t, <-done)

	readings := sink.all()
	assert.Equal(t, domain.Battery{Level: 81}, readings[0])
	assert.Equal(t, domain.Battery{Level: 80, Charging: true}, readings[1])
}

func TestBatteryPollerFeedsController(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, newFakeGateway(), &fakeReader{})
	probe := &scriptedProbe{results: []probeResult{{battery: domain.Battery{Level: 42}}}}
	poller := NewBatteryPoller(probe, c, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Snapshot().Battery != nil }, waitFor, tick)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 42, c.Snapshot().Battery.Level)
}

func TestNewBatteryPollerDefaultsInterval(t *testing.T) {
	t.Parallel()

	poller := NewBatteryPoller(&scriptedProbe{}, &batteryLog{}, 0)
	assert.Equal(t, defaultBatteryInterval, poller.interval)
}
