package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lumi/internal/domain"
	lumilog "lumi/internal/log"
	"lumi/internal/ports"
)

const defaultBatteryInterval = time.Minute

type batterySink interface {
	SetBattery(battery domain.Battery)
}

// BatteryPoller periodically reads the host battery. Failures keep the last reading.
type BatteryPoller struct {
	probe    ports.BatteryProbe
	sink     batterySink
	interval time.Duration
	log      zerolog.Logger
}

func NewBatteryPoller(probe ports.BatteryProbe, sink batterySink, interval time.Duration) *BatteryPoller {
	if interval <= 0 {
		interval = defaultBatteryInterval
	}
	return &BatteryPoller{
		probe:    probe,
		sink:     sink,
		interval: interval,
		log:      lumilog.WithComponent("battery"),
	}
}

// Run polls until ctx is done. The first reading is taken immediately.
func (p *BatteryPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			p.log.Debug().Msg("Battery polling stopped.")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *BatteryPoller) poll(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	battery, err := p.probe.Battery(reqCtx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Debug().Err(err).Msg("Battery reading unavailable.")
		}
		return
	}
	p.sink.SetBattery(battery)
}
