package bootstrap

import (
	"fmt"

	"lumi/internal/config"
	"lumi/internal/diag"
	"lumi/internal/gateway"
	"lumi/internal/stream"
	"lumi/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Gateway    *gateway.Client
	Controller *usecase.DriveController
	// Battery is nil when battery polling is disabled.
	Battery *usecase.BatteryPoller
	// Diagnostics is nil when no diagnostics listen address is configured.
	Diagnostics *diag.Server
}

// LoadConfig resolves the file and environment configuration, overlays flags and
// validates the result.
func LoadConfig(path string, flags config.Config) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err = cfg.Merge(flags)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Build wires all dependencies for the given configuration.
func Build(cfg config.Config) (Services, error) {
	httpClient := gateway.NewHTTPClient()

	gw, err := gateway.New(gateway.Config{
		BaseURL:    cfg.Backend.URL,
		Timeout:    cfg.Backend.CommandTimeout,
		HTTPClient: httpClient,
	})
	if err != nil {
		return Services{}, err
	}

	reader, err := stream.NewReader(stream.Config{
		BaseURL:    cfg.Backend.URL,
		Transport:  stream.Transport(cfg.Backend.StreamTransport),
		HTTPClient: httpClient,
	})
	if err != nil {
		return Services{}, err
	}

	controller := usecase.NewDriveController(gw, reader, usecase.Config{
		CommandTimeout: cfg.Backend.CommandTimeout,
	})

	services := Services{
		Config:     cfg,
		Gateway:    gw,
		Controller: controller,
	}
	if cfg.Battery.Enabled {
		services.Battery = usecase.NewBatteryPoller(gw, controller, cfg.Battery.Interval)
	}
	if cfg.Diagnostics.Listen != "" {
		services.Diagnostics = diag.New(diag.Config{
			Listen:            cfg.Diagnostics.Listen,
			RequestsPerMinute: cfg.Diagnostics.RequestsPerMinute,
		}, controller)
	}
	return services, nil
}
