package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"lumi/internal/bootstrap"
	"lumi/internal/config"
	"lumi/internal/domain"
	lumilog "lumi/internal/log"
)

func main() {
	var (
		configPath string
		flags      config.Config
	)

	cmd := kingpin.New("lumi", "In-vehicle drive-safety dashboard client.")
	cmd.Flag("config", "Configuration file (default $HOME/.config/lumi/config.yaml).").
		Short('c').
		StringVar(&configPath)
	cmd.Flag("backend.url", "Base URL of the detection backend.").
		StringVar(&flags.Backend.URL)
	cmd.Flag("backend.transport", "Push stream transport.").
		EnumVar(&flags.Backend.StreamTransport, "sse", "websocket")
	cmd.Flag("backend.timeout", "Timeout of a single backend command.").
		DurationVar(&flags.Backend.CommandTimeout)
	cmd.Flag("diagnostics.listen", "Address of the diagnostics server; empty disables it.").
		StringVar(&flags.Diagnostics.Listen)
	cmd.Flag("log.level", "Log level.").
		StringVar(&flags.Log.Level)
	cmd.Flag("log.format", "Log format.").
		EnumVar(&flags.Log.Format, "json", "console")
	cmd.Flag("autostart", "Start a drive right away.").
		BoolVar(&flags.Drive.Autostart)

	runCmd := cmd.Command("run", "Run the interactive dashboard console.").Default()
	batteryCmd := cmd.Command("battery", "Print the backend host battery as JSON.")
	systemCmd := cmd.Command("system", "Shut down or reboot the backend host.")
	systemAction := systemCmd.Arg("action", "shutdown or reboot").Required().Enum("shutdown", "reboot")

	selected := kingpin.MustParse(cmd.Parse(os.Args[1:]))

	cfg, err := bootstrap.LoadConfig(configPath, flags)
	cmd.FatalIfError(err, "configuration")

	lumilog.Configure(lumilog.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger := lumilog.WithComponent("main")

	services, err := bootstrap.Build(cfg)
	cmd.FatalIfError(err, "startup")
	defer services.Controller.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch selected {
	case runCmd.FullCommand():
		logger.Info().Str("backend", cfg.Backend.URL).Str("transport", cfg.Backend.StreamTransport).Msg("Starting dashboard.")
		err = NewApp(services.Controller, os.Stdout).Run(ctx, services, os.Stdin)
	case batteryCmd.FullCommand():
		err = printBattery(ctx, services)
	case systemCmd.FullCommand():
		err = runSystemAction(ctx, services, *systemAction)
	}
	if err != nil {
		logger.Error().Err(err).Str("command", selected).Msg("Command failed.")
		services.Controller.Close()
		os.Exit(1)
	}
}

func printBattery(ctx context.Context, services bootstrap.Services) error {
	ctx, cancel := context.WithTimeout(ctx, services.Config.Backend.CommandTimeout)
	defer cancel()

	battery, err := services.Gateway.Battery(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(battery)
}

func runSystemAction(ctx context.Context, services bootstrap.Services, plain string) error {
	action, err := domain.ParseSystemAction(plain)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, services.Config.Backend.CommandTimeout)
	defer cancel()

	if err := services.Gateway.SystemAction(ctx, action); err != nil {
		return err
	}
	fmt.Printf("Backend host %s requested.\n", action)
	return nil
}
