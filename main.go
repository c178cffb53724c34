package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/Saintenr/dis4ster-shr3k/bluetooth"
	"github.com/Saintenr/dis4ster-shr3k/config"
	"github.com/Saintenr/dis4ster-shr3k/location"
	"github.com/Saintenr/dis4ster-shr3k/marker"
	"github.com/Saintenr/dis4ster-shr3k/server"
	"github.com/Saintenr/dis4ster-shr3k/utils"
)

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if dir := cmd.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	identity, err := utils.LoadOrCreateIdentity(cfg.IdentityPath())
	if err != nil {
		return err
	}
	log.Info().Str("identity", identity).Msg("loaded installation identity")

	store, err := marker.OpenSQLite(cfg.MarkerDBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Int("markers", len(store.ListAll())).Msg("marker store opened")

	var loc location.Provider = location.None{}
	if cfg.Location.Enabled {
		loc = location.Static{Lat: cfg.Location.Lat, Lon: cfg.Location.Lon, Acc: cfg.Location.Acc}
	}

	hub := utils.NewHub()

	// Both roles share one coordination queue; the D-Bus transports are
	// handed its dispatch function so every radio callback serializes
	// through it.
	var coordinator *bluetooth.Coordinator
	dispatch := func(fn func()) { coordinator.Dispatch(fn) }

	central, err := bluetooth.NewBluezCentral(cfg.Adapter, dispatch, log.With().Str("comp", "bluez-central").Logger())
	if err != nil {
		return err
	}
	defer central.Close()
	peripheral, err := bluetooth.NewBluezPeripheral(cfg.Adapter, dispatch, log.With().Str("comp", "bluez-peripheral").Logger())
	if err != nil {
		return err
	}

	coordinator = bluetooth.NewCoordinator(bluetooth.CoordinatorConfig{
		Identity:     identity,
		Central:      central,
		Peripheral:   peripheral,
		Location:     loc,
		Store:        store,
		Hub:          hub,
		Logger:       log,
		DeviceName:   cfg.DeviceName,
		ScanDuration: time.Duration(cfg.ScanSeconds) * time.Second,
		ChunkSize:    cfg.ChunkSize,
	})
	central.SetObserver(coordinator.Initiator())
	peripheral.SetObserver(coordinator.Responder())

	coordinator.Start()
	defer coordinator.Stop()

	srv := server.New(coordinator, store, hub, cfg.ListenAddr, log.With().Str("comp", "http").Logger())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info().Msg("shut down cleanly")
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "dis4sterd",
		Usage:  "Infrastructure-free emergency messaging over a dual-role BLE link",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Sources: cli.EnvVars("DIS4STERD_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Override the data directory",
				Sources: cli.EnvVars("DIS4STERD_DATA_DIR"),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dis4sterd:", err)
		os.Exit(1)
	}
}
