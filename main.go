package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flaketransfer/config"
	"flaketransfer/lib"
	"flaketransfer/lib/interaction"
	"flaketransfer/lib/motion"
	"flaketransfer/lib/thermal"
	"flaketransfer/lib/worker"
)

const keyEscape = 27

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: flaketransfer [-config file.yaml] [-no-heater]")
	flag.PrintDefaults()
	ports, err := motion.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting serial ports: %v\n", err)
		return
	}
	if len(ports) == 0 {
		fmt.Fprintln(os.Stderr, "No serial ports found!")
		return
	}
	fmt.Fprintln(os.Stderr, "Available serial ports:")
	for _, port := range ports {
		fmt.Fprintln(os.Stderr, "  "+port)
	}
}

func main() {
	configPath := flag.String("config", "flaketransfer.yaml", "config file")
	noHeater := flag.Bool("no-heater", false, "do not open the heater supply")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, *noHeater, logger); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, noHeater bool, logger *slog.Logger) error {
	params, err := config.LoadParams(cfg.ParamsFile)
	if err != nil {
		return err
	}

	rig := buildRig(cfg.Serial, logger)
	rig.Acceleration = paramAcceleration(params)
	defer rig.Close()

	notices := interaction.NewNotices(cfg.Interaction.Notices)

	camera, err := lib.NewCamera(cameraConfig(cfg.Camera), logger)
	if err != nil {
		return err
	}
	defer camera.Close()
	camera.Overlay.Scalebar = params.Scalebar
	camera.Overlay.Notices = notices

	newTracker, err := lib.NewTrackerFactory(cfg.Camera.Tracker)
	if err != nil {
		return err
	}
	ctrl := interaction.NewController(controllerConfig(cfg, params), camera, newTracker, notices, logger)
	camera.Attach(ctrl)

	a := &app{
		cfg:     cfg,
		params:  params,
		rig:     rig,
		camera:  camera,
		ctrl:    ctrl,
		notices: notices,
		logger:  logger,
	}
	a.worker = worker.New(a.stopMotors, notices.Push, logger)

	if !noHeater && cfg.Heater.Port != "" {
		supply, err := thermal.OpenSupply(cfg.Heater.Port, cfg.Heater.Baud)
		if err != nil {
			logger.Warn("heater supply unavailable", "port", cfg.Heater.Port, "err", err)
		} else {
			a.heater = thermal.NewHeater(supply, heaterConfig(cfg.Heater), logger)
			defer supply.Close()
			defer a.heater.Stop()
		}
	}

	logger.Info("starting camera")
	camera.Start()

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: a.routes()}
	go func() {
		logger.Info("starting server", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
		}
	}()

	// Set up signal handling for clean shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	// Window display functions must run in the main thread
	running := true
	for running {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			running = false
		case <-ticker.C:
			logger.Debug("status", "frames", camera.FrameCount(), "mode", ctrl.Mode().String())
		default:
			if camera.ShowCurrentFrame() {
				if key := camera.WaitKey(1); key == keyEscape {
					logger.Info("ESC pressed, shutting down")
					running = false
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	a.worker.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.stopMotors(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", "err", err)
	}
	return nil
}
