package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iot-panel-server/internal/config"
	"iot-panel-server/internal/database"
	"iot-panel-server/internal/discovery"
	"iot-panel-server/internal/display"
	"iot-panel-server/internal/hw"
	"iot-panel-server/internal/logger"
	"iot-panel-server/internal/logstream"
	"iot-panel-server/internal/metrics"
	"iot-panel-server/internal/monitor"
	"iot-panel-server/internal/router"
	"iot-panel-server/internal/sensor"
	"iot-panel-server/internal/serial"
	"iot-panel-server/internal/server"
	"iot-panel-server/internal/telemetry"
)

// panelDevice is everything the control port drives: both sensors, the
// actuator and the character display.
type panelDevice interface {
	sensor.Thermometer
	sensor.Ranger
	router.Actuator
	display.Device
}

func main() {
	configPath := flag.String("config", "", "path to panel_config.json (default: user config directory)")
	listPorts := flag.Bool("list-ports", false, "print detected USB serial ports and exit")
	flag.Parse()

	if *listPorts {
		if err := printPorts(); err != nil {
			fmt.Fprintf(os.Stderr, "Could not list serial ports: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		logger.Fatal("FATAL: %v", err)
	}
	logger.Info("Exiting application.")
	logger.Close()
}

func run(ctx context.Context, configPath string) error {
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	// Start the websocket hub first so early log lines reach the monitor.
	hub := logstream.NewHub()
	go hub.Run(ctx)

	// Load configuration as early as possible to apply settings like LogLevel.
	if err := config.Load(configPath); err != nil {
		return fmt.Errorf("failed to load panel configuration: %w", err)
	}
	conf := config.Get()
	if err := logger.Setup(conf.LogFile, hub); err != nil {
		return err
	}

	logger.Info("===========================================================")
	logger.Info("==                 IoT Panel Control Server               ==")
	logger.Info("===========================================================")

	m := metrics.New()

	dev, bridge, err := openDevice(ctx, conf)
	if err != nil {
		return err
	}
	if bridge != nil {
		defer bridge.Close()
	}

	lcd := display.NewScheduler(dev, m)
	lcd.OnFrame(hub.PublishFrame)
	defer lcd.Stop()
	if err := lcd.Clear(); err != nil {
		logger.Warn("Could not clear the display at startup: %v", err)
	}

	sensors := sensor.NewGateway(dev, dev, m)
	m.SetActuator(dev.Get())

	opts := router.DefaultOptions()
	opts.Scroll.FrameDelay = conf.ScrollFrameDelay()
	opts.Scroll.MaxDuration = conf.ScrollMax()
	opts.BlockingScroll = conf.BlockingScroll
	rt := router.New(sensors, lcd, dev, m, opts)

	srv := server.New(rt, m, server.Options{
		ReadTimeout:  conf.ReadTimeout(),
		TickInterval: conf.TickInterval(),
	})
	srv.AddTask("marquee", conf.TickInterval(), func(_ context.Context, now time.Time) { lcd.Tick(now) })

	var history *telemetry.API
	if conf.TelemetryInterval > 0 {
		store, err := database.Open(conf.DatabaseFile())
		if err != nil {
			return err
		}
		defer store.Close()
		rec := telemetry.NewRecorder(store, sensors, dev, conf.HistoryRetentionDays)
		logger.Info("Performing startup database maintenance...")
		rec.Maintain()
		srv.AddTask("telemetry", conf.Telemetry(), rec.Sample)
		history = telemetry.NewAPI(store)
		logger.Info("Recording telemetry every %v to '%s'.", conf.Telemetry(), conf.DatabaseFile())
	}

	ln, err := server.Listen(conf.ListenAddress, conf.NetworkPort, conf.PortRetries)
	if err != nil {
		return err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	logger.Info("Open: http://%s/", displayHost(conf.ListenAddress, port))

	if conf.MonitorAddress != "" {
		mopts := monitor.Options{Hub: hub, Metrics: m, History: history}
		if bridge != nil {
			mopts.Device = bridgeStatus(bridge)
		}
		go func() {
			if err := monitor.Run(ctx, conf.MonitorAddress, mopts); err != nil {
				logger.Error("Monitor server failed: %v", err)
			}
		}()
	}

	if conf.DiscoveryPort > 0 {
		conn, err := discovery.Listen(conf.ListenAddress, conf.DiscoveryPort)
		if err != nil {
			logger.Error("Discovery: %v", err)
			logger.Info("HINT: This may be caused by another panel running, or a permissions issue.")
		} else {
			go discovery.Serve(ctx, conn, func() int { return port })
		}
	}

	if err := srv.Serve(ctx, ln); err != nil {
		return fmt.Errorf("control port failed: %w", err)
	}
	return nil
}

// openDevice builds the hardware for the configured mode. The bridge is nil
// in sim mode.
func openDevice(ctx context.Context, conf config.PanelConfig) (panelDevice, *serial.Bridge, error) {
	switch conf.DeviceMode {
	case config.DeviceModeSerial:
		bridge := serial.NewBridge(serial.Options{
			PortName:   conf.SerialPortName,
			AutoDetect: conf.AutoDetectPort,
			BaudRate:   conf.BaudRate,
			OnConnect: func(name string) {
				logger.Info("Panel firmware connected on %s.", name)
			},
		})
		logger.Info("Performing initial device connection attempt...")
		bridge.Start(ctx)
		if bridge.IsConnected() {
			logger.Info("Initial connection attempt finished successfully.")
		} else {
			logger.Warn("Initial connection attempt failed. The application will continue to try connecting in the background.")
		}
		return serial.NewDevice(bridge), bridge, nil
	case config.DeviceModeSim:
		logger.Info("Running with simulated hardware.")
		return hw.NewSim(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown device mode '%s'", conf.DeviceMode)
	}
}

func bridgeStatus(b *serial.Bridge) func() monitor.DeviceStatus {
	return func() monitor.DeviceStatus {
		return monitor.DeviceStatus{
			Connected: b.IsConnected(),
			Port:      b.PortName(),
			Firmware:  b.FirmwareVersion(),
		}
	}
}

func displayHost(listen string, port int) string {
	host := listen
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}

func printPorts() error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	found := 0
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		fmt.Printf("%s\tVID:%s PID:%s\t%s\n", p.Name, p.VID, p.PID, p.Product)
		found++
	}
	if found == 0 {
		fmt.Println("No USB serial ports found.")
	}
	return nil
}
