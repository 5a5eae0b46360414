package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"telepresence-headset/clock"
	"telepresence-headset/config"
	"telepresence-headset/control"
	"telepresence-headset/datagram"
	"telepresence-headset/ntpsync"
	"telepresence-headset/pipeline"
	"telepresence-headset/previewrtc"
	"telepresence-headset/web"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "Telepresence Headset Client"
	AppVersion        = "1.0.0"
)

// Application owns every long-lived component and their start/stop order.
type Application struct {
	config *config.Config
	logger *zap.Logger

	clock      *clock.Clock
	ntp        *ntpsync.Timer
	control    *control.Link
	datagram   *datagram.Sender
	supervisor *pipeline.Supervisor
	web        *web.Server
	preview    *previewrtc.Server
}

func main() {
	var (
		configPath = flag.String("config", DefaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *help {
		fmt.Printf("%s v%s\n\n", AppName, AppVersion)
		fmt.Println("Stereo telepresence headset client: NTP time sync, per-eye RTP")
		fmt.Println("ingest, and robot head/base control over UDP.")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		fmt.Println("\nEnvironment Variables:")
		fmt.Println("  HEADSET_PEER_IP    - Override the configured peer IP address")
		fmt.Println("  HEADSET_NTP_SERVER - Override the configured NTP server")
		os.Exit(0)
	}

	logger, err := createLogger(*logLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting telepresence headset client",
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("peer_ip", cfg.Network.PeerIP),
		zap.Int("diagnostics_port", cfg.Network.DiagnosticsPort),
		zap.String("codec", cfg.Video.Codec),
		zap.String("resolution", cfg.Video.Resolution))

	app := NewApplication(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	select {
	case sig := <-signalCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	logger.Info("shutting down...")
	app.Stop()
	logger.Info("shutdown complete")
}

// NewApplication constructs an Application from cfg. Components are built
// but not started; call Start to bring the system up.
func NewApplication(cfg *config.Config, logger *zap.Logger) *Application {
	return &Application{
		config: cfg,
		logger: logger,
		clock:  clock.New(),
	}
}

// Start brings every component up in dependency order: clock (already
// constructed) -> NTP sync -> control link -> control datagrams -> ingest
// pipeline -> diagnostics web server -> optional debug preview.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting application components")

	a.ntp = ntpsync.New(a.clock, a.config.NTP.Server, a.logger)
	a.ntp.Start(ctx)

	controlAddr := fmt.Sprintf(":%d", a.config.Network.ControlListenPort)
	link, err := control.New(controlAddr, a.clock, a.logger,
		control.WithMovementRange(control.MovementRange{
			AzMin: a.config.Movement.AzMin, AzMax: a.config.Movement.AzMax,
			ElMin: a.config.Movement.ElMin, ElMax: a.config.Movement.ElMax,
			SpeedMultiplier: a.config.Movement.SpeedMultiplier,
		}),
		control.WithElevationCalibration(a.config.Movement.ElevationServoBiasUnits, a.config.Movement.ElevationCalibrationRad),
		control.WithAxesSwapped(a.config.Movement.AxesSwapped),
	)
	if err != nil {
		return fmt.Errorf("failed to start control link: %w", err)
	}
	a.control = link
	a.control.Start(ctx)

	if a.config.Movement.RobotControlEnabled {
		datagramAddr := fmt.Sprintf("%s:%d", a.config.Network.PeerIP, a.config.Network.ServoPort)
		sender, err := datagram.New(datagramAddr, a.clock, a.logger)
		if err != nil {
			return fmt.Errorf("failed to start control datagram sender: %w", err)
		}
		a.datagram = sender
	}

	a.supervisor = pipeline.New(a.clock, a.logger)
	if err := a.supervisor.Configure(a.config.Video, a.config.Network); err != nil {
		return fmt.Errorf("failed to configure ingest pipeline: %w", err)
	}
	if err := a.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingest pipeline: %w", err)
	}

	a.web = web.NewServer(a.config, a.clock, a.ntp, a.supervisor, a.control, a.logger)
	if err := a.web.Start(); err != nil {
		return fmt.Errorf("failed to start diagnostics server: %w", err)
	}

	a.preview = previewrtc.New(a.config.Preview, a.config.Video.FPS, a.supervisor.Frames().Left, a.logger)
	if err := a.preview.Start(ctx); err != nil {
		return fmt.Errorf("failed to start debug preview: %w", err)
	}

	a.logger.Info("application started successfully",
		zap.String("diagnostics_url", fmt.Sprintf("http://%s:%d/status", a.config.Network.HeadsetIP, a.config.Network.DiagnosticsPort)),
		zap.Bool("robot_control_enabled", a.config.Movement.RobotControlEnabled),
		zap.Bool("debug_preview_enabled", a.config.Preview.Enabled))

	return nil
}

// Stop tears components down in reverse dependency order: debug preview and
// diagnostics server first (last to start), then the core teardown order:
// datagram pool -> control worker -> control listener -> pipeline/ingest ->
// NTP -> clock (clock needs no teardown).
func (a *Application) Stop() {
	if a.preview != nil {
		a.preview.Stop()
	}
	if a.web != nil {
		if err := a.web.Stop(); err != nil {
			a.logger.Error("error stopping diagnostics server", zap.Error(err))
		}
	}
	if a.datagram != nil {
		if err := a.datagram.Close(); err != nil {
			a.logger.Error("error closing control datagram sender", zap.Error(err))
		}
	}
	if a.control != nil {
		a.control.Stop()
	}
	if a.supervisor != nil {
		a.supervisor.Stop()
	}
	if a.ntp != nil {
		a.ntp.Stop()
	}

	a.logger.Info("all components stopped")
}

// createLogger builds a zap logger that writes to stdout and a rotating-by-
// count log file, matching the teacher's createLogger.
func createLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	const logDir = "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	ts := time.Now().Format("20060102-150405")
	logFile := filepath.Join(logDir, fmt.Sprintf("headset-%s.log", ts))

	// Keep the last 20 log files.
	files, _ := filepath.Glob(filepath.Join(logDir, "headset-*.log"))
	if len(files) > 20 {
		sort.Strings(files)
		for _, f := range files[:len(files)-20] {
			_ = os.Remove(f)
		}
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout", logFile},
		ErrorOutputPaths: []string{"stderr", logFile},
	}

	return cfg.Build()
}
