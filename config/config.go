// Package config loads the headset client's TOML configuration surface,
// following the teacher's default-then-file-then-env override order.
package config

import (
	"fmt"
	"math"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config is the full configuration surface: §6.5's recognized options plus
// the ambient knobs (buffers, timeouts, logging) carried from the teacher.
type Config struct {
	Network  NetworkConfig  `toml:"network" json:"network"`
	Video    VideoConfig    `toml:"video" json:"video"`
	Movement MovementConfig `toml:"movement" json:"movement"`
	NTP      NTPConfig      `toml:"ntp" json:"ntp"`
	Timeouts TimeoutConfig  `toml:"timeouts" json:"timeouts"`
	Buffers  BufferConfig   `toml:"buffers" json:"buffers"`
	Logging  LoggingConfig  `toml:"logging" json:"logging"`
	Preview  PreviewConfig  `toml:"preview" json:"preview"`
}

// NetworkConfig holds the control/datagram/RTP addressing surface.
type NetworkConfig struct {
	HeadsetIP        string `toml:"headset_ip" json:"headset_ip"`
	PeerIP           string `toml:"peer_ip" json:"peer_ip"`
	PortLeft         int    `toml:"port_left" json:"port_left"`
	PortRight        int    `toml:"port_right" json:"port_right"`
	ControlListenPort int   `toml:"control_listen_port" json:"control_listen_port"`
	ServoPort        int    `toml:"servo_port" json:"servo_port"`
	DiagnosticsPort  int    `toml:"diagnostics_port" json:"diagnostics_port"`
}

// VideoConfig selects codec/resolution/mode for the ingest pipeline.
type VideoConfig struct {
	Codec      string `toml:"codec" json:"codec"`           // JPEG, H264, H265
	Resolution string `toml:"resolution" json:"resolution"` // "WxH"
	FPS        int    `toml:"fps" json:"fps"`
	VideoMode  string `toml:"video_mode" json:"video_mode"` // Stereo, Mono
}

// MovementConfig drives PoseMath and the servo movement range.
type MovementConfig struct {
	AzMin                 int32   `toml:"az_min" json:"az_min"`
	AzMax                 int32   `toml:"az_max" json:"az_max"`
	ElMin                 int32   `toml:"el_min" json:"el_min"`
	ElMax                 int32   `toml:"el_max" json:"el_max"`
	SpeedMultiplier       float32 `toml:"speed_multiplier" json:"speed_multiplier"`
	MaxSpeed              uint32  `toml:"head_movement_max_speed" json:"head_movement_max_speed"`
	PredictionMS          int64   `toml:"head_movement_prediction_ms" json:"head_movement_prediction_ms"`
	ElevationServoBiasUnits float64 `toml:"elevation_servo_bias_units" json:"elevation_servo_bias_units"`
	ElevationCalibrationRad float64 `toml:"elevation_calibration_rad" json:"elevation_calibration_rad"`
	AxesSwapped           bool    `toml:"axes_swapped" json:"axes_swapped"`
	RobotControlEnabled   bool    `toml:"robot_control_enabled" json:"robot_control_enabled"`
}

// NTPConfig selects the time-sync server.
type NTPConfig struct {
	Server string `toml:"server" json:"server"`
}

// TimeoutConfig holds teardown and protocol timeouts.
type TimeoutConfig struct {
	ShutdownSeconds    int `toml:"shutdown_seconds" json:"shutdown_seconds"`
	NTPRoundTimeoutMS  int `toml:"ntp_round_timeout_ms" json:"ntp_round_timeout_ms"`
	ResponseTimeoutMS  int `toml:"response_timeout_ms" json:"response_timeout_ms"`
}

// BufferConfig holds channel sizes for internal pipelines, matching the
// teacher's BufferConfig shape.
type BufferConfig struct {
	FrameChannelSize  int `toml:"frame_channel_size" json:"frame_channel_size"`
	EventChannelSize  int `toml:"event_channel_size" json:"event_channel_size"`
}

// LoggingConfig holds log level and periodic stats logging interval.
type LoggingConfig struct {
	Level                 string `toml:"level" json:"level"`
	StatsLogIntervalSeconds int  `toml:"stats_log_interval_seconds" json:"stats_log_interval_seconds"`
}

// PreviewConfig gates the optional browser debug preview (§4.12).
type PreviewConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	HTTPPort int `toml:"http_port" json:"http_port"`
}

// defaults returns the hardcoded baseline configuration, matching the
// teacher's LoadConfig shape: recovered servo-range defaults from
// servo_communicator.cpp, the control listen port from pose_server.cpp, and
// the elevation calibration constants from §9 Open Question 1.
func defaults() *Config {
	return &Config{
		Network: NetworkConfig{
			PortLeft:          8554,
			PortRight:         8556,
			ControlListenPort: 31285,
			ServoPort:         32115,
			DiagnosticsPort:   8080,
		},
		Video: VideoConfig{
			Codec:      "H264",
			Resolution: "1280x720",
			FPS:        30,
			VideoMode:  "Stereo",
		},
		Movement: MovementConfig{
			AzMin:                   -1_073_741_824,
			AzMax:                   math.MaxInt32,
			ElMin:                   -715_827_882,
			ElMax:                   715_827_882,
			SpeedMultiplier:         1.0,
			MaxSpeed:                1000,
			PredictionMS:            0,
			ElevationServoBiasUnits: 200_000_000,
			ElevationCalibrationRad: 0.5,
			RobotControlEnabled:     true,
		},
		NTP: NTPConfig{
			Server: "pool.ntp.org",
		},
		Timeouts: TimeoutConfig{
			ShutdownSeconds:   30,
			NTPRoundTimeoutMS: 1000,
			ResponseTimeoutMS: 1000,
		},
		Buffers: BufferConfig{
			FrameChannelSize: 4,
			EventChannelSize: 16,
		},
		Logging: LoggingConfig{
			Level:                   "info",
			StatsLogIntervalSeconds: 60,
		},
		Preview: PreviewConfig{
			Enabled:  false,
			HTTPPort: 8081,
		},
	}
}

// Load builds the default configuration, overrides it from configPath if
// present, then applies environment variable overrides
// (HEADSET_PEER_IP, HEADSET_NTP_SERVER), matching the teacher's
// default-then-file-then-env order.
func Load(configPath string, logger *zap.Logger) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		logger.Info("config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("config file not found, using defaults", zap.String("path", configPath))
	}

	if envIP := os.Getenv("HEADSET_PEER_IP"); envIP != "" {
		cfg.Network.PeerIP = envIP
		logger.Info("peer IP overridden from environment", zap.String("ip", envIP))
	}
	if envServer := os.Getenv("HEADSET_NTP_SERVER"); envServer != "" {
		cfg.NTP.Server = envServer
		logger.Info("NTP server overridden from environment", zap.String("server", envServer))
	}

	return cfg, nil
}

// Save writes cfg to configPath as TOML, matching the teacher's SaveConfig.
func Save(cfg *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
