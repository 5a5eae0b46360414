// Package pipeline implements PipelineSupervisor (C6): it owns the left and
// right RtpIngest instances, (re)builds them from the video configuration
// surface, and forwards their per-eye status for diagnostics.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"telepresence-headset/clock"
	"telepresence-headset/config"
	"telepresence-headset/frame"
	"telepresence-headset/ingest"
)

// Supervisor owns the stereo ingest pair and the frame buffers they decode
// into, rebuilding both on (Re)Configure the way the teacher's camera
// manager rebuilds camera1/camera2 on config change.
type Supervisor struct {
	logger *zap.Logger
	clock  *clock.Clock

	mu      sync.Mutex
	cfg     config.VideoConfig
	netCfg  config.NetworkConfig
	frames  *frame.Pair
	left    *ingest.Ingest
	right   *ingest.Ingest
	running bool

	runCtx context.Context
	cancel context.CancelFunc
}

// New returns an unconfigured Supervisor; call Configure before Start.
func New(clk *clock.Clock, logger *zap.Logger) *Supervisor {
	return &Supervisor{logger: logger, clock: clk}
}

// Frames returns the current left/right decoded-frame buffers. Valid only
// after a successful Configure.
func (s *Supervisor) Frames() *frame.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Configure (re)builds both eyes' ingest pipelines from video and network
// config. If the supervisor is already running, it tears down the existing
// pipelines first, matching the teacher's stop-then-rebuild reconfigure
// sequence.
func (s *Supervisor) Configure(video config.VideoConfig, net config.NetworkConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("(re)configuring ingest pipelines",
		zap.String("codec", video.Codec), zap.String("resolution", video.Resolution))

	wasRunning := s.running
	if wasRunning {
		s.stopLocked()
	}

	width, height, err := parseResolution(video.Resolution)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	frames := frame.NewPair(width, height)

	left, err := ingest.New("left", fmt.Sprintf(":%d", net.PortLeft), video.Codec, width, height, frames.Left, s.clock, s.logger)
	if err != nil {
		return fmt.Errorf("pipeline: configure left eye: %w", err)
	}
	right, err := ingest.New("right", fmt.Sprintf(":%d", net.PortRight), video.Codec, width, height, frames.Right, s.clock, s.logger)
	if err != nil {
		return fmt.Errorf("pipeline: configure right eye: %w", err)
	}

	s.cfg = video
	s.netCfg = net
	s.frames = frames
	s.left = left
	s.right = right

	if wasRunning {
		return s.startLocked()
	}
	return nil
}

// Start begins decoding on both eyes.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx = ctx
	return s.startLocked()
}

func (s *Supervisor) startLocked() error {
	if s.left == nil || s.right == nil {
		return fmt.Errorf("pipeline: Configure must be called before Start")
	}
	if s.runCtx == nil {
		s.runCtx = context.Background()
	}

	runCtx, cancel := context.WithCancel(s.runCtx)
	s.cancel = cancel

	if err := s.left.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("pipeline: start left eye: %w", err)
	}
	if err := s.right.Start(runCtx); err != nil {
		s.left.Stop()
		cancel()
		return fmt.Errorf("pipeline: start right eye: %w", err)
	}

	if s.cfg.VideoMode == "Mono" {
		s.frames.MirrorLeftToRight()
	}

	s.running = true
	s.logger.Info("ingest pipelines started")
	return nil
}

// Stop tears down both eyes.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if !s.running {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.left != nil {
		s.left.Stop()
	}
	if s.right != nil {
		s.right.Stop()
	}
	s.running = false
	s.logger.Info("ingest pipelines stopped")
}

// EyeStatus summarizes one eye's ingest state for diagnostics.
type EyeStatus struct {
	State  string `json:"state"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Status returns both eyes' lifecycle state for the diagnostics server.
func (s *Supervisor) Status() map[string]EyeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]EyeStatus, 2)
	if s.left != nil {
		status["left"] = EyeStatus{State: s.left.State().String(), Width: s.frames.Left.Width, Height: s.frames.Left.Height}
	}
	if s.right != nil {
		status["right"] = EyeStatus{State: s.right.State().String(), Width: s.frames.Right.Width, Height: s.frames.Right.Height}
	}
	return status
}

// IsRunning reports whether both eyes are currently playing.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// parseResolution parses a "WxH" string as used by the video config surface.
func parseResolution(res string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(res), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid resolution %q, want WxH", res)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution height %q: %w", parts[1], err)
	}
	return w, h, nil
}
