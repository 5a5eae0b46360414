// Package web implements the diagnostics HTTP/WebSocket server (§4.11): a
// read-only window onto clock sync, per-eye ingest state (lifecycle state and
// resolution), and HUD state, adapted from the teacher's web.Handlers/Server
// split. Frame stage latencies are not included in the snapshot.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"telepresence-headset/clock"
	"telepresence-headset/config"
	"telepresence-headset/control"
	"telepresence-headset/ntpsync"
	"telepresence-headset/pipeline"
)

// Handlers serves the diagnostics HTTP endpoints.
type Handlers struct {
	config     *config.Config
	logger     *zap.Logger
	clock      *clock.Clock
	ntp        *ntpsync.Timer
	supervisor *pipeline.Supervisor
	control    *control.Link
}

// NewHandlers wires the diagnostics handlers to the running components.
func NewHandlers(cfg *config.Config, clk *clock.Clock, ntp *ntpsync.Timer, sup *pipeline.Supervisor, link *control.Link, logger *zap.Logger) *Handlers {
	return &Handlers{
		config:     cfg,
		logger:     logger,
		clock:      clk,
		ntp:        ntp,
		supervisor: sup,
		control:    link,
	}
}

// statusSnapshot is the JSON shape served from both /status and /ws.
type statusSnapshot struct {
	Timestamp      string                        `json:"timestamp"`
	ClockOffsetUS  int64                          `json:"clock_offset_us"`
	SmoothedNTPUS  int64                          `json:"smoothed_ntp_offset_us"`
	Eyes           map[string]pipeline.EyeStatus  `json:"eyes"`
	HUD            control.HUDState               `json:"hud"`
	VideoMode      string                         `json:"video_mode"`
	RobotControl   bool                           `json:"robot_control_enabled"`
}

func (h *Handlers) snapshot() statusSnapshot {
	s := statusSnapshot{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		ClockOffsetUS: h.clock.Offset(),
		VideoMode:     h.config.Video.VideoMode,
		RobotControl:  h.config.Movement.RobotControlEnabled,
	}
	if h.ntp != nil {
		s.SmoothedNTPUS = h.ntp.SmoothedOffset()
	}
	if h.supervisor != nil {
		s.Eyes = h.supervisor.Status()
	}
	if h.control != nil {
		s.HUD = h.control.HUD().Snapshot()
	}
	return s
}

// HandleStatus returns a single JSON status snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, h.snapshot())
}

// HandleHealth is a minimal liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, map[string]string{"status": "ok"})
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
