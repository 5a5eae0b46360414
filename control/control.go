// Package control implements ControlLink (C7): the request-triggered UDP
// control-plane socket, its priority task queue, the servo wire protocol,
// and the HUD telemetry it receives from the peer.
package control

import (
	"context"
	"math"
	"net"
	"sync"

	"go.uber.org/zap"

	"telepresence-headset/clock"
	"telepresence-headset/framestats"
	"telepresence-headset/posemath"
)

// MovementRange drives pose serialization: the servo angle range each axis
// is mapped into, plus the speed-boost gain.
type MovementRange struct {
	AzMin, AzMax int32
	ElMin, ElMax int32
	SpeedMultiplier float32
}

// DefaultMovementRange returns the servo range recovered from the original
// source's servo_communicator.cpp constants.
func DefaultMovementRange() MovementRange {
	return MovementRange{
		AzMin: -1_073_741_824,
		AzMax: math.MaxInt32,
		ElMin: -715_827_882,
		ElMax: 715_827_882,
		SpeedMultiplier: 1.0,
	}
}

const (
	// lowPassBeta is the step-4 filter gain in §4.6.
	lowPassBeta = 0.20

	// elevationServoBiasUnitsDefault is the literal observed in the
	// original source's setPoseAndSpeed, preserved per §9 Open Question 1.
	elevationServoBiasUnitsDefault = 200_000_000

	// elevationCalibrationRadDefault is the "+0.5" constant from §4.9.
	elevationCalibrationRadDefault = 0.5

	triggerQueueDepth = 1
)

// Link is a UDP socket bound for inbound control-plane traffic. Protocol is
// request-triggered: every inbound datagram produces exactly one outbound
// reply, drained from the priority queue (or the single-byte empty frame if
// the queue was empty).
type Link struct {
	conn   *net.UDPConn
	clock  *clock.Clock
	logger *zap.Logger

	queue   priorityQueue
	trigger chan struct{}

	hud *HUDState

	movementRange           MovementRange
	elevationServoBiasUnits float64
	elevationCalibrationRad float64
	axesSwapped             bool

	peerMu sync.Mutex
	peer   *net.UDPAddr

	filterMu sync.Mutex
	azFilt   float64
	elFilt   float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Link at construction time.
type Option func(*Link)

// WithMovementRange overrides the default servo movement range.
func WithMovementRange(r MovementRange) Option {
	return func(l *Link) { l.movementRange = r }
}

// WithElevationCalibration overrides the two hardware-calibration constants
// from §9 Open Question 1.
func WithElevationCalibration(biasUnits, calibrationRad float64) Option {
	return func(l *Link) {
		l.elevationServoBiasUnits = biasUnits
		l.elevationCalibrationRad = calibrationRad
	}
}

// WithAxesSwapped sets whether az/el segments are swapped before
// serialization, per §4.6 step 7.
func WithAxesSwapped(swapped bool) Option {
	return func(l *Link) { l.axesSwapped = swapped }
}

// New binds listenAddr (host:port) for inbound control traffic and returns a
// Link ready to Start.
func New(listenAddr string, clk *clock.Clock, logger *zap.Logger, opts ...Option) (*Link, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	l := &Link{
		conn:                    conn,
		clock:                   clk,
		logger:                  logger,
		trigger:                 make(chan struct{}, triggerQueueDepth),
		hud:                     &HUDState{},
		movementRange:           DefaultMovementRange(),
		elevationServoBiasUnits: elevationServoBiasUnitsDefault,
		elevationCalibrationRad: elevationCalibrationRadDefault,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// HUD returns the link's HUD state for readers (render thread, diagnostics).
func (l *Link) HUD() *HUDState { return l.hud }

// Start launches the listener and worker goroutines.
func (l *Link) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(2)
	go l.listen(ctx)
	go l.serve(ctx)
}

// Stop closes the socket (unblocking any pending recv) and waits for both
// goroutines to join.
func (l *Link) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.conn.Close()
	l.wg.Wait()
}

// listen blocks in recvfrom, applies inbound JSON to HUD state, tracks the
// latest sender as the reply destination, and signals the worker.
func (l *Link) listen(ctx context.Context) {
	defer l.wg.Done()

	buf := make([]byte, 4096)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				l.logger.Warn("control link recv error", zap.Error(err))
				return
			}
		}

		l.peerMu.Lock()
		l.peer = addr
		l.peerMu.Unlock()

		if n > 0 {
			if err := l.hud.ApplyInbound(buf[:n]); err != nil {
				l.logger.Warn("malformed control-link inbound payload", zap.Error(err))
			}
		}

		select {
		case l.trigger <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}
}

// serve waits for a poll trigger and sends exactly one reply per trigger:
// the highest-priority queued task, or the empty-message frame.
func (l *Link) serve(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.trigger:
			l.replyOnce()
		}
	}
}

func (l *Link) replyOnce() {
	l.peerMu.Lock()
	peer := l.peer
	l.peerMu.Unlock()
	if peer == nil {
		return
	}

	payload, ok := l.queue.pop()
	if !ok {
		payload = []byte{MsgEmpty}
	}

	if _, err := l.conn.WriteToUDP(payload, peer); err != nil {
		l.logger.Warn("control link send failed", zap.Error(err))
	}
}

// ResetErrors enqueues a reset-errors task at PriorityResetErrors.
func (l *Link) ResetErrors() {
	body := append([]byte{MsgServoCommand}, segResetErrors()...)
	l.queue.push(PriorityResetErrors, body)
}

// EnableServos enqueues an enable/disable-servos task.
func (l *Link) EnableServos(enable bool) {
	body := append([]byte{MsgServoCommand}, segEnableServos(enable)...)
	l.queue.push(PriorityEnableServos, body)
}

// SetMode enqueues a set-mode task.
func (l *Link) SetMode(mode byte) {
	body := append([]byte{MsgServoCommand}, segSetMode(mode)...)
	l.queue.push(PrioritySetMode, body)
}

// SetFrameLatency enqueues the current frame-stats snapshot as a LOG
// message; this is the lowest-priority task so any control action
// preempts it.
func (l *Link) SetFrameLatency(snap framestats.Snapshot) {
	body := append([]byte{MsgLog}, buildLog(
		int32(snap.VidConv), int32(snap.Enc), int32(snap.RtpPay),
		int32(snap.UDPStream), int32(snap.RtpDepay), int32(snap.Dec),
	)...)
	l.queue.push(PriorityFrameLatency, body)
}

// SetPoseAndSpeed computes and enqueues a pose-and-speed servo command from
// a head-pose quaternion, per §4.6. Because the queue holds at most one task
// per priority, a burst of calls between two polls collapses to the last.
func (l *Link) SetPoseAndSpeed(q posemath.Quat, speed int32) {
	az, el := posemath.QuatToAzEl(q, l.elevationCalibrationRad)

	r := l.movementRange
	azCenter := float64(r.AzMin+r.AzMax) / 2
	elCenter := float64(r.ElMin+r.ElMax) / 2

	const halfFOV = math.Pi / 2
	azMapped := azCenter + (az/halfFOV)*(float64(r.AzMax-r.AzMin)/2)
	// Elevation is sign-flipped to match hardware, per §4.6 step 2.
	elMapped := elCenter - (el/halfFOV)*(float64(r.ElMax-r.ElMin)/2)

	azBoosted := azMapped + (azMapped-azCenter)*float64(r.SpeedMultiplier)
	elBoosted := elMapped + (elMapped-elCenter+l.elevationServoBiasUnits)*float64(r.SpeedMultiplier)

	l.filterMu.Lock()
	l.azFilt = l.azFilt*(1-lowPassBeta) + azBoosted*lowPassBeta
	l.elFilt = l.elFilt*(1-lowPassBeta) + elBoosted*lowPassBeta
	azFilt, elFilt := l.azFilt, l.elFilt
	l.filterMu.Unlock()

	azClamped := clampF(azFilt, float64(r.AzMin), float64(r.AzMax))
	elClamped := clampF(elFilt, float64(r.ElMin), float64(r.ElMax))

	body := append([]byte{MsgServoCommand}, buildPoseAndSpeed(
		int32(azClamped), int32(elClamped), speed, speed, l.axesSwapped,
	)...)
	l.queue.push(PrioritySetPoseAndSpeed, body)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
