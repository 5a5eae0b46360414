// Package datagram implements the fire-and-forget robot-control UDP sender:
// head-pose and base-velocity packets dispatched through a small worker pool
// so the render thread never blocks on a send.
package datagram

import (
	"encoding/binary"
	"math"
	"net"

	"go.uber.org/zap"

	"telepresence-headset/clock"
)

func float32bits(f float32) uint32 { return math.Float32bits(f) }

const (
	// MsgHeadPose identifies a 21-byte head-pose packet.
	MsgHeadPose byte = 0x01
	// MsgRobotControl identifies a 21-byte base-velocity packet.
	MsgRobotControl byte = 0x02

	packetSize = 21
	poolSize   = 3
	queueDepth = 64
)

// Sender dispatches best-effort UDP datagrams to a single peer address. No
// response is expected or awaited; sends that fail are logged and dropped.
type Sender struct {
	conn   *net.UDPConn
	clock  *clock.Clock
	logger *zap.Logger

	jobs chan []byte
	done chan struct{}
}

// New dials a UDP socket to peerAddr (host:port) and starts the worker pool.
// ControlDatagram must use a distinct socket/port from ControlLink because
// the latter binds for inbound traffic (§4.8).
func New(peerAddr string, clk *clock.Clock, logger *zap.Logger) (*Sender, error) {
	raddr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}

	s := &Sender{
		conn:   conn,
		clock:  clk,
		logger: logger,
		jobs:   make(chan []byte, queueDepth),
		done:   make(chan struct{}),
	}

	for i := 0; i < poolSize; i++ {
		go s.worker()
	}

	return s, nil
}

func (s *Sender) worker() {
	for pkt := range s.jobs {
		if _, err := s.conn.Write(pkt); err != nil {
			s.logger.Warn("datagram send failed", zap.Error(err))
		}
	}
}

// SendHeadPose enqueues a 21-byte head-pose packet: [0x01][az f32][el
// f32][speed f32][ts u64], all little-endian.
func (s *Sender) SendHeadPose(az, el, speed float32) {
	s.enqueue(MsgHeadPose, az, el, speed)
}

// SendRobotControl enqueues a 21-byte base-velocity packet: [0x02][lin_x
// f32][lin_y f32][angular f32][ts u64], all little-endian.
func (s *Sender) SendRobotControl(linX, linY, angular float32) {
	s.enqueue(MsgRobotControl, linX, linY, angular)
}

func (s *Sender) enqueue(msgType byte, a, b, c float32) {
	buf := make([]byte, packetSize)
	buf[0] = msgType
	binary.LittleEndian.PutUint32(buf[1:5], float32bits(a))
	binary.LittleEndian.PutUint32(buf[5:9], float32bits(b))
	binary.LittleEndian.PutUint32(buf[9:13], float32bits(c))
	binary.LittleEndian.PutUint64(buf[13:21], uint64(s.clock.NowCorrectedUS()))

	select {
	case s.jobs <- buf:
	default:
		s.logger.Warn("datagram queue full, dropping packet", zap.Uint8("type", msgType))
	}
}

// Close closes the job queue and then the socket; a send after Close panics.
// Close does not wait for the workers, so packets still queued are dropped
// when their writes fail on the closed socket.
func (s *Sender) Close() error {
	close(s.jobs)
	return s.conn.Close()
}
