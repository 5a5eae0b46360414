// Package framestats tracks per-eye, per-frame stage latencies and keeps a
// bounded history for HUD and diagnostics consumers.
package framestats

import (
	"math"
	"sync/atomic"
)

// HistorySize bounds the averaging ring; pushing a snapshot onto a full ring
// evicts the oldest entry.
const HistorySize = 50

// Snapshot is a point-in-time copy of one frame's stage latencies and
// arrival timestamps, all in microseconds.
type Snapshot struct {
	FrameID uint64

	VidConv    int64
	Enc        int64
	RtpPay     int64
	UDPStream  int64
	RtpDepay   int64
	Dec        int64
	Queue      int64
	TotalLatency int64

	RtpPayTS       int64
	UDPSrcTS       int64
	RtpDepayTS     int64
	DecTS          int64
	QueueTS        int64
	FrameReadyTS   int64
	PresentationTS int64

	FPS float64
}

// Stats holds the atomic, lock-free counters updated by the ingest stage
// callbacks for a single eye, plus the bounded history ring.
type Stats struct {
	frameID atomic.Uint64

	vidConv      atomic.Int64
	enc          atomic.Int64
	rtpPay       atomic.Int64
	udpStream    atomic.Int64
	rtpDepay     atomic.Int64
	dec          atomic.Int64
	queue        atomic.Int64
	totalLatency atomic.Int64

	rtpPayTS       atomic.Int64
	udpSrcTS       atomic.Int64
	rtpDepayTS     atomic.Int64
	decTS          atomic.Int64
	queueTS        atomic.Int64
	frameReadyTS   atomic.Int64
	presentationTS atomic.Int64

	prevArrivalTS atomic.Int64
	fpsBits       atomic.Uint64

	ring Ring
}

// New returns a Stats object with all counters zeroed.
func New() *Stats {
	return &Stats{}
}

// SetFrameID records the producer-assigned frame identifier for the frame
// currently in flight through the stage graph.
func (s *Stats) SetFrameID(id uint64) { s.frameID.Store(id) }

// RecordUDPSrc records the udpsrc stage handoff: udp_stream = udpSrcTS - rtpPayWallTS.
// rtpPayWallTS is also the sender's rtp_pay stage timestamp, carried over the
// wire in the same extension field.
func (s *Stats) RecordUDPSrc(udpSrcTS, rtpPayWallTS int64) {
	s.rtpPayTS.Store(rtpPayWallTS)
	s.udpSrcTS.Store(udpSrcTS)
	s.udpStream.Store(udpSrcTS - rtpPayWallTS)
}

// RecordRtpDepay records the rtp-depay stage handoff: rtp_depay = rtpDepayTS - udpSrcTS.
func (s *Stats) RecordRtpDepay(rtpDepayTS int64) {
	s.rtpDepayTS.Store(rtpDepayTS)
	s.rtpDepay.Store(rtpDepayTS - s.udpSrcTS.Load())
}

// RecordDecode records the decode stage handoff: dec = decTS - rtpDepayTS.
func (s *Stats) RecordDecode(decTS int64) {
	s.decTS.Store(decTS)
	s.dec.Store(decTS - s.rtpDepayTS.Load())
}

// RecordQueue records the queue stage handoff: queue = queueTS - decTS, computes
// total_latency, and appends a snapshot to the history ring. This is the only
// point at which total_latency becomes well-defined, per the stage-accounting
// invariant.
func (s *Stats) RecordQueue(queueTS int64, vidConv, enc, rtpPay int64) {
	s.queueTS.Store(queueTS)
	s.queue.Store(queueTS - s.decTS.Load())
	s.vidConv.Store(vidConv)
	s.enc.Store(enc)
	s.rtpPay.Store(rtpPay)

	total := vidConv + enc + rtpPay + s.udpStream.Load() + s.rtpDepay.Load() + s.dec.Load() + s.queue.Load()
	s.totalLatency.Store(total)

	s.ring.Push(s.Snapshot())
}

// RecordFrameReady marks the frame as delivered to the presentation sink and
// updates the fps estimate from the gap to the previous arrival.
func (s *Stats) RecordFrameReady(frameReadyTS int64) {
	s.frameReadyTS.Store(frameReadyTS)
	prev := s.prevArrivalTS.Swap(frameReadyTS)
	if prev > 0 && frameReadyTS > prev {
		fps := 1e6 / float64(frameReadyTS-prev)
		s.fpsBits.Store(math.Float64bits(fps))
	}
}

// RecordPresentation marks when the renderer actually consumed the frame.
func (s *Stats) RecordPresentation(ts int64) { s.presentationTS.Store(ts) }

// Snapshot returns a best-effort, lock-free copy of the current counters.
// Fields may tear across one snapshot under extreme contention; this is
// accepted, matching the atomics-without-a-lock contract.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		FrameID: s.frameID.Load(),

		VidConv:      s.vidConv.Load(),
		Enc:          s.enc.Load(),
		RtpPay:       s.rtpPay.Load(),
		UDPStream:    s.udpStream.Load(),
		RtpDepay:     s.rtpDepay.Load(),
		Dec:          s.dec.Load(),
		Queue:        s.queue.Load(),
		TotalLatency: s.totalLatency.Load(),

		RtpPayTS:       s.rtpPayTS.Load(),
		UDPSrcTS:       s.udpSrcTS.Load(),
		RtpDepayTS:     s.rtpDepayTS.Load(),
		DecTS:          s.decTS.Load(),
		QueueTS:        s.queueTS.Load(),
		FrameReadyTS:   s.frameReadyTS.Load(),
		PresentationTS: s.presentationTS.Load(),

		FPS: math.Float64frombits(s.fpsBits.Load()),
	}
}

// AveragedSnapshot returns the arithmetic mean of duration fields and fps
// across the history ring, with identity fields and stage timestamps copied
// from the most recent entry. On an empty ring it returns the live snapshot.
func (s *Stats) AveragedSnapshot() Snapshot {
	avg, ok := s.ring.Average()
	if !ok {
		return s.Snapshot()
	}
	return avg
}
