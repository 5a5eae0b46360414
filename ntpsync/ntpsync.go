// Package ntpsync implements the background SNTPv4 time-sync engine that
// keeps a clock.Clock's correction offset aligned with an NTP server.
package ntpsync

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"telepresence-headset/clock"
)

const (
	// syncRoundInterval is how often a full sync round runs; failures
	// reschedule the next round rather than stopping the loop.
	syncRoundInterval = 2 * time.Second

	// sampleSpacing separates the three requests within one sync round.
	sampleSpacing = 20 * time.Millisecond

	// recvTimeout bounds how long a single sample waits for a reply.
	recvTimeout = 1 * time.Second

	// maxAcceptableRTT rejects any sample whose round trip exceeds this.
	maxAcceptableRTT = 20 * time.Millisecond

	// alpha is the EWMA smoothing factor applied to accepted offsets.
	alpha = 0.10

	samplesPerRound = 3

	ntpPort = 123
)

// Sample is one accepted (offset, rtt) pair from a single SNTP round trip.
type Sample struct {
	OffsetUS int64
	RTTUS    int64
}

// Timer drives sync rounds against a single NTP server and keeps the
// attached Clock's offset smoothed via EWMA. The zero value is not usable;
// construct with New.
type Timer struct {
	clock  *clock.Clock
	server string
	logger *zap.Logger

	mu       sync.Mutex
	smoothed int64
	haveSync bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Timer that will sync clk against server (host:port, default
// port 123 if none given) once Start is called.
func New(clk *clock.Clock, server string, logger *zap.Logger) *Timer {
	return &Timer{
		clock:  clk,
		server: server,
		logger: logger,
	}
}

// Start launches the background poll loop. It returns immediately; Stop
// signals the loop to exit and waits for it to finish.
func (t *Timer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.loop(ctx)
}

// Stop signals the background loop to stop and blocks until it has joined.
func (t *Timer) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}

func (t *Timer) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(syncRoundInterval)
	defer ticker.Stop()

	// Run one round immediately rather than waiting a full interval.
	t.runRound(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runRound(ctx)
		}
	}
}

// runRound performs one sync round: three spaced samples, accept/reject by
// RTT, pick the minimum-RTT accepted sample, and apply EWMA. A round that
// accepts zero samples leaves the offset unchanged, per §4.2.
func (t *Timer) runRound(ctx context.Context) {
	var accepted []Sample

	for i := 0; i < samplesPerRound; i++ {
		sample, err := t.takeSample(ctx)
		if err != nil {
			t.logger.Warn("ntp sample rejected", zap.String("server", t.server), zap.Error(err))
		} else {
			accepted = append(accepted, sample)
		}

		if i < samplesPerRound-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(sampleSpacing):
			}
		}
	}

	if len(accepted) == 0 {
		t.logger.Warn("ntp sync round produced no accepted samples", zap.String("server", t.server))
		return
	}

	best := accepted[0]
	for _, s := range accepted[1:] {
		if s.RTTUS < best.RTTUS {
			best = s
		}
	}

	t.applyOffset(best.OffsetUS)
}

// takeSample sends one SNTP request and, if a valid reply is received within
// recvTimeout, returns the accepted (offset, rtt) sample.
func (t *Timer) takeSample(ctx context.Context) (Sample, error) {
	addr := t.server
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = fmt.Sprintf("%s:%d", t.server, ntpPort)
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return Sample{}, fmt.Errorf("dns/dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(recvTimeout)); err != nil {
		return Sample{}, fmt.Errorf("set deadline: %w", err)
	}

	sendLocal := t.clock.NowRawUS()
	if _, err := conn.Write(clientRequestBytes()); err != nil {
		return Sample{}, fmt.Errorf("send: %w", err)
	}

	resp := make([]byte, 512)
	n, err := conn.Read(resp)
	recvLocal := t.clock.NowRawUS()
	if err != nil {
		return Sample{}, fmt.Errorf("recv timeout: %w", err)
	}

	rtt := recvLocal - sendLocal
	if !acceptRTT(rtt) {
		return Sample{}, fmt.Errorf("rtt %dus exceeds %dus", rtt, maxAcceptableRTT.Microseconds())
	}

	serverTxUS, err := parseResponse(resp[:n])
	if err != nil {
		return Sample{}, err
	}

	serverAdj := serverTxUS + rtt/2
	offset := recvLocal - serverAdj

	return Sample{OffsetUS: offset, RTTUS: rtt}, nil
}

// acceptRTT implements the §4.2/§8 boundary exactly: rtt == 20_000us is
// accepted, rtt == 20_001us is rejected.
func acceptRTT(rttUS int64) bool {
	return rttUS <= maxAcceptableRTT.Microseconds()
}

// applyOffset EWMA-smooths offsetUS into the running estimate and installs
// it on the attached Clock.
func (t *Timer) applyOffset(offsetUS int64) {
	t.mu.Lock()
	if !t.haveSync {
		t.smoothed = offsetUS
		t.haveSync = true
	} else {
		t.smoothed = int64(math.Round(alpha*float64(offsetUS) + (1-alpha)*float64(t.smoothed)))
	}
	smoothed := t.smoothed
	t.mu.Unlock()

	t.clock.SetOffset(smoothed)
	t.logger.Debug("ntp offset updated", zap.Int64("offset_us", smoothed), zap.String("server", t.server))
}

// SmoothedOffset returns the current EWMA offset, for tests and diagnostics.
func (t *Timer) SmoothedOffset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.smoothed
}
