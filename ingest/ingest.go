// Package ingest implements RtpIngest (C5): one eye's receive-side stage
// pipeline. An Ingest owns a UDP socket for inbound RTP, depacketizes frames
// in-process using the two-byte header extension carried by the sender
// (frame id, encoder-side stage durations, and the rtp-pay wall clock), hands
// the elementary bitstream to an external GStreamer decode pipeline, and
// stamps each of the four receive-side stages into a framestats.Stats as the
// frame crosses it.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap"

	"telepresence-headset/clock"
	"telepresence-headset/frame"
)

// Extension IDs for the two-byte RTP header extension the sender embeds
// alongside each frame's RTP packets, matching the original gstreamer_player
// udpsrc identity handoff (onRtpHeaderMetadata): frame id, vidconv, enc,
// rtppay durations, and the rtppay wall-clock timestamp.
const (
	extFrameID        = 0
	extVidConv        = 1
	extEnc            = 2
	extRtpPay         = 3
	extRtpPayWallTime = 4
)

// State is the ingest pipeline's lifecycle state, mirroring GStreamer's
// Null/Ready/Playing states.
type State int32

const (
	StateNull State = iota
	StateReady
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	default:
		return "null"
	}
}

// recvBufSize bounds a single UDP datagram read; RTP payloads for 720p/1080p
// H.264 NALs comfortably fit under this.
const recvBufSize = 65536

// Ingest is one eye's receive pipeline: UDP listener, in-process RTP
// depacketizer, and an external GStreamer decode subprocess.
type Ingest struct {
	eye    string
	codec  string
	width  int
	height int

	conn *net.UDPConn
	clk  *clock.Clock
	log  *zap.Logger

	sink *frame.Buffer

	decodeCmd    *exec.Cmd
	decodeStdin  io.WriteCloser
	decodeStdout io.ReadCloser

	// pendingVidConv/pendingEnc/pendingRtpPay hold the most recently received
	// encoder-side stage durations, extracted off the wire in
	// stampStageMetadata and consumed by decodeReadLoop's RecordQueue call.
	pendingVidConv atomic.Int64
	pendingEnc     atomic.Int64
	pendingRtpPay  atomic.Int64

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New binds listenAddr for inbound RTP and prepares (but does not start) the
// decode subprocess for codec at width x height. sink receives decoded RGB
// frames and carries the per-eye framestats.Stats.
func New(eye, listenAddr, codec string, width, height int, sink *frame.Buffer, clk *clock.Clock, logger *zap.Logger) (*Ingest, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("ingest[%s]: resolve listen addr: %w", eye, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("ingest[%s]: listen: %w", eye, err)
	}

	ig := &Ingest{
		eye:    eye,
		codec:  strings.ToUpper(codec),
		width:  width,
		height: height,
		conn:   conn,
		clk:    clk,
		log:    logger.With(zap.String("eye", eye)),
		sink:   sink,
	}
	ig.state.Store(int32(StateReady))
	return ig, nil
}

// State returns the ingest pipeline's current lifecycle state.
func (ig *Ingest) State() State { return State(ig.state.Load()) }

// Start spawns the decode subprocess and the receive/decode-read goroutines.
func (ig *Ingest) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	ig.cancel = cancel

	if err := ig.startDecodeProcess(ctx); err != nil {
		cancel()
		return err
	}

	ig.state.Store(int32(StatePlaying))

	ig.wg.Add(2)
	go ig.recvLoop(ctx)
	go ig.decodeReadLoop(ctx)
	return nil
}

// Stop tears the pipeline down in reverse order: close the UDP socket to
// unblock recv, signal the decoder to exit, then wait for both loops to join.
func (ig *Ingest) Stop() {
	if ig.cancel != nil {
		ig.cancel()
	}
	ig.conn.Close()

	if ig.decodeCmd != nil && ig.decodeCmd.Process != nil {
		_ = ig.decodeCmd.Process.Signal(syscall.SIGINT)
		waitCh := make(chan error, 1)
		go func() { waitCh <- ig.decodeCmd.Wait() }()
		select {
		case <-waitCh:
		case <-time.After(3 * time.Second):
			ig.log.Warn("decode subprocess did not exit within timeout, killing")
			_ = ig.decodeCmd.Process.Kill()
		}
	}

	ig.wg.Wait()
	ig.state.Store(int32(StateNull))
}

// startDecodeProcess launches gst-launch-1.0 reading the elementary
// bitstream from stdin and writing raw RGB frames of exactly
// width*height*3 bytes to stdout, per frame.Buffer's stride convention.
func (ig *Ingest) startDecodeProcess(ctx context.Context) error {
	pipeline := ig.buildDecodePipeline()
	args := append([]string{"-q"}, strings.Fields(pipeline)...)
	ig.decodeCmd = exec.CommandContext(ctx, "gst-launch-1.0", args...)

	stdin, err := ig.decodeCmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ingest[%s]: stdin pipe: %w", ig.eye, err)
	}
	stdout, err := ig.decodeCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ingest[%s]: stdout pipe: %w", ig.eye, err)
	}
	stderr, err := ig.decodeCmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ingest[%s]: stderr pipe: %w", ig.eye, err)
	}
	ig.decodeStdin = stdin
	ig.decodeStdout = stdout

	ig.log.Info("starting decode pipeline", zap.String("pipeline", pipeline))
	if err := ig.decodeCmd.Start(); err != nil {
		return fmt.Errorf("ingest[%s]: start gstreamer: %w", ig.eye, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			ig.log.Debug("decoder stderr", zap.String("line", scanner.Text()))
		}
	}()

	return nil
}

// buildDecodePipeline constructs the fdsrc-to-fdsink decode pipeline for the
// configured codec, adapted from the capture pipeline's encoder-selection
// idiom for the receive direction.
func (ig *Ingest) buildDecodePipeline() string {
	var b strings.Builder
	b.WriteString("fdsrc fd=0")

	switch ig.codec {
	case "H264":
		b.WriteString(" ! h264parse ! avdec_h264")
	case "H265":
		b.WriteString(" ! h265parse ! avdec_h265")
	case "JPEG":
		b.WriteString(" ! jpegdec")
	default:
		ig.log.Warn("unsupported codec, falling back to H264", zap.String("codec", ig.codec))
		b.WriteString(" ! h264parse ! avdec_h264")
	}

	fmt.Fprintf(&b, " ! videoconvert ! video/x-raw,format=RGB,width=%d,height=%d ! queue ! fdsink fd=1 sync=false",
		ig.width, ig.height)
	return b.String()
}

// recvLoop reads inbound RTP packets, extracts the encoder-side stage
// metadata carried in the two-byte header extension, stamps the udpsrc
// stage, depacketizes in-process, and forwards the elementary bitstream to
// the decode subprocess.
func (ig *Ingest) recvLoop(ctx context.Context) {
	defer ig.wg.Done()

	buf := make([]byte, recvBufSize)
	for {
		n, err := ig.conn.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				ig.log.Warn("rtp recv error", zap.Error(err))
				return
			}
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			ig.log.Warn("malformed rtp packet", zap.Error(err))
			continue
		}

		now := ig.clk.NowCorrectedUS()
		ig.stampStageMetadata(pkt, now)

		payload := annexBFromNAL(pkt.Payload, ig.codec)
		if _, err := ig.decodeStdin.Write(payload); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				ig.log.Warn("decode stdin write failed", zap.Error(err))
			}
		}

		ig.sink.Stats.RecordRtpDepay(ig.clk.NowCorrectedUS())
	}
}

// stampStageMetadata records the udpsrc stage and the encoder-side stage
// durations from the packet's embedded extension fields, per the original's
// onRtpHeaderMetadata handoff. vidConv/enc/rtpPay are latched on
// pendingVidConv/pendingEnc/pendingRtpPay for decodeReadLoop's subsequent
// RecordQueue call, since they arrive well before the frame finishes
// decoding.
func (ig *Ingest) stampStageMetadata(pkt *rtp.Packet, udpSrcTS int64) {
	if id := pkt.GetExtension(extFrameID); id != nil {
		ig.sink.Stats.SetFrameID(beUint64(id))
	}
	if v := pkt.GetExtension(extVidConv); v != nil {
		ig.pendingVidConv.Store(int64(beUint64(v)))
	}
	if v := pkt.GetExtension(extEnc); v != nil {
		ig.pendingEnc.Store(int64(beUint64(v)))
	}
	if v := pkt.GetExtension(extRtpPay); v != nil {
		ig.pendingRtpPay.Store(int64(beUint64(v)))
	}
	rtpPayWallTS := int64(0)
	if ts := pkt.GetExtension(extRtpPayWallTime); ts != nil {
		rtpPayWallTS = int64(beUint64(ts))
	}
	ig.sink.Stats.RecordUDPSrc(udpSrcTS, rtpPayWallTS)
}

// decodeReadLoop reads fixed-size decoded RGB frames from the subprocess,
// stamps the decode and queue stages, and delivers the frame to the sink.
func (ig *Ingest) decodeReadLoop(ctx context.Context) {
	defer ig.wg.Done()

	frameSize := ig.width * ig.height * 3
	reader := bufio.NewReaderSize(ig.decodeStdout, frameSize)
	out := make([]byte, frameSize)

	for {
		if _, err := io.ReadFull(reader, out); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if err != io.EOF && err != io.ErrUnexpectedEOF {
					ig.log.Warn("decode stdout read error", zap.Error(err))
				}
				return
			}
		}

		ig.sink.Stats.RecordDecode(ig.clk.NowCorrectedUS())
		ig.sink.CopyFrom(out)

		ig.sink.Stats.RecordQueue(ig.clk.NowCorrectedUS(),
			ig.pendingVidConv.Load(), ig.pendingEnc.Load(), ig.pendingRtpPay.Load())
		ig.sink.Stats.RecordFrameReady(ig.clk.NowCorrectedUS())
	}
}

// annexBFromNAL prepends an Annex-B start code to an RTP-depacketized NAL
// unit so the subprocess's byte-stream parser can find access unit
// boundaries; JPEG frames pass through unmodified since motion-JPEG payloads
// are already self-delimited.
func annexBFromNAL(payload []byte, codec string) []byte {
	if codec == "JPEG" {
		return payload
	}
	out := make([]byte, 0, len(payload)+4)
	out = append(out, 0x00, 0x00, 0x00, 0x01)
	out = append(out, payload...)
	return out
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
