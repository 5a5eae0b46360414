package ingest

import (
	"context"
	"encoding/binary"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap/zaptest"

	"telepresence-headset/clock"
	"telepresence-headset/frame"
)

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func TestBeUint64RoundTrip(t *testing.T) {
	if got := beUint64(beBytes(0x0102030405060708)); got != 0x0102030405060708 {
		t.Fatalf("beUint64 = %x, want 0x0102030405060708", got)
	}
}

func TestAnnexBFromNALPrependsStartCode(t *testing.T) {
	out := annexBFromNAL([]byte{0xAA, 0xBB}, "H264")
	want := []byte{0x00, 0x00, 0x00, 0x01, 0xAA, 0xBB}
	if string(out) != string(want) {
		t.Fatalf("annexBFromNAL = % X, want % X", out, want)
	}
}

func TestAnnexBFromNALPassesThroughJPEG(t *testing.T) {
	out := annexBFromNAL([]byte{0xAA, 0xBB}, "JPEG")
	if string(out) != string([]byte{0xAA, 0xBB}) {
		t.Fatalf("JPEG payload should pass through unmodified, got % X", out)
	}
}

func TestBuildDecodePipelineSelectsParserByCodec(t *testing.T) {
	ig := &Ingest{codec: "H265", width: 1280, height: 720, log: zaptest.NewLogger(t)}
	p := ig.buildDecodePipeline()
	if !strings.Contains(p, "h265parse") || !strings.Contains(p, "avdec_h265") {
		t.Fatalf("pipeline = %q, want h265parse/avdec_h265", p)
	}
	if !strings.Contains(p, "width=1280,height=720") {
		t.Fatalf("pipeline = %q, missing caps", p)
	}
}

func TestStampStageMetadataRecordsFrameIDAndUDPStream(t *testing.T) {
	ig := &Ingest{
		sink: frame.NewBuffer(4, 4),
		clk:  clock.New(),
		log:  zaptest.NewLogger(t),
	}

	pkt := &rtp.Packet{}
	if err := pkt.SetExtension(extFrameID, beBytes(42)); err != nil {
		t.Fatalf("SetExtension frameID: %v", err)
	}
	if err := pkt.SetExtension(extVidConv, beBytes(3000)); err != nil {
		t.Fatalf("SetExtension vidConv: %v", err)
	}
	if err := pkt.SetExtension(extEnc, beBytes(8000)); err != nil {
		t.Fatalf("SetExtension enc: %v", err)
	}
	if err := pkt.SetExtension(extRtpPay, beBytes(1000)); err != nil {
		t.Fatalf("SetExtension rtpPay: %v", err)
	}
	if err := pkt.SetExtension(extRtpPayWallTime, beBytes(1_000_000_000)); err != nil {
		t.Fatalf("SetExtension wall time: %v", err)
	}

	ig.stampStageMetadata(pkt, 1_000_007_000)

	snap := ig.sink.Stats.Snapshot()
	if snap.FrameID != 42 {
		t.Errorf("FrameID = %d, want 42", snap.FrameID)
	}
	if snap.UDPStream != 7000 {
		t.Errorf("UDPStream = %d, want 7000", snap.UDPStream)
	}
	if snap.UDPSrcTS != 1_000_007_000 {
		t.Errorf("UDPSrcTS = %d, want 1000007000", snap.UDPSrcTS)
	}
	if snap.RtpPayTS != 1_000_000_000 {
		t.Errorf("RtpPayTS = %d, want 1000000000", snap.RtpPayTS)
	}
	if got := ig.pendingVidConv.Load(); got != 3000 {
		t.Errorf("pendingVidConv = %d, want 3000", got)
	}
	if got := ig.pendingEnc.Load(); got != 8000 {
		t.Errorf("pendingEnc = %d, want 8000", got)
	}
	if got := ig.pendingRtpPay.Load(); got != 1000 {
		t.Errorf("pendingRtpPay = %d, want 1000", got)
	}
}

// TestDecodeReadLoopAppliesStageExtensionsToQueueLatency round-trips a
// packet carrying the vidConv/enc/rtpPay extensions through stampStageMetadata
// and a decoded frame through decodeReadLoop, and checks that RecordQueue is
// called with the extracted values rather than a stale (always-zero)
// Stats snapshot.
func TestDecodeReadLoopAppliesStageExtensionsToQueueLatency(t *testing.T) {
	ig := &Ingest{
		width:  1,
		height: 1,
		sink:   frame.NewBuffer(1, 1),
		clk:    clock.New(),
		log:    zaptest.NewLogger(t),
	}

	pkt := &rtp.Packet{}
	if err := pkt.SetExtension(extVidConv, beBytes(3000)); err != nil {
		t.Fatalf("SetExtension vidConv: %v", err)
	}
	if err := pkt.SetExtension(extEnc, beBytes(8000)); err != nil {
		t.Fatalf("SetExtension enc: %v", err)
	}
	if err := pkt.SetExtension(extRtpPay, beBytes(1000)); err != nil {
		t.Fatalf("SetExtension rtpPay: %v", err)
	}
	ig.stampStageMetadata(pkt, ig.clk.NowCorrectedUS())
	ig.sink.Stats.RecordRtpDepay(ig.clk.NowCorrectedUS())

	pr, pw := io.Pipe()
	ig.decodeStdout = pr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	ig.wg.Add(1)
	go func() {
		ig.decodeReadLoop(ctx)
		close(done)
	}()

	if _, err := pw.Write([]byte{0xAA, 0xBB, 0xCC}); err != nil {
		t.Fatalf("write decoded frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ig.sink.Stats.Snapshot().VidConv == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for decodeReadLoop to record the queue stage")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	pw.Close()
	<-done

	snap := ig.sink.Stats.Snapshot()
	if snap.VidConv != 3000 {
		t.Errorf("VidConv = %d, want 3000", snap.VidConv)
	}
	if snap.Enc != 8000 {
		t.Errorf("Enc = %d, want 8000", snap.Enc)
	}
	if snap.RtpPay != 1000 {
		t.Errorf("RtpPay = %d, want 1000", snap.RtpPay)
	}
	if snap.TotalLatency != snap.VidConv+snap.Enc+snap.RtpPay+snap.UDPStream+snap.RtpDepay+snap.Dec+snap.Queue {
		t.Errorf("TotalLatency = %d, want sum of stage durations", snap.TotalLatency)
	}
}

func TestStateStringers(t *testing.T) {
	cases := map[State]string{StateNull: "null", StateReady: "ready", StatePlaying: "playing"}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
