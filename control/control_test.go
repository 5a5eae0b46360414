package control

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"telepresence-headset/clock"
	"telepresence-headset/framestats"
	"telepresence-headset/posemath"
)

func newTestLink(t *testing.T) (*Link, *net.UDPConn) {
	t.Helper()
	l, err := New("127.0.0.1:0", clock.New(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	t.Cleanup(func() {
		cancel()
		l.Stop()
	})

	peer, err := net.DialUDP("udp", nil, l.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	return l, peer
}

func poll(t *testing.T, peer *net.UDPConn, payload []byte) []byte {
	t.Helper()
	if _, err := peer.Write(payload); err != nil {
		t.Fatalf("poll write: %v", err)
	}
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("poll read: %v", err)
	}
	return buf[:n]
}

func TestPollWithEmptyQueueRepliesEmptyFrame(t *testing.T) {
	_, peer := newTestLink(t)
	reply := poll(t, peer, nil)
	if len(reply) != 1 || reply[0] != MsgEmpty {
		t.Fatalf("reply = % X, want [0x03]", reply)
	}
}

func TestPollAlwaysRepliesExactlyOnce(t *testing.T) {
	l, peer := newTestLink(t)
	l.EnableServos(true)

	reply := poll(t, peer, nil)
	if len(reply) == 0 {
		t.Fatal("expected a non-empty reply")
	}
	if reply[0] != MsgServoCommand {
		t.Fatalf("reply[0] = 0x%02X, want MsgServoCommand", reply[0])
	}

	// Second poll with an empty queue must get the empty frame, not a
	// leftover/duplicate of the first reply.
	reply2 := poll(t, peer, nil)
	if len(reply2) != 1 || reply2[0] != MsgEmpty {
		t.Fatalf("second reply = % X, want [0x03]", reply2)
	}
}

func TestPriorityCollapseS2(t *testing.T) {
	l, peer := newTestLink(t)

	l.SetFrameLatency(framestats.Snapshot{})
	l.EnableServos(true)
	l.SetPoseAndSpeed(posemath.Quat{X: 0.1, Y: 0, Z: 0, W: 1}, 100)
	l.SetPoseAndSpeed(posemath.Quat{X: 0.2, Y: 0, Z: 0, W: 1}, 200)

	reply := poll(t, peer, nil)
	if reply[0] != MsgServoCommand {
		t.Fatalf("reply type = 0x%02X, want MsgServoCommand (pose wins priority)", reply[0])
	}

	// enable_servos must still be queued behind the pose task.
	reply2 := poll(t, peer, nil)
	if reply2[0] != MsgServoCommand {
		t.Fatalf("expected enable_servos still queued, got type 0x%02X", reply2[0])
	}

	// The frame-latency task, lowest priority, is the last one left.
	reply3 := poll(t, peer, nil)
	if len(reply3) != 25 || reply3[0] != MsgLog {
		t.Fatalf("expected the queued frame-latency LOG reply, got % X", reply3)
	}
}

func TestInboundJSONUpdatesHUD(t *testing.T) {
	l, peer := newTestLink(t)

	msg := []byte(`{"notification":{"title":"t","message":"m","severity":"warn"}}`)
	poll(t, peer, msg)

	time.Sleep(50 * time.Millisecond)
	hud := l.HUD().Snapshot()
	if hud.NotifTitle != "t" || hud.NotifMessage != "m" || hud.NotifSeverity != "warn" {
		t.Fatalf("HUD not updated from inbound JSON: %+v", hud)
	}
}

func TestPoseAndSpeedRoundTrip(t *testing.T) {
	l, err := New("127.0.0.1:0", clock.New(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.conn.Close()

	l.SetPoseAndSpeed(posemath.Quat{X: 0, Y: 0, Z: 0, W: 1}, 12345)
	payload, ok := l.queue.pop()
	if !ok {
		t.Fatal("expected a queued pose-and-speed task")
	}
	if payload[0] != MsgServoCommand {
		t.Fatalf("payload[0] = 0x%02X, want MsgServoCommand", payload[0])
	}

	decoded := decodePoseAndSpeed(payload[1:])
	if decoded.AzSpeed != 12345 || decoded.ElSpeed != 12345 {
		t.Fatalf("decoded speeds = (%d, %d), want (12345, 12345)", decoded.AzSpeed, decoded.ElSpeed)
	}

	// Re-encoding the decoded angle/speed values must reproduce the exact
	// same bytes, confirming the wire format round-trips.
	reencoded := append([]byte{MsgServoCommand}, buildPoseAndSpeed(
		decoded.AzAngle, decoded.ElAngle, decoded.AzSpeed, decoded.ElSpeed, false,
	)...)
	if string(reencoded) != string(payload) {
		t.Fatalf("round trip mismatch:\n got  % X\n want % X", reencoded, payload)
	}
}
