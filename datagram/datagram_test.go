package datagram

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"telepresence-headset/clock"
)

// listenUDP starts a local UDP listener and returns its address and a
// channel that receives each packet read from it.
func listenUDP(t *testing.T) (string, chan []byte) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	out := make(chan []byte, 8)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			out <- pkt
		}
	}()
	return conn.LocalAddr().String(), out
}

func TestHeadPoseWireBytesS6(t *testing.T) {
	addr, recv := listenUDP(t)

	clk := clock.New()
	// Offset the clock so the timestamp field starts at the S6 value,
	// ts = 0x0123456789ABCDEF. The clock keeps running, so the ts in the
	// packet is that value plus the microseconds elapsed since base.
	const s6TS = 0x0123456789ABCDEF
	base := clk.NowRawUS()
	clk.SetOffset(base - s6TS)

	s, err := New(addr, clk, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.SendHeadPose(1.0, -0.5, 0.25)

	select {
	case pkt := <-recv:
		elapsed := clk.NowRawUS() - base
		want := []byte{
			0x01,
			0x00, 0x00, 0x80, 0x3F, // 1.0
			0x00, 0x00, 0x00, 0xBF, // -0.5
			0x00, 0x00, 0x80, 0x3E, // 0.25
		}
		if len(pkt) != packetSize {
			t.Fatalf("packet length = %d, want %d", len(pkt), packetSize)
		}
		if string(pkt[:13]) != string(want) {
			t.Fatalf("packet bytes = % X, want % X", pkt[:13], want)
		}
		// Little-endian ts: S6's EF CD AB 89 67 45 23 01 when no time elapses.
		if ts := int64(binary.LittleEndian.Uint64(pkt[13:21])); ts < s6TS || ts > s6TS+elapsed {
			t.Fatalf("ts = %#x, want little-endian value in [%#x, %#x]", ts, s6TS, s6TS+elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for head-pose datagram")
	}
}

func TestRobotControlPacketSizeAndType(t *testing.T) {
	addr, recv := listenUDP(t)
	s, err := New(addr, clock.New(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.SendRobotControl(0.1, 0.2, 0.3)

	select {
	case pkt := <-recv:
		if len(pkt) != 21 {
			t.Fatalf("robot control packet length = %d, want 21", len(pkt))
		}
		if pkt[0] != MsgRobotControl {
			t.Fatalf("type byte = 0x%02X, want 0x%02X", pkt[0], MsgRobotControl)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for robot-control datagram")
	}
}
