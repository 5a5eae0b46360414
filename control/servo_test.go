package control

import (
	"encoding/binary"
	"testing"
)

func TestRevolSign(t *testing.T) {
	if revolSign(-1) != -1 {
		t.Error("revolSign(-1) should be -1")
	}
	if revolSign(0) != 0 {
		t.Error("revolSign(0) should be 0")
	}
	if revolSign(5) != 0 {
		t.Error("revolSign(5) should be 0")
	}
}

func TestServoSegmentHeader(t *testing.T) {
	seg := servoSegment(opWrite, groupAzim, elemSpeed, []byte{0x01, 0x02, 0x03, 0x04})
	want := []byte{servoIdent1, servoIdent2, opWrite, groupAzim, elemSpeed, 0x01, 0x02, 0x03, 0x04}
	if string(seg) != string(want) {
		t.Fatalf("servoSegment = % X, want % X", seg, want)
	}
}

func TestBuildPoseAndSpeedSegmentOrderAndSwap(t *testing.T) {
	plain := buildPoseAndSpeed(10, 20, 1, 2, false)
	swapped := buildPoseAndSpeed(10, 20, 1, 2, true)

	plainDecoded := decodePoseAndSpeed(plain)
	swappedDecoded := decodePoseAndSpeed(swapped)

	if plainDecoded.AzAngle != 10 || plainDecoded.ElAngle != 20 {
		t.Fatalf("unswapped decode = %+v, want Az=10 El=20", plainDecoded)
	}
	if swappedDecoded.AzAngle != 20 || swappedDecoded.ElAngle != 10 {
		t.Fatalf("swapped decode = %+v, want Az=20 El=10", swappedDecoded)
	}
}

func TestBuildLogFieldOrder(t *testing.T) {
	body := buildLog(1, 2, 3, 4, 5, 6)
	if len(body) != 24 {
		t.Fatalf("log body length = %d, want 24", len(body))
	}
	for i, want := range []int32{1, 2, 3, 4, 5, 6} {
		if got := int32(binary.LittleEndian.Uint32(body[i*4:])); got != want {
			t.Errorf("field %d = %d, want %d", i, got, want)
		}
	}
}
