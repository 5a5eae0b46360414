package control

import "encoding/binary"

// Servo command wire constants, §6.3.
const (
	servoIdent1 = 0x47
	servoIdent2 = 0x54

	opRead            = 0x01
	opWrite           = 0x02
	opWriteContinuous = 0x04

	groupEnableEl = 0x11
	groupEnableAz = 0x12
	groupElev     = 0x19
	groupAzim     = 0x1A

	elemEnable       = 0x00
	elemAcceleration = 0x00
	elemDeceleration = 0x01
	elemAngle        = 0x04
	elemSpeed        = 0x07
	elemMode         = 0x09
)

// MsgServoCommand, MsgLog, and MsgEmpty are the one-byte outbound message
// type prefixes defined in §6.3.
const (
	MsgServoCommand byte = 0x01
	MsgLog          byte = 0x02
	MsgEmpty        byte = 0x03
)

// servoSegment builds one `[IDENT1][IDENT2][op][group][elem]{payload}`
// segment of a servo command body.
func servoSegment(op, group, elem byte, payload []byte) []byte {
	out := make([]byte, 0, 5+len(payload))
	out = append(out, servoIdent1, servoIdent2, op, group, elem)
	out = append(out, payload...)
	return out
}

func leInt32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

// revolSign returns -1 if v < 0, else 0, per §4.6 step 6.
func revolSign(v int32) int32 {
	if v < 0 {
		return -1
	}
	return 0
}

// segAngleContinuous writes an angle+revolution-sign pair via
// WRITE_CONTINUOUS, matching the "write az/el angle+revol continuous"
// segments of the pose-and-speed packet.
func segAngleContinuous(group byte, angle int32) []byte {
	payload := append(leInt32(angle), leInt32(revolSign(angle))...)
	return servoSegment(opWriteContinuous, group, elemAngle, payload)
}

// segSpeed writes a speed value.
func segSpeed(group byte, speed int32) []byte {
	return servoSegment(opWrite, group, elemSpeed, leInt32(speed))
}

// segEnable writes a one-byte enable flag.
func segEnable(group byte, enable bool) []byte {
	v := byte(0)
	if enable {
		v = 1
	}
	return servoSegment(opWrite, group, elemEnable, []byte{v})
}

// segEnableServos builds the two enable-servo segments (az, el).
func segEnableServos(enable bool) []byte {
	out := append([]byte{}, segEnable(groupEnableAz, enable)...)
	out = append(out, segEnable(groupEnableEl, enable)...)
	return out
}

// segResetErrors issues a mode write that clears fault state on both axes.
func segResetErrors() []byte {
	out := append([]byte{}, servoSegment(opWrite, groupAzim, elemMode, []byte{0x00})...)
	out = append(out, servoSegment(opWrite, groupElev, elemMode, []byte{0x00})...)
	return out
}

// segSetMode issues a mode-write segment for both axes.
func segSetMode(mode byte) []byte {
	out := append([]byte{}, servoSegment(opWrite, groupAzim, elemMode, []byte{mode})...)
	out = append(out, servoSegment(opWrite, groupElev, elemMode, []byte{mode})...)
	return out
}

// buildPoseAndSpeed concatenates the six servo-command segments that make up
// one SET_POSE_AND_SPEED task, in the order az angle+revol, el angle+revol,
// az speed, el speed, az enable=1, el enable=1. If axesSwapped, the az/el
// angle+revol segments are swapped before the rest.
func buildPoseAndSpeed(azAngle, elAngle, azSpeed, elSpeed int32, axesSwapped bool) []byte {
	azSeg := segAngleContinuous(groupAzim, azAngle)
	elSeg := segAngleContinuous(groupElev, elAngle)
	if axesSwapped {
		azSeg, elSeg = elSeg, azSeg
	}

	out := append([]byte{}, azSeg...)
	out = append(out, elSeg...)
	out = append(out, segSpeed(groupAzim, azSpeed)...)
	out = append(out, segSpeed(groupElev, elSpeed)...)
	out = append(out, segEnable(groupEnableAz, true)...)
	out = append(out, segEnable(groupEnableEl, true)...)
	return out
}

// decodedPoseAndSpeed is the round-trip decode of buildPoseAndSpeed, used to
// verify invariant 10 (encode/decode identity).
type decodedPoseAndSpeed struct {
	AzAngle, ElAngle int32
	AzSpeed, ElSpeed int32
}

// decodePoseAndSpeed parses a packet produced by buildPoseAndSpeed. Segment
// layout is fixed (6 segments, each 5-byte header + payload), so this is a
// straight positional decode.
func decodePoseAndSpeed(b []byte) decodedPoseAndSpeed {
	const headerLen = 5
	const angleSegLen = headerLen + 8
	const speedSegLen = headerLen + 4

	off := 0
	azAngle := int32(binary.LittleEndian.Uint32(b[off+headerLen : off+headerLen+4]))
	off += angleSegLen
	elAngle := int32(binary.LittleEndian.Uint32(b[off+headerLen : off+headerLen+4]))
	off += angleSegLen
	azSpeed := int32(binary.LittleEndian.Uint32(b[off+headerLen : off+headerLen+4]))
	off += speedSegLen
	elSpeed := int32(binary.LittleEndian.Uint32(b[off+headerLen : off+headerLen+4]))

	return decodedPoseAndSpeed{AzAngle: azAngle, ElAngle: elAngle, AzSpeed: azSpeed, ElSpeed: elSpeed}
}

// buildLog serializes the six latency fields as the 0x02 LOG message body:
// vidconv, enc, rtppay, udp, rtpdepay, dec, each i32 LE.
func buildLog(vidConv, enc, rtpPay, udp, rtpDepay, dec int32) []byte {
	out := make([]byte, 0, 24)
	for _, v := range []int32{vidConv, enc, rtpPay, udp, rtpDepay, dec} {
		out = append(out, leInt32(v)...)
	}
	return out
}
