// Package posemath converts head-pose quaternions into the azimuth/
// elevation pairs consumed by the servo control protocol and the robot
// control datagrams.
package posemath

import "math"

// Quat is a unit quaternion in the Y-up / -Z-forward convention used
// throughout the control plane.
type Quat struct {
	X, Y, Z, W float64
}

// QuatToAzEl converts q to (azimuth, elevation) radians for the servo
// control path. Near the poles the standard Euler extraction is singular;
// QuatToAzEl falls back to a reduced two-angle form exactly as the hardware
// calibration expects. The +0.5 rad term on the non-singular branch is a
// calibration constant, overridable via ElevationCalibrationRad.
func QuatToAzEl(q Quat, elevationCalibrationRad float64) (az, el float64) {
	s := q.X*q.Y + q.Z*q.W
	switch {
	case s > 0.499:
		return 2 * math.Atan2(q.X, q.W), 0
	case s < -0.499:
		return -2 * math.Atan2(q.X, q.W), 0
	}

	az = math.Atan2(2*(q.Y*q.W-q.X*q.Z), 1-2*(q.Y*q.Y+q.Z*q.Z))
	el = math.Atan2(2*(q.X*q.W-q.Y*q.Z), 1-2*(q.X*q.X+q.Z*q.Z)) + elevationCalibrationRad
	return az, el
}

// QuatToAzElGimbalSafe converts q to (azimuth, elevation) using the
// arcsin-based extraction used by the robot-control datagram path, which
// clamps cleanly at the gimbal-lock boundary instead of branching to a
// reduced form.
func QuatToAzElGimbalSafe(q Quat) (az, el float64) {
	sinp := 2 * (q.W*q.X - q.Z*q.Y)
	if math.Abs(sinp) >= 1 {
		el = math.Copysign(math.Pi/2, sinp)
		az = math.Atan2(-2*q.X*q.Z, 1-2*(q.X*q.X+q.Y*q.Y))
		return NormalizeAngle(az), NormalizeAngle(el)
	}
	el = math.Asin(sinp)
	az = math.Atan2(2*(q.W*q.Y+q.Z*q.X), 1-2*(q.X*q.X+q.Y*q.Y))
	return NormalizeAngle(az), NormalizeAngle(el)
}

// NormalizeAngle wraps a radian angle into [-pi, pi].
func NormalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
