package motion

import "math"

// DefaultInterruptsPerSec is the stepper firmware's motion interrupt rate.
const DefaultInterruptsPerSec = 100000

// DefaultBrushedInterruptsPerSec is the brushed (gripper) motor timer rate.
const DefaultBrushedInterruptsPerSec = 32000

const fixedPointScale = 1 << 31

// VelocityWire converts mm/s into the firmware's per-tick fixed point
// representation.
func VelocityWire(mmPerSec float64, interruptsPerSec float64) int32 {
	return int32(math.Round(mmPerSec / interruptsPerSec * fixedPointScale))
}

// DurationWire converts seconds into firmware ticks.
func DurationWire(sec float64, interruptsPerSec float64) uint32 {
	return uint32(math.Round(sec * interruptsPerSec))
}

// AccelerationWire converts mm/s^2 into um per tick^2 in fixed point.
func AccelerationWire(mmPerSec2 float64, interruptsPerSec float64) int32 {
	return int32(math.Round(mmPerSec2 * 1000 / (interruptsPerSec * interruptsPerSec) * fixedPointScale))
}

// VelocityFromWire is the inverse of VelocityWire.
func VelocityFromWire(v int32, interruptsPerSec float64) float64 {
	return float64(v) / fixedPointScale * interruptsPerSec
}

// DurationFromWire is the inverse of DurationWire.
func DurationFromWire(ticks uint32, interruptsPerSec float64) float64 {
	return float64(ticks) / interruptsPerSec
}

// AccelerationFromWire is the inverse of AccelerationWire, in mm/s^2.
func AccelerationFromWire(a int32, interruptsPerSec float64) float64 {
	return float64(a) / fixedPointScale * interruptsPerSec * interruptsPerSec / 1000
}
