package gosnet

import "time"

// timeOverflow is the comparison horizon of the 32-bit millisecond clock:
// one day. Two timestamps compare correctly as long as they are less than
// this far apart.
const timeOverflow = 86400000

var (
	timeOrigin = time.Now()
	timeOffset uint32
)

// TimeGet returns the engine's wall-time in milliseconds. Its initial
// value is unspecified unless set with TimeSet.
func TimeGet() uint32 {
	return uint32(time.Since(timeOrigin)/time.Millisecond) + timeOffset
}

// TimeSet rebases the engine's millisecond clock so that TimeGet returns
// ms now.
func TimeSet(ms uint32) {
	timeOffset = 0
	timeOffset = ms - TimeGet()
}

// timeLess reports a < b under the wrapping clock.
func timeLess(a, b uint32) bool { return a-b >= timeOverflow }

// timeGreaterEqual reports a >= b under the wrapping clock.
func timeGreaterEqual(a, b uint32) bool { return !timeLess(a, b) }

// timeDiff returns the absolute distance between two timestamps.
func timeDiff(a, b uint32) uint32 {
	if a-b >= timeOverflow {
		return b - a
	}
	return a - b
}
