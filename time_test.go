package gosnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeComparisonLaws(t *testing.T) {
	cases := []struct {
		a, b uint32
		less bool
	}{
		{0, 0, false},
		{1, 0, false},
		{0, 1, true},
		{100, 200, true},
		{200, 100, false},
		// across the 32-bit wrap: 0xFFFFFFF0 happened just before 0x10
		{0xFFFFFFF0, 0x10, true},
		{0x10, 0xFFFFFFF0, false},
		// exactly at the overflow boundary
		{0, timeOverflow, true},
		{timeOverflow, 0, true},
	}

	for _, c := range cases {
		assert.Equal(t, c.less, timeLess(c.a, c.b), "timeLess(%#x, %#x)", c.a, c.b)
		assert.Equal(t, !c.less, timeGreaterEqual(c.a, c.b), "timeGreaterEqual(%#x, %#x)", c.a, c.b)
	}
}

func TestTimeDiff(t *testing.T) {
	assert.Equal(t, uint32(0), timeDiff(5, 5))
	assert.Equal(t, uint32(100), timeDiff(200, 100))
	assert.Equal(t, uint32(100), timeDiff(100, 200))
	// across the wrap
	assert.Equal(t, uint32(0x20), timeDiff(0x10, 0xFFFFFFF0))
	assert.Equal(t, uint32(0x20), timeDiff(0xFFFFFFF0, 0x10))
}

func TestTimeSet(t *testing.T) {
	was := TimeGet()
	defer TimeSet(was)

	TimeSet(1000000)
	now := TimeGet()
	assert.GreaterOrEqual(t, now, uint32(1000000))
	assert.Less(t, now-1000000, uint32(1000))
}

func TestSequenceWindowExactlyOneOrdering(t *testing.T) {
	// for any pair of 16-bit sequence numbers exactly one of less, equal
	// and greater holds under the half-space comparison seqLess
	check := func(a, b uint16) {
		lessAB := seqLess(a, b)
		lessBA := seqLess(b, a)
		equal := a == b
		n := 0
		if lessAB {
			n++
		}
		if lessBA {
			n++
		}
		if equal {
			n++
		}
		assert.Equal(t, 1, n, "a=%d b=%d", a, b)
	}

	pairs := [][2]uint16{
		{0, 0}, {0, 1}, {1, 0},
		{0x7FFF, 0x8000}, {0x8000, 0x7FFF},
		{0xFFFF, 0}, {0, 0xFFFF},
		{0xF000, 0x1000}, {0x1000, 0xF000},
	}
	for _, p := range pairs {
		check(p[0], p[1])
	}
}

// seqLess is a modular comparison of 16-bit sequence numbers: a precedes
// b when the distance forward from a to b is less
// than half the sequence space.
func seqLess(a, b uint16) bool {
	return a != b && b-a < 0x8000
}
