package rangecoder

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, input []byte) {
	t.Helper()

	encoder := New()
	compressed := make([]byte, len(input)*2+64)
	compressedSize := encoder.Compress([][]byte{input}, len(input), compressed)
	require.NotZero(t, compressedSize, "compression produced no output")

	decoder := New()
	output := make([]byte, len(input)+64)
	decompressedSize := decoder.Decompress(compressed[:compressedSize], output)
	require.Equal(t, len(input), decompressedSize)
	require.True(t, bytes.Equal(input, output[:decompressedSize]))
}

func TestRoundTripSmall(t *testing.T) {
	roundTrip(t, []byte{0})
	roundTrip(t, []byte{255})
	roundTrip(t, []byte("a"))
	roundTrip(t, []byte("ab"))
	roundTrip(t, []byte("hello, world"))
}

func TestRoundTripLowEntropy(t *testing.T) {
	input := bytes.Repeat([]byte("A"), 1024)
	roundTrip(t, input)

	input = bytes.Repeat([]byte("ABAB"), 512)
	roundTrip(t, input)

	input = bytes.Repeat([]byte("the quick brown fox "), 100)
	roundTrip(t, input)
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, size := range []int{1, 17, 255, 256, 1000, 1400, 4096, 16384} {
		input := make([]byte, size)
		rng.Read(input)
		roundTrip(t, input)
	}
}

func TestRoundTripAllByteValues(t *testing.T) {
	input := make([]byte, 256)
	for i := range input {
		input[i] = byte(i)
	}
	roundTrip(t, input)
}

func TestRoundTripPoolReset(t *testing.T) {
	// enough distinct contexts to exhaust the symbol pool and force the
	// hard reset, which encoder and decoder must make identically
	rng := rand.New(rand.NewSource(7))
	input := make([]byte, 16384)
	rng.Read(input)
	roundTrip(t, input)
}

func TestRoundTripMultipleBuffers(t *testing.T) {
	a := []byte("first buffer|")
	b := []byte("second buffer|")
	c := bytes.Repeat([]byte("x"), 500)
	total := len(a) + len(b) + len(c)

	encoder := New()
	compressed := make([]byte, total*2+64)
	n := encoder.Compress([][]byte{a, b, c}, total, compressed)
	require.NotZero(t, n)

	decoder := New()
	output := make([]byte, total+64)
	m := decoder.Decompress(compressed[:n], output)
	require.Equal(t, total, m)

	joined := append(append(append([]byte{}, a...), b...), c...)
	assert.Equal(t, joined, output[:m])
}

func TestCompressLowEntropyShrinks(t *testing.T) {
	input := bytes.Repeat([]byte("A"), 1024)

	encoder := New()
	compressed := make([]byte, len(input))
	n := encoder.Compress([][]byte{input}, len(input), compressed)
	require.NotZero(t, n)
	assert.Less(t, n, len(input))
}

func TestCompressEmptyInput(t *testing.T) {
	encoder := New()
	out := make([]byte, 16)
	assert.Zero(t, encoder.Compress(nil, 0, out))
	assert.Zero(t, encoder.Compress([][]byte{{}}, 0, out))
}

func TestCompressOutputTooSmall(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	input := make([]byte, 1024)
	rng.Read(input)

	encoder := New()
	out := make([]byte, 4)
	assert.Zero(t, encoder.Compress([][]byte{input}, len(input), out))
}

func TestDecompressEmptyInput(t *testing.T) {
	decoder := New()
	out := make([]byte, 16)
	assert.Zero(t, decoder.Decompress(nil, out))
}

func TestCoderReuseAcrossPackets(t *testing.T) {
	coder := New()

	for i := 0; i < 8; i++ {
		input := bytes.Repeat([]byte{byte('a' + i)}, 300+i*17)
		compressed := make([]byte, len(input)*2+64)
		n := coder.Compress([][]byte{input}, len(input), compressed)
		require.NotZero(t, n)

		output := make([]byte, len(input)+64)
		m := coder.Decompress(compressed[:n], output)
		require.Equal(t, len(input), m)
		require.Equal(t, input, output[:m])
	}
}

func BenchmarkCompress1400(b *testing.B) {
	input := bytes.Repeat([]byte("payload data "), 108)[:1400]
	coder := New()
	out := make([]byte, 4096)

	b.ReportAllocs()
	b.SetBytes(1400)
	for i := 0; i < b.N; i++ {
		if coder.Compress([][]byte{input}, len(input), out) == 0 {
			b.Fatal("compression failed")
		}
	}
}
