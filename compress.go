package gosnet

import "github.com/localrivet/gosnet/rangecoder"

// CompressWithRangeCoder enables datagram compression with the built-in
// adaptive PPM range coder. Both sides of every connection on this host
// must enable the same compressor.
func (h *Host) CompressWithRangeCoder() {
	h.Compress(rangecoder.New())
}

var _ Compressor = (*rangecoder.RangeCoder)(nil)
