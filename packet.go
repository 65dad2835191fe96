package gosnet

// PacketFlag values control how a packet is delivered and who owns its
// buffer.
type PacketFlag uint32

const (
	// PacketFlagReliable requests delivery with retransmission until
	// acknowledged.
	PacketFlagReliable PacketFlag = 1 << 0

	// PacketFlagUnsequenced sends the packet outside channel sequencing.
	// Not supported together with PacketFlagReliable.
	PacketFlagUnsequenced PacketFlag = 1 << 1

	// PacketFlagNoAllocate makes the packet borrow the caller's buffer
	// instead of copying it. The caller must not mutate the buffer while
	// the packet is queued.
	PacketFlagNoAllocate PacketFlag = 1 << 2

	// PacketFlagUnreliableFragment fragments an oversized packet with
	// unreliable instead of reliable sends.
	PacketFlagUnreliableFragment PacketFlag = 1 << 3

	// PacketFlagSent is set by the engine once the packet has left every
	// queue it was entered into.
	PacketFlagSent PacketFlag = 1 << 8
)

// Packet is one application message, sent to or received from a peer.
// Data and Flags should be treated as read-only once the packet has been
// handed to the engine. A packet received from an event belongs to the
// application and should be released with Destroy when done.
type Packet struct {
	referenceCount int
	// Flags is a bitwise-or of PacketFlag values.
	Flags PacketFlag
	// Data is the packet payload.
	Data []byte
	// FreeCallback, if set, runs when the packet is destroyed.
	FreeCallback func(*Packet)
	// UserData is application private data, freely modifiable.
	UserData interface{}
}

// NewPacket creates a packet carrying data. Unless PacketFlagNoAllocate
// is set the data is copied; with the flag the packet borrows the
// caller's buffer.
func NewPacket(data []byte, flags PacketFlag) *Packet {
	packet := &Packet{Flags: flags}
	if flags&PacketFlagNoAllocate != 0 {
		packet.Data = data
	} else if len(data) > 0 {
		packet.Data = make([]byte, len(data))
		copy(packet.Data, data)
	}
	return packet
}

// NewPacketSize creates a packet with an owned, zeroed payload of the
// given size.
func NewPacketSize(size int, flags PacketFlag) *Packet {
	packet := &Packet{Flags: flags}
	if size > 0 {
		packet.Data = make([]byte, size)
	}
	return packet
}

// Destroy releases the packet, invoking its free callback. After Destroy
// the packet must not be used.
func (p *Packet) Destroy() {
	if p == nil {
		return
	}
	if p.FreeCallback != nil {
		p.FreeCallback(p)
	}
	p.Data = nil
}

// Resize changes the packet's payload length. Shrinking truncates in
// place; growing an owned packet reallocates and copies. A borrowed
// packet can only grow within its buffer's capacity.
func (p *Packet) Resize(length int) error {
	if length <= len(p.Data) {
		p.Data = p.Data[:length]
		return nil
	}
	if p.Flags&PacketFlagNoAllocate != 0 {
		if length <= cap(p.Data) {
			p.Data = p.Data[:length]
			return nil
		}
		return ErrPacketBorrowed
	}
	newData := make([]byte, length)
	copy(newData, p.Data)
	p.Data = newData
	return nil
}

// release drops one engine reference and destroys the packet when the
// last one goes away.
func (p *Packet) release() {
	p.referenceCount--
	if p.referenceCount == 0 {
		p.Destroy()
	}
}

// releaseSent is release for packets leaving a send queue: the sent flag
// is recorded before a final destroy.
func (p *Packet) releaseSent() {
	p.referenceCount--
	if p.referenceCount == 0 {
		p.Flags |= PacketFlagSent
		p.Destroy()
	}
}
