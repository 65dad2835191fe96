package gosnet

// EventType identifies what Service or CheckEvents observed.
type EventType int

const (
	// EventNone means no event occurred within the time limit.
	EventNone EventType = iota

	// EventConnect reports a completed connection. Peer is the peer that
	// connected; Data carries the user data from the initiator.
	EventConnect

	// EventDisconnect reports a closed or timed-out connection. Data
	// carries the disconnect data, or 0 on timeout.
	EventDisconnect

	// EventReceive reports an arrived packet. The packet belongs to the
	// application and must be released with Packet.Destroy after use.
	EventReceive
)

// Event is one occurrence reported by Service or CheckEvents.
type Event struct {
	Type      EventType
	Peer      *Peer
	ChannelID uint8
	Data      uint32
	Packet    *Packet
}

// reset clears the event for reuse at the top of a service pass.
func (e *Event) reset() {
	e.Type = EventNone
	e.Peer = nil
	e.ChannelID = 0
	e.Data = 0
	e.Packet = nil
}
