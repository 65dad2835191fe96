package gosnet

import (
	"github.com/localrivet/gosnet/list"
	"github.com/localrivet/gosnet/protocol"
)

// channel holds the per-(peer,channel) sequencing state. Outgoing
// sequence numbers are assigned when commands are queued; the incoming
// side keeps insertion-sorted queues of commands waiting to become
// deliverable.
type channel struct {
	outgoingReliableSequenceNumber   uint16
	outgoingUnreliableSequenceNumber uint16

	// usedReliableWindows has bit w set iff reliableWindows[w] > 0;
	// reliableWindows counts the outgoing reliable commands in flight per
	// 4096-sequence window.
	usedReliableWindows uint16
	reliableWindows     [peerReliableWindows]uint16

	incomingReliableSequenceNumber   uint16
	incomingUnreliableSequenceNumber uint16

	incomingReliableCommands   list.List[*incomingCommand]
	incomingUnreliableCommands list.List[*incomingCommand]
}

func (c *channel) init() {
	c.outgoingReliableSequenceNumber = 0
	c.outgoingUnreliableSequenceNumber = 0
	c.incomingReliableSequenceNumber = 0
	c.incomingUnreliableSequenceNumber = 0
	c.incomingReliableCommands.Init()
	c.incomingUnreliableCommands.Init()
	c.usedReliableWindows = 0
	c.reliableWindows = [peerReliableWindows]uint16{}
}

// outgoingCommand is one transmitted unit: a command plus an optional
// slice of a packet's payload, with the retransmission bookkeeping for
// reliable delivery.
type outgoingCommand struct {
	link                     list.Node[*outgoingCommand]
	reliableSequenceNumber   uint16
	unreliableSequenceNumber uint16
	sentTime                 uint32
	roundTripTimeout         uint32
	roundTripTimeoutLimit    uint32
	fragmentOffset           uint32
	fragmentLength           uint16
	sendAttempts             uint16
	command                  protocol.Command
	packet                   *Packet
}

func newOutgoingCommand() *outgoingCommand {
	oc := &outgoingCommand{}
	oc.link.Value = oc
	return oc
}

// incomingCommand is the reassembly record for one received command,
// queued per channel until it becomes deliverable.
type incomingCommand struct {
	link                     list.Node[*incomingCommand]
	reliableSequenceNumber   uint16
	unreliableSequenceNumber uint16
	command                  protocol.Command
	fragmentCount            uint32
	fragmentsRemaining       uint32
	fragments                []uint32
	packet                   *Packet
}

func newIncomingCommand() *incomingCommand {
	ic := &incomingCommand{}
	ic.link.Value = ic
	return ic
}

// acknowledgement is one queued ack: the acknowledged command's header
// and the 16-bit send time to echo back.
type acknowledgement struct {
	link     list.Node[*acknowledgement]
	sentTime uint32
	command  protocol.Command
}

func newAcknowledgement() *acknowledgement {
	ack := &acknowledgement{}
	ack.link.Value = ack
	return ack
}
