package core

import "github.com/google/uuid"

type EventRelayDestination int

const (
	EventRelayDestinationNextService EventRelayDestination = iota + 1 // Pass to the next handler in the chain.
	EventRelayDestinationTopService                                   // Re-enter the chain at the first handler so every stage observes it.
)

type EventPacket struct {
	Event       IEvent
	Destination EventRelayDestination
	Uid         string // Unique identifier for tracking the event packet.
	Relayer     string // Name of the handler that emitted the packet.
}

func NewEventPacket(event IEvent, destination EventRelayDestination, relayer string) *EventPacket {
	return &EventPacket{
		Event:       event,
		Destination: destination,
		Uid:         uuid.NewString(),
		Relayer:     relayer,
	}
}

// Forward returns a copy headed to the next handler. Used when a top packet
// re-enters the chain.
func (p *EventPacket) Forward() *EventPacket {
	return &EventPacket{
		Event:       p.Event,
		Destination: EventRelayDestinationNextService,
		Uid:         p.Uid,
		Relayer:     p.Relayer,
	}
}
