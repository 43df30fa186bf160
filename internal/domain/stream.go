package domain

import "time"

// MessageKind discriminates stream messages delivered to subscribers.
type MessageKind int

const (
	// KindEvent carries a ThreatEvent.
	KindEvent MessageKind = iota
	// KindKeepAlive is an idle-channel heartbeat with no payload.
	KindKeepAlive
)

// StreamMessage is one message on a subscription's outbound channel.
type StreamMessage struct {
	Kind  MessageKind
	Event *ThreatEvent
}

// Subscription is one connected live-stream consumer. It is created by the
// broadcaster and destroyed on unsubscribe or send failure; the consumer owns
// only the receive side of C.
type Subscription struct {
	ID          string
	ConnectedAt time.Time
	C           <-chan StreamMessage
}
