package agent

import "context"

// InboundMessage is one user message entering the assistant. Synthetic
// messages (scheduled or system-injected) are processed like any other
// turn but produce no outbound reply.
type InboundMessage struct {
	SessionID string
	Content   string
	Synthetic bool
}

// OutboundMessage is one assistant reply leaving the assistant.
type OutboundMessage struct {
	SessionID string
	Content   string
}

const busBuffer = 100

// Bus decouples frontends (CLI, future transports) from the assistant loop
// with buffered channels in each direction.
type Bus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewBus creates a bus with default buffering.
func NewBus() *Bus {
	return &Bus{
		inbound:  make(chan InboundMessage, busBuffer),
		outbound: make(chan OutboundMessage, busBuffer),
	}
}

// Send enqueues a user message, giving up when ctx is done.
func (b *Bus) Send(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish enqueues an assistant reply, giving up when ctx is done.
func (b *Bus) Publish(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbound is the channel the assistant loop consumes.
func (b *Bus) Inbound() <-chan InboundMessage {
	return b.inbound
}

// Outbound is the channel frontends consume.
func (b *Bus) Outbound() <-chan OutboundMessage {
	return b.outbound
}
