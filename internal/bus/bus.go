package bus

import "sync"

// MessageBus is the in-process message/event backbone connecting channel
// adapters, the agent loop, and the dashboard server. Inbound/outbound
// message queues are buffered channels; events fan out synchronously to
// every subscriber.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates a MessageBus with reasonably sized internal queues.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, 256),
		outbound: make(chan OutboundMessage, 256),
		handlers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues a message for the agent loop to consume.
// Never blocks forever: drops the oldest pending message if the queue is full,
// since a stalled consumer shouldn't wedge channel polling loops.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		select {
		case <-b.inbound:
		default:
		}
		b.inbound <- msg
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx contextLike) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message for channel adapters to deliver.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		select {
		case <-b.outbound:
		default:
		}
		b.outbound <- msg
	}
}

// SubscribeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx contextLike) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers a handler for broadcast events under id.
// A second Subscribe with the same id replaces the handler.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers event to every current subscriber.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// contextLike is the subset of context.Context the bus needs, avoiding an
// import cycle concern while keeping call sites free to pass a context.Context
// directly (it already satisfies this interface).
type contextLike interface {
	Done() <-chan struct{}
}
