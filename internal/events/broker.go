package events

import (
	"sync"
)

// Topics served by the relay.
const (
	TopicAnnotations = "annotations"
	TopicComments    = "comments"
)

// Event is one named message pushed to subscribers. Payload is encoded as the
// SSE data line and is expected to carry its own "type" field.
type Event struct {
	Name    string
	Payload any
}

type subscriber struct {
	id    int64
	topic string
	ch    chan Event
}

// Broker fans events out to every subscriber of a topic. Publishing never
// blocks: a subscriber that falls behind loses its oldest buffered event.
type Broker struct {
	mu          sync.RWMutex
	closed      bool
	nextID      int64
	bufferSize  int
	subscribers map[int64]subscriber
}

func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broker{
		bufferSize:  bufferSize,
		subscribers: make(map[int64]subscriber),
	}
}

// Subscribe registers a subscriber for topic. The returned cancel func removes
// it and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	sub := subscriber{id: b.nextID, topic: topic, ch: ch}
	b.subscribers[sub.id] = sub
	return ch, func() {
		b.unsubscribe(sub.id)
	}
}

// Publish delivers event to all subscribers of topic and returns how many
// accepted it.
func (b *Broker) Publish(topic string, event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}

	delivered := 0
	for _, sub := range b.subscribers {
		if sub.topic != topic {
			continue
		}
		if tryPublish(sub.ch, event) {
			delivered++
		}
	}
	return delivered
}

// Subscribers reports the number of live subscribers on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subscribers {
		if sub.topic == topic {
			n++
		}
	}
	return n
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

func (b *Broker) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
}

func tryPublish(ch chan Event, event Event) bool {
	select {
	case ch <- event:
		return true
	default:
		// Drop one stale event and retry once so fan-out never blocks.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
			return true
		default:
			return false
		}
	}
}
