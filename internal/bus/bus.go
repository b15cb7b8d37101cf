// Package bus fans status events out to in-process subscribers and,
// optionally, mirrors them onto a NATS subject so external consumers can
// follow a run without holding a WebSocket open.
package bus

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/aqilrvsb/UNMASK-TIK/internal/events"
)

// Bus delivers each published event to every current subscriber.
// Delivery is best-effort: a subscriber with a full buffer is skipped rather
// than blocking the publisher, and there is no replay for late attachers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan events.Event
	nextID  int
	nc      *nats.Conn
	subject string
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan events.Event)}
}

// AttachNATS mirrors every published event onto subject. Publish failures
// are logged and ignored; the run never stalls on the mirror.
func (b *Bus) AttachNATS(nc *nats.Conn, subject string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nc = nc
	b.subject = subject
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// func detaches and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan events.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan events.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish never blocks and never returns an error to the caller.
func (b *Bus) Publish(evt events.Event) {
	b.mu.RLock()
	nc, subject := b.nc, b.subject
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber is not keeping up; drop rather than stall the run.
		}
	}
	b.mu.RUnlock()

	if nc != nil {
		data, err := json.Marshal(evt)
		if err != nil {
			log.Printf("⚠️ Event marshal failed: %v", err)
			return
		}
		if err := nc.Publish(subject, data); err != nil {
			log.Printf("⚠️ NATS publish failed: %v", err)
		}
	}
}
