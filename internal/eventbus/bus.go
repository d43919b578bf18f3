package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle topics published by core services. Plugins subscribe for
// cross-cutting signals that are not room events (those go through the
// pipeline dispatcher instead).
const (
	TopicGatewayConnected    = "gateway.connected"
	TopicGatewayDisconnected = "gateway.disconnected"
	TopicConfigUpdated       = "config.updated"
	TopicPluginStarted       = "plugin.started"
	TopicPluginStopped       = "plugin.stopped"
	TopicPluginFailed        = "plugin.failed"
	TopicGoalReached         = "goal.reached"
)

// GatewayState is the Data payload for the gateway.* topics.
type GatewayState struct {
	Room    string `json:"room"`
	Attempt int    `json:"attempt,omitempty"`
	Err     string `json:"err,omitempty"`
}

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot the subscriber list; no lock is held during sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Drop on a full buffer. A concurrent Unsubscribe may close the
		// channel between snapshot and send; the recover absorbs that.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
