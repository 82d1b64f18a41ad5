// Package broker fans engine events out to any number of subscribers —
// the admin HTTP feed, the hot-key detector — without any of them
// touching the store, WAL, or cluster relay directly.
package broker

import (
	"sync"
	"time"

	"github.com/mickamy/kvrelay/command"
	"github.com/mickamy/kvrelay/resp"
)

// Event is a single command's outcome, reported after the store has
// already executed it. It is informational only: nothing downstream of
// a subscriber can affect the command's result.
type Event struct {
	Seq      uint64
	Time     time.Time
	ConnID   string
	Op       command.Op
	Key      string
	Value    string // only meaningful for set
	Mutated  bool
	NilReply bool
	// Hot is set by the publisher when the hot-key detector matched this
	// key at the time of the access.
	Hot bool
}

// Broker is a fan-out of Events to subscribers, each with its own
// buffered channel. A slow subscriber never blocks Publish: once its
// buffer is full, further events are dropped for that subscriber alone.
type Broker struct {
	mu     sync.Mutex
	bufLen int
	subs   map[int]chan Event
	nextID int
	seq    uint64
}

// New creates a Broker whose subscriber channels are buffered to
// bufLen events.
func New(bufLen int) *Broker {
	if bufLen <= 0 {
		bufLen = 1
	}
	return &Broker{bufLen: bufLen, subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel along with
// an unsubscribe function. The channel is closed once unsubscribe runs.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufLen)
	b.subs[id] = ch
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

// Publish stamps ev with the next sequence number and fans it out to
// every current subscriber.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()
}

// EventFromResult builds an Event from a command and its store result,
// the shape every OnEvent hook in the engine package is asked to
// produce.
func EventFromResult(connID string, cmd command.Command, res resp.Object, mutated bool) Event {
	return Event{
		Time:     time.Now(),
		ConnID:   connID,
		Op:       cmd.Op,
		Key:      cmd.Key,
		Value:    cmd.Value,
		Mutated:  mutated,
		NilReply: res.IsNilBulk(),
	}
}
