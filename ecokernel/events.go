package ecokernel

import (
	"fmt"
	"sync"
	"time"
)

// EventKind identifies the type of kernel event.
type EventKind string

const (
	EventAgentRegistered   EventKind = "agent_registered"
	EventAgentDeregistered EventKind = "agent_deregistered"
	EventBifurcation       EventKind = "bifurcation"
	EventIntervention      EventKind = "intervention"
	EventResolution        EventKind = "resolution"
	EventIndexSnapshot     EventKind = "index_snapshot"
)

// KernelEvent is one immutable entry of the event log. Ids are sequential
// per kernel instance in the form BIF-0001.
type KernelEvent struct {
	ID           string           `json:"id"`
	Kind         EventKind        `json:"kind"`
	Timestamp    time.Time        `json:"timestamp"`
	Pair         *PairKey         `json:"pair,omitempty"`
	AgentID      string           `json:"agent_id,omitempty"`
	Intervention InterventionKind `json:"intervention,omitempty"`
	BetaIPre     float64          `json:"beta_i_pre,omitempty"`
	BetaIPost    float64          `json:"beta_i_post,omitempty"`
	Resolved     bool             `json:"resolved,omitempty"`
	Index        *Index           `json:"index,omitempty"`
	Description  string           `json:"description,omitempty"`
}

// eventLog is the append-only bounded ring of kernel events. Oldest entries
// are evicted first once capacity is reached; nothing else mutates or
// deletes entries.
type eventLog struct {
	mu   sync.Mutex
	buf  []KernelEvent
	head int // next write position
	size int // entries currently held
	seq  int // id counter
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &eventLog{buf: make([]KernelEvent, capacity)}
}

// append assigns the next sequential id, stores the event, and returns the
// stored copy.
func (l *eventLog) append(ev KernelEvent) KernelEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	ev.ID = fmt.Sprintf("BIF-%04d", l.seq)
	l.buf[l.head] = ev
	l.head = (l.head + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
	return ev
}

// recent returns up to n most recent events, newest last. n <= 0 returns
// everything held.
func (l *eventLog) recent(n int) []KernelEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]KernelEvent, 0, n)
	start := l.head - n
	if start < 0 {
		start += len(l.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// EventEmitter delivers kernel events to a host application via a channel.
// Delivery is non-blocking: when the subscriber lags and the buffer fills,
// events are dropped so the decision loop never stalls on a slow reader.
type EventEmitter struct {
	ch     chan KernelEvent
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an emitter with a buffered channel.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventEmitter{ch: make(chan KernelEvent, bufferSize)}
}

// Emit sends an event to the channel. If the emitter is closed or the
// buffer is full the event is silently dropped.
func (e *EventEmitter) Emit(ev KernelEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
		// Buffer full; drop rather than block the kernel.
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan KernelEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
