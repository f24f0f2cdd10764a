// Package ringbuf provides a fixed-capacity, single-producer/single-consumer
// event queue safe to push from inside a JACK realtime process callback: Push
// never allocates, never blocks, and never takes a lock. The producer/
// consumer split mirrors the buffered-channel handoff between a JACK process
// callback and a draining goroutine (see the midi2osc reference program's
// eventChan), generalized here to a preallocated ring indexed with
// sync/atomic so the realtime side has no channel-internal allocation or
// goroutine-scheduler interaction to worry about.
package ringbuf

import "sync/atomic"

// Event is one realtime-thread notification: a MIDI byte triple tagged with
// the originating instance and port.
type Event struct {
	InstanceIndex int
	Port          int
	Status        byte
	Data0         byte
	Data1         byte
	Frame         uint32 // frame offset within the current process cycle
}

// Ring is a fixed-size SPSC circular buffer of Event. The zero value is not
// usable; construct with New.
type Ring struct {
	buf   []Event
	mask  uint32
	head  uint32 // next write index, producer-owned
	tail  uint32 // next read index, consumer-owned
	drops uint64 // count of events dropped because the ring was full
}

// New creates a ring whose capacity is the next power of two >= size.
func New(size int) *Ring {
	cap := 1
	for cap < size {
		cap <<= 1
	}
	return &Ring{buf: make([]Event, cap), mask: uint32(cap - 1)}
}

// Push is called from the realtime thread. It never blocks: if the ring is
// full the event is dropped and the drop counter is incremented.
func (r *Ring) Push(e Event) bool {
	head := atomic.LoadUint32(&r.head)
	tail := atomic.LoadUint32(&r.tail)
	if head-tail >= uint32(len(r.buf)) {
		atomic.AddUint64(&r.drops, 1)
		return false
	}
	r.buf[head&r.mask] = e
	atomic.StoreUint32(&r.head, head+1)
	return true
}

// Pop is called from the non-realtime consumer goroutine. It returns false
// when the ring is empty.
func (r *Ring) Pop() (Event, bool) {
	tail := atomic.LoadUint32(&r.tail)
	head := atomic.LoadUint32(&r.head)
	if tail == head {
		return Event{}, false
	}
	e := r.buf[tail&r.mask]
	atomic.StoreUint32(&r.tail, tail+1)
	return e, true
}

// Drain pops every currently available event, invoking fn for each, in
// order. Intended for the housekeeping/dispatch goroutine, never the
// realtime thread.
func (r *Ring) Drain(fn func(Event)) {
	for {
		e, ok := r.Pop()
		if !ok {
			return
		}
		fn(e)
	}
}

// Dropped reports how many events have been discarded due to a full ring.
func (r *Ring) Dropped() uint64 {
	return atomic.LoadUint64(&r.drops)
}
