package bus

import "sync"

// ring holds the last N events across all topics, overwriting the oldest
// entry once full.
type ring struct {
	mu    sync.RWMutex
	buf   []Event
	size  int
	start int
	count int
}

func newRing(size int) *ring {
	return &ring{buf: make([]Event, size), size: size}
}

// add appends an event and reports whether an older entry was evicted.
func (r *ring) add(evt Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := false
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
		evicted = true
	}
	r.buf[idx] = evt
	r.count++
	return evicted
}

// tail returns up to limit retained events in publish order (most-recent-last),
// filtered by topic unless topic is empty. limit <= 0 means no limit.
func (r *ring) tail(topic string, limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for i := 0; i < r.count; i++ {
		evt := r.buf[(r.start+i)%r.size]
		if topic == "" || evt.Metadata.Type == topic {
			out = append(out, evt)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
