package twai

import (
	"sync"
	"time"
)

// FrameReader is the receive side of a Controller.
type FrameReader interface {
	ReadFrame(frame *Frame, timeout time.Duration) bool
}

const muxIdleBackoff = 10 * time.Millisecond

// Mux multiplexes frames read from a FrameReader to any number of
// subscribers via filters.
//
// It runs a single background goroutine that polls ReadFrame and fans frames
// out, so it must be the only reader. WriteFrame on the same Controller may
// still be called from other goroutines; Start and Stop must not run while
// the Mux is open.
type Mux struct {
	r    FrameReader
	poll time.Duration
	stop chan struct{}
	done chan struct{}

	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next uint64
}

type subscriber struct {
	filter FrameFilter
	ch     chan Frame
}

// NewMux creates and starts a multiplexer reading from r. poll bounds each
// ReadFrame wait and therefore how long Close may take; zero means
// DefaultReadTimeout.
func NewMux(r FrameReader, poll time.Duration) *Mux {
	if poll <= 0 {
		poll = DefaultReadTimeout
	}
	m := &Mux{
		r:    r,
		poll: poll,
		stop: make(chan struct{}),
		done: make(chan struct{}),
		subs: make(map[uint64]*subscriber),
	}
	go m.run()
	return m
}

// Close stops the background reader, waits for it to exit and closes all
// subscriber channels.
func (m *Mux) Close() error {
	select {
	case <-m.stop:
		return nil
	default:
	}
	close(m.stop)
	<-m.done
	m.mu.Lock()
	for id, s := range m.subs {
		close(s.ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()
	return nil
}

// Subscribe registers a new subscriber with the provided filter and channel
// buffer. The returned channel receives frames that match the filter; a nil
// filter matches everything. The cancel function closes the channel. After
// Close the returned channel is already closed.
func (m *Mux) Subscribe(filter FrameFilter, buffer int) (<-chan Frame, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &subscriber{filter: filter, ch: make(chan Frame, buffer)}
	m.mu.Lock()
	select {
	case <-m.stop:
		m.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	default:
	}
	id := m.next
	m.next++
	m.subs[id] = s
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if cur, ok := m.subs[id]; ok && cur == s {
			close(cur.ch)
			delete(m.subs, id)
		}
		m.mu.Unlock()
	}
	return s.ch, cancel
}

func (m *Mux) run() {
	defer close(m.done)
	var f Frame
	for {
		select {
		case <-m.stop:
			return
		default:
		}
		start := time.Now()
		if !m.r.ReadFrame(&f, m.poll) {
			// A reader that fails without waiting (bus stopped) would spin.
			if time.Since(start) < m.poll {
				select {
				case <-m.stop:
					return
				case <-time.After(min(m.poll, muxIdleBackoff)):
				}
			}
			continue
		}
		m.mu.RLock()
		for _, s := range m.subs {
			if s.filter == nil || s.filter(f) {
				select {
				case s.ch <- f:
				default:
					// Drop if subscriber is slow and channel is full.
				}
			}
		}
		m.mu.RUnlock()
	}
}
