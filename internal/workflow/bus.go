package workflow

import "sync"

// Bus fans events out to subscribers. Each subscriber has its own unbounded
// queue, so Observe never blocks and a slow reader drops nothing.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	next   int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	out    chan Event
	cancel chan struct{}
	once   sync.Once
}

// Observe publishes e to every subscriber.
func (b *Bus) Observe(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.push(e)
	}
}

// Subscribe returns a channel of events published from now on and a func
// that unsubscribes and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		wake:   make(chan struct{}, 1),
		out:    make(chan Event),
		cancel: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()

	go s.pump()

	return s.out, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	}
}

// Close unsubscribes everyone. Later Subscribe calls get a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.closed = true
	b.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.cancel) })
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.wake:
		case <-s.cancel:
			return
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			e := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- e:
			case <-s.cancel:
				return
			}
		}
	}
}
