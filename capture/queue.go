package capture

import "sync"

// eventQueue buffers protocol events without ever blocking the producer.
// chromedp delivers target events synchronously from its read loop, so a
// listener that blocked would stall the whole tab.
type eventQueue struct {
	mu     sync.Mutex
	items  []any
	notify chan struct{}
	out    chan any
	done   chan struct{}
	once   sync.Once
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan any),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(ev any) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pump forwards queued events to out in arrival order.
func (q *eventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		q.mu.Unlock()

		for _, ev := range batch {
			select {
			case q.out <- ev:
			case <-q.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-q.notify:
		case <-q.done:
			return
		}
	}
}

func (q *eventQueue) events() <-chan any {
	return q.out
}

func (q *eventQueue) close() {
	q.once.Do(func() { close(q.done) })
}
