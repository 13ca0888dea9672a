package participant

import (
	"context"
	"sync"
)

// lane is an unbounded FIFO of work drained by one goroutine, so a slow
// handler in one lane never delays another.
type lane struct {
	name string

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	idle  chan struct{}
}

func newLane(name string) *lane {
	return &lane{
		name: name,
		wake: make(chan struct{}, 1),
		idle: make(chan struct{}),
	}
}

func (l *lane) push(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *lane) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *lane) run(ctx context.Context) {
	defer close(l.idle)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			if ctx.Err() != nil {
				return
			}
			fn, ok := l.pop()
			if !ok {
				break
			}
			fn()
		}
	}
}

func (l *lane) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
