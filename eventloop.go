package counterbutton

import "sync"

// eventLoop runs posted funcs one at a time, in order, on a single goroutine.
// Every page owns one; actions and pub/sub deliveries for the page and its
// components go through it, so component state is only touched from one
// goroutine at a time.
type eventLoop struct {
	mu        sync.Mutex
	queue     []func()
	wake      chan struct{}
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// post queues fn without waiting for it. Funcs posted after close are dropped.
func (l *eventLoop) post(fn func()) {
	select {
	case <-l.stop:
		return
	default:
	}
	l.startOnce.Do(func() { go l.run() })

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// do queues fn and waits for it to finish. It reports false if the loop was
// closed before fn ran. Calling do from inside the loop deadlocks; use post.
func (l *eventLoop) do(fn func()) bool {
	done := make(chan struct{})
	l.post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return true
	case <-l.stop:
		return false
	}
}

func (l *eventLoop) close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *eventLoop) run() {
	for {
		select {
		case <-l.stop:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			fn()
		}
	}
}
