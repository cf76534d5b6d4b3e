package sync

import (
	gosync "sync"
)

// feed is the Watcher handed out by the store backends. The producing
// goroutine owns out and closes it when it returns.
type feed struct {
	out  chan *ObjectInfo
	done chan struct{}
	stop func() error

	once gosync.Once
	mu   gosync.Mutex
	err  error
}

func newFeed(stop func() error) *feed {
	return &feed{
		out:  make(chan *ObjectInfo),
		done: make(chan struct{}),
		stop: stop,
	}
}

func (f *feed) Updates() <-chan *ObjectInfo {
	return f.out
}

// Stop ends the subscription and reports why it failed, if it did. It may
// be called more than once.
func (f *feed) Stop() error {
	f.once.Do(func() {
		close(f.done)
		if f.stop != nil {
			f.fail(f.stop())
		}
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// send blocks until the consumer takes obj or the feed is stopped.
func (f *feed) send(obj *ObjectInfo) bool {
	select {
	case f.out <- obj:
		return true
	case <-f.done:
		return false
	}
}

func (f *feed) fail(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}
