package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeed_Stop(t *testing.T) {
	calls := 0
	f := newFeed(func() error {
		calls++
		return errors.New("unsubscribe failed")
	})

	assert.EqualError(t, f.Stop(), "unsubscribe failed")
	assert.EqualError(t, f.Stop(), "unsubscribe failed")
	assert.Equal(t, 1, calls)
	assert.False(t, f.send(&ObjectInfo{Name: "/a.txt"}), "send after Stop must not block")
}

func TestFeed_failKeepsFirstError(t *testing.T) {
	f := newFeed(nil)
	first := errors.New("first")

	f.fail(nil)
	f.fail(first)
	f.fail(errors.New("second"))

	assert.ErrorIs(t, f.Stop(), first)
}

func TestFeed_send(t *testing.T) {
	f := newFeed(nil)
	obj := &ObjectInfo{Name: "/a.txt"}

	go func() {
		defer close(f.out)
		f.send(obj)
	}()

	got, ok := <-f.Updates()
	assert.True(t, ok)
	assert.Same(t, obj, got)
	_, ok = <-f.Updates()
	assert.False(t, ok)
	assert.NoError(t, f.Stop())
}
