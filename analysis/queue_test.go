package analysis

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) dispatch(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestQueueDrainsInOrderWithDuplicates(t *testing.T) {
	var ready atomic.Bool
	rec := &recorder{}
	q := NewQueue(ready.Load, rec.dispatch, nil)

	for _, p := range []string{"/a.py", "/b.py", "/a.py", "/c.py"} {
		assert.True(t, q.EnqueueOrDispatch(p))
	}
	assert.Equal(t, 4, q.Len())
	assert.Empty(t, rec.seen(), "nothing dispatched before ready")

	n := q.Drain(func() bool { ready.Store(true); return true })

	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"/a.py", "/b.py", "/a.py", "/c.py"}, rec.seen())
	assert.Equal(t, 0, q.Len())
}

func TestQueueDispatchesImmediatelyWhenReady(t *testing.T) {
	rec := &recorder{}
	q := NewQueue(func() bool { return true }, rec.dispatch, nil)

	assert.False(t, q.EnqueueOrDispatch("/a.py"))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, []string{"/a.py"}, rec.seen())
}

func TestQueueDrainRejectedTransition(t *testing.T) {
	rec := &recorder{}
	q := NewQueue(func() bool { return false }, rec.dispatch, nil)

	q.EnqueueOrDispatch("/a.py")
	assert.Equal(t, 0, q.Drain(func() bool { return false }))

	assert.Equal(t, 1, q.Len(), "queued paths wait for the next session")
	assert.Empty(t, rec.seen())
}

func TestQueueDirectDispatchNeverOvertakesDrain(t *testing.T) {
	var ready atomic.Bool
	rec := &recorder{}
	q := NewQueue(ready.Load, rec.dispatch, nil)

	for i := 0; i < 100; i++ {
		q.EnqueueOrDispatch("/queued.py")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		q.Drain(func() bool { ready.Store(true); return true })
	}()
	go func() {
		defer wg.Done()
		for !ready.Load() {
			runtime.Gosched()
		}
		q.EnqueueOrDispatch("/late.py")
	}()
	wg.Wait()

	seen := rec.seen()
	assert.Len(t, seen, 101)
	assert.Equal(t, "/late.py", seen[100])
}

type depthObserver struct {
	nopObserver
	depths []int
}

func (o *depthObserver) QueueDepth(n int) { o.depths = append(o.depths, n) }

func TestQueueReportsDepth(t *testing.T) {
	obs := &depthObserver{}
	q := NewQueue(func() bool { return false }, func(string) {}, obs)

	q.EnqueueOrDispatch("/a.py")
	q.EnqueueOrDispatch("/b.py")
	q.Drain(func() bool { return true })

	assert.Equal(t, []int{1, 2, 0}, obs.depths)
}
