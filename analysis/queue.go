package analysis

import "sync"

// Queue holds file paths whose check was requested before the worker was
// ready. Paths are kept in arrival order, duplicates included, and cannot be
// withdrawn once queued.
type Queue struct {
	ready    func() bool
	dispatch func(path string)
	observer Observer

	mu    sync.Mutex
	paths []string
}

// NewQueue creates a Queue. ready is consulted on every request, dispatch is
// called for paths that may go to the worker.
func NewQueue(ready func() bool, dispatch func(path string), observer Observer) *Queue {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Queue{ready: ready, dispatch: dispatch, observer: observer}
}

// EnqueueOrDispatch dispatches path at once when the worker is ready and
// queues it otherwise. It reports whether the path was queued.
func (q *Queue) EnqueueOrDispatch(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready() {
		q.dispatch(path)
		return false
	}

	q.paths = append(q.paths, path)
	q.observer.QueueDepth(len(q.paths))
	return true
}

// Drain applies transition and, if it reports the worker became ready,
// dispatches every queued path in insertion order and empties the queue.
// Both happen under the queue lock, so a path arriving meanwhile is
// dispatched after the queued ones. It returns the number of paths dispatched.
func (q *Queue) Drain(transition func() bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !transition() {
		return 0
	}

	paths := q.paths
	q.paths = nil
	for _, p := range paths {
		q.dispatch(p)
	}
	q.observer.QueueDepth(0)
	return len(paths)
}

// Len returns the number of queued paths.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.paths)
}
