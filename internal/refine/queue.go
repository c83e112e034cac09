package refine

import "focuslens/internal/activity"

// Request asks for one (app, title) pair to be refined.
type Request struct {
	Key             string
	App             string
	Title           string
	CurrentCategory activity.Category
}

// Queue is a bounded FIFO deduplicated by key. When full, the oldest entry
// makes room for the new one. Not safe for concurrent use.
type Queue struct {
	max   int
	items []Request
	keys  map[string]struct{}
}

// NewQueue creates a queue holding at most max requests.
func NewQueue(max int) *Queue {
	return &Queue{max: max, keys: make(map[string]struct{})}
}

// Push appends r unless its key is already queued. It reports whether r was
// added.
func (q *Queue) Push(r Request) bool {
	if q.max <= 0 {
		return false
	}
	if q.Contains(r.Key) {
		return false
	}
	for len(q.items) >= q.max {
		delete(q.keys, q.items[0].Key)
		q.items = q.items[1:]
	}
	q.items = append(q.items, r)
	q.keys[r.Key] = struct{}{}
	return true
}

// Pop removes and returns up to n requests from the front.
func (q *Queue) Pop(n int) []Request {
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]Request, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	for _, r := range out {
		delete(q.keys, r.Key)
	}
	return out
}

// Contains reports whether key is queued.
func (q *Queue) Contains(key string) bool {
	_, ok := q.keys[key]
	return ok
}

func (q *Queue) Len() int { return len(q.items) }
