// Package fixups implements the process-wide queue that carries
// full-checkout retry requests from the updater to the detailer's
// second pass (spec §4.10). It is grounded on the call sites in
// original_source/updater.c (fixups_put) and detailer.c (fixups_get);
// fixups.c itself was never retrieved, so the queue's internal
// synchronization follows the condvar-guarded style already used by
// internal/mux's channels rather than transliterating a lost source.
package fixups

import (
	"sync"

	"github.com/maxux/csup/internal/collection"
)

// Fixup names one file, within one collection, that the updater wants
// the detailer to re-detail with a full checkout on the second pass.
type Fixup struct {
	Coll *collection.Collection
	Name string
}

// Queue is a multi-producer, single-consumer FIFO of Fixups. The
// producer (the updater) closes it when done; Get then drains whatever
// remains and reports io.EOF-equivalent via its second return value.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Fixup
	closed bool
}

// New returns an empty, open queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends a fixup request, waking any blocked Get.
func (q *Queue) Put(coll *collection.Collection, name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, Fixup{Coll: coll, Name: name})
	q.cond.Signal()
}

// Close marks the queue done. Further Put calls are ignored; Get
// drains whatever remains, then reports ok == false forever after.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Get blocks until a fixup is available or the queue is closed and
// drained, mirroring fixups_get's contract of returning nil only once
// the producer is done and nothing is left.
func (q *Queue) Get() (Fixup, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Fixup{}, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}
