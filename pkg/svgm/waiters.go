package svgm

import "context"

// waitReply is how a waiting caller is unblocked: either a nil error
// (condition satisfied) or a terminal error (Shutdown, DbDeleted, ...).
type waitReply struct {
	err error
}

// waiter is one parked caller. ctx lets the queue stop waiting on a caller
// that has already given up (request canceled, client gone). reply is
// buffered so the controller's publish never blocks on a slow or abandoned
// receiver.
type waiter struct {
	ctx    context.Context
	wanted *PartitionSet
	reply  chan waitReply
}

func newWaiter(ctx context.Context, wanted *PartitionSet) *waiter {
	if wanted == nil {
		wanted = NewPartitionSet()
	}
	return &waiter{ctx: ctx, wanted: wanted, reply: make(chan waitReply, 1)}
}

func (w *waiter) satisfy(err error) {
	select {
	case w.reply <- waitReply{err: err}:
	default:
	}
}

// waitQueue is an ordered, FIFO queue of parked callers. Two instances are
// kept per group: one for stale=false requests waiting on the next update
// cycle, and one for requests blocked behind a pending partition-role
// transition still draining through cleanup (spec.md §4.3).
type waitQueue struct {
	waiters []*waiter
}

func newWaitQueue() *waitQueue { return &waitQueue{} }

// add parks a new waiter at the back of the queue and returns it so the
// caller can block on its reply channel. wanted is the set of partitions
// the caller asked for; nil means "whatever the group currently holds."
func (q *waitQueue) add(ctx context.Context, wanted *PartitionSet) *waiter {
	w := newWaiter(ctx, wanted)
	q.waiters = append(q.waiters, w)
	return w
}

// releaseAll satisfies every parked waiter with err (nil meaning success)
// and empties the queue, used when an update cycle completes or the group
// shuts down.
func (q *waitQueue) releaseAll(err error) {
	for _, w := range q.waiters {
		w.satisfy(err)
	}
	q.waiters = q.waiters[:0]
}

// releaseMatching satisfies and removes every waiter for which match
// returns true, leaving the rest queued in order. Used when a pending
// transition resolves: waiters whose wanted partitions no longer
// intersect any remaining pending transition are released, the rest stay
// parked (spec.md §4.3, scenario 4).
func (q *waitQueue) releaseMatching(match func(w *waiter) bool, err error) {
	remaining := q.waiters[:0]
	for _, w := range q.waiters {
		if match(w) {
			w.satisfy(err)
		} else {
			remaining = append(remaining, w)
		}
	}
	q.waiters = remaining
}

// prune drops waiters whose context has already been canceled, so an
// abandoned caller does not keep the queue alive indefinitely.
func (q *waitQueue) prune() {
	live := q.waiters[:0]
	for _, w := range q.waiters {
		select {
		case <-w.ctx.Done():
			w.satisfy(w.ctx.Err())
		default:
			live = append(live, w)
		}
	}
	q.waiters = live
}

func (q *waitQueue) len() int { return len(q.waiters) }
