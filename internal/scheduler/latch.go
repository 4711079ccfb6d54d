package scheduler

import "context"

// latch is the TaskCompletionSource-style barrier described in §4.4 point
// 4: it resolves once every tracked node id has been marked done.
// WaitingForInput never calls markDone, so the latch simply never
// resolves while a node is suspended — the scheduling loop drains and
// Run returns only on cancellation or full completion.
type latch struct {
	mu     chan struct{} // binary semaphore guarding remaining/done
	remain map[string]struct{}
	done   chan struct{}
	closed bool
}

func newLatch(nodeIDs []string) *latch {
	remain := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		remain[id] = struct{}{}
	}
	l := &latch{
		mu:     make(chan struct{}, 1),
		remain: remain,
		done:   make(chan struct{}),
	}
	l.mu <- struct{}{}
	if len(remain) == 0 {
		close(l.done)
		l.closed = true
	}
	return l
}

func (l *latch) markDone(nodeID string) {
	<-l.mu
	defer func() { l.mu <- struct{}{} }()
	if l.closed {
		return
	}
	delete(l.remain, nodeID)
	if len(l.remain) == 0 {
		close(l.done)
		l.closed = true
	}
}

func (l *latch) wait(ctx context.Context) {
	select {
	case <-l.done:
	case <-ctx.Done():
	}
}
