// Package comm supplies the execution-context collaborator: worker identity,
// deterministic frame partitioning, and synchronous gather/broadcast
// collectives over in-memory values. Collectives are barriers; every rank
// blocks until the collective completes or its context is canceled, so a
// stuck worker surfaces as an explicit error instead of a silent stall.
package comm

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Coordinator is the rank that owns every reduce-phase operation.
const Coordinator = 0

// Context is one worker's view of the ensemble topology.
type Context interface {
	// Rank is this worker's index in [0, Size).
	Rank() int
	// Size is the fixed worker count.
	Size() int
	// Coordinator reports whether this worker owns the reduce phase.
	Coordinator() bool
	// Partition returns this worker's disjoint share of n items as a sorted
	// index slice. The union over all ranks covers 0..n-1 exactly.
	Partition(n int) []int
	// Gather delivers every rank's value to the coordinator, ordered by
	// rank. Non-coordinator ranks receive nil. All ranks block until the
	// gather completes.
	Gather(ctx context.Context, v any) ([]any, error)
	// Broadcast distributes the coordinator's value to every rank. The
	// argument is ignored on non-coordinator ranks.
	Broadcast(ctx context.Context, v any) (any, error)
}

type message struct {
	rank  int
	value any
}

// Group is an in-memory collective domain shared by a fixed set of workers
// in one process. Each worker obtains its Context once and uses it for the
// whole run.
type Group struct {
	size   int
	gather chan message
	ack    []chan struct{}
	bcast  []chan any
}

// NewGroup creates a collective domain for size workers.
func NewGroup(size int) *Group {
	if size < 1 {
		size = 1
	}
	g := &Group{
		size:   size,
		gather: make(chan message, size),
		ack:    make([]chan struct{}, size),
		bcast:  make([]chan any, size),
	}
	for i := 0; i < size; i++ {
		g.ack[i] = make(chan struct{}, 1)
		g.bcast[i] = make(chan any, 1)
	}
	return g
}

// Context returns rank's view of the group.
func (g *Group) Context(rank int) Context {
	return &worker{group: g, rank: rank}
}

type worker struct {
	group *Group
	rank  int
}

func (w *worker) Rank() int         { return w.rank }
func (w *worker) Size() int         { return w.group.size }
func (w *worker) Coordinator() bool { return w.rank == Coordinator }

func (w *worker) Partition(n int) []int {
	lo := w.rank * n / w.group.size
	hi := (w.rank + 1) * n / w.group.size
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}

func (w *worker) Gather(ctx context.Context, v any) ([]any, error) {
	g := w.group
	select {
	case g.gather <- message{rank: w.rank, value: v}:
	case <-ctx.Done():
		return nil, w.abort("gather", ctx.Err())
	}

	if !w.Coordinator() {
		select {
		case <-g.ack[w.rank]:
			return nil, nil
		case <-ctx.Done():
			return nil, w.abort("gather", ctx.Err())
		}
	}

	msgs := make([]message, 0, g.size)
	for len(msgs) < g.size {
		select {
		case m := <-g.gather:
			msgs = append(msgs, m)
		case <-ctx.Done():
			return nil, w.abort("gather", ctx.Err())
		}
	}
	sort.Slice(msgs, func(i, k int) bool { return msgs[i].rank < msgs[k].rank })
	out := make([]any, g.size)
	for i, m := range msgs {
		out[i] = m.value
	}
	for r := 0; r < g.size; r++ {
		if r != Coordinator {
			g.ack[r] <- struct{}{}
		}
	}
	return out, nil
}

func (w *worker) Broadcast(ctx context.Context, v any) (any, error) {
	g := w.group
	if w.Coordinator() {
		for r := 0; r < g.size; r++ {
			select {
			case g.bcast[r] <- v:
			case <-ctx.Done():
				return nil, w.abort("broadcast", ctx.Err())
			}
		}
	}
	select {
	case got := <-g.bcast[w.rank]:
		return got, nil
	case <-ctx.Done():
		return nil, w.abort("broadcast", ctx.Err())
	}
}

func (w *worker) abort(collective string, cause error) error {
	return fmt.Errorf("comm: %s aborted on rank %d of %d: %w",
		collective, w.rank, w.group.size, cause)
}

// Run executes fn once per rank over a fresh group and waits for all workers.
// The first error cancels the shared context, which aborts any collective the
// remaining workers are blocked in.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c Context) error) error {
	g := NewGroup(size)
	eg, ctx := errgroup.WithContext(ctx)
	for r := 0; r < g.size; r++ {
		c := g.Context(r)
		eg.Go(func() error {
			return fn(ctx, c)
		})
	}
	return eg.Wait()
}
