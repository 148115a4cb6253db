package gpu

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrStaleToken is returned when a Token from an earlier pass is used.
var ErrStaleToken = errors.New("gpu: completion token from a previous pass")

// Token identifies one enqueued operation. Tokens are plain values returned
// by Enqueue; the zero Token means "no dependency" and is ignored.
type Token struct {
	epoch uint64
	id    uint32
}

// IsZero reports whether t is the zero Token.
func (t Token) IsZero() bool { return t.epoch == 0 }

type node struct {
	label string
	deps  []uint32
	run   func() error
	done  bool
	level int
}

// Queue orders device work by explicit dependencies. Each operation is
// enqueued with the tokens it depends on and runs only after all of them.
// Independent operations run concurrently when the device reports
// out-of-order support, and in enqueue order otherwise.
//
// A Queue is used by one goroutine at a time; Wait may run work on
// additional goroutines internally.
type Queue struct {
	dev   Device
	epoch uint64
	nodes []*node
}

// NewQueue returns a Queue feeding dev.
func NewQueue(dev Device) *Queue {
	return &Queue{dev: dev, epoch: 1}
}

// Begin starts a new pass. Operations of the previous pass that were never
// waited on are dropped, and tokens issued before Begin become stale.
func (q *Queue) Begin() {
	q.epoch++
	q.nodes = q.nodes[:0]
}

// Enqueue adds an operation that runs after deps.
func (q *Queue) Enqueue(label string, run func() error, deps ...Token) (Token, error) {
	n := &node{label: label, run: run}
	for _, d := range deps {
		if d.IsZero() {
			continue
		}
		if d.epoch != q.epoch || int(d.id) >= len(q.nodes) {
			return Token{}, fmt.Errorf("enqueue %s: %w", label, ErrStaleToken)
		}
		n.deps = append(n.deps, d.id)
		if l := q.nodes[d.id].level + 1; l > n.level {
			n.level = l
		}
	}
	q.nodes = append(q.nodes, n)
	return Token{epoch: q.epoch, id: uint32(len(q.nodes) - 1)}, nil //nolint:gosec // node count fits uint32
}

// Wait runs every pending operation the tokens transitively depend on,
// the tokens' own operations included, then waits for the device.
func (q *Queue) Wait(tokens ...Token) error {
	need := make([]bool, len(q.nodes))
	var mark func(id uint32)
	mark = func(id uint32) {
		if need[id] || q.nodes[id].done {
			return
		}
		need[id] = true
		for _, d := range q.nodes[id].deps {
			mark(d)
		}
	}
	for _, t := range tokens {
		if t.IsZero() {
			continue
		}
		if t.epoch != q.epoch || int(t.id) >= len(q.nodes) {
			return ErrStaleToken
		}
		mark(t.id)
	}

	var err error
	if q.dev != nil && q.dev.OutOfOrder() {
		err = q.runLevels(need)
	} else {
		err = q.runInOrder(need)
	}
	if err != nil {
		return err
	}
	if q.dev != nil {
		return q.dev.Finish()
	}
	return nil
}

func (q *Queue) runInOrder(need []bool) error {
	for i, n := range q.nodes {
		if !need[i] {
			continue
		}
		if err := n.run(); err != nil {
			return fmt.Errorf("%s: %w", n.label, err)
		}
		n.done = true
	}
	return nil
}

// runLevels runs needed nodes grouped by dependency depth; nodes of one
// level have no dependencies on each other.
func (q *Queue) runLevels(need []bool) error {
	byLevel := map[int][]*node{}
	maxLevel := -1
	for i, n := range q.nodes {
		if !need[i] {
			continue
		}
		byLevel[n.level] = append(byLevel[n.level], n)
		if n.level > maxLevel {
			maxLevel = n.level
		}
	}
	for l := 0; l <= maxLevel; l++ {
		nodes := byLevel[l]
		if len(nodes) == 0 {
			continue
		}
		var g errgroup.Group
		for _, n := range nodes {
			g.Go(func() error {
				if err := n.run(); err != nil {
					return fmt.Errorf("%s: %w", n.label, err)
				}
				n.done = true
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of enqueued operations not yet run.
func (q *Queue) Pending() int {
	n := 0
	for _, nd := range q.nodes {
		if !nd.done {
			n++
		}
	}
	return n
}
