package mpiarray

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrCollectiveMismatch is returned when workers disagree about the collective
// they are executing (different target axis or element type).
var ErrCollectiveMismatch = errors.New("mpiarray: collective mismatch between workers")

// Split returns the number of items, and the [start, end) bounds, owned by rank
// when n items are divided among size workers. The first n%size ranks receive
// one extra item.
func Split(n, size, rank int) (count, start, end int) {
	if size <= 0 || n <= 0 {
		return 0, 0, 0
	}
	base := n / size
	rem := n % size
	count = base
	if rank < rem {
		count++
	}
	start = rank*base + min(rank, rem)
	end = start + count
	return count, start, end
}

// SplitAll returns the [start, end) bounds of every rank.
func SplitAll(n, size int) [][2]int {
	out := make([][2]int, size)
	for r := 0; r < size; r++ {
		_, s, e := Split(n, size, r)
		out[r] = [2]int{s, e}
	}
	return out
}

// Group is a fixed-size set of workers executing the same function in lockstep.
type Group struct {
	size int

	// OnRedistribute, when set, is invoked by every worker after each
	// completed redistribution.
	OnRedistribute func(rank, fromAxis, toAxis int, elapsed time.Duration)
}

// NewGroup creates a worker group of the given size.
func NewGroup(size int) (*Group, error) {
	if size <= 0 {
		return nil, fmt.Errorf("group size must be positive, got %d", size)
	}
	return &Group{size: size}, nil
}

// Size returns the number of workers.
func (g *Group) Size() int { return g.size }

// Run executes fn once per worker, each on its own goroutine, and waits for all
// of them. The first error cancels the context handed to every worker so that
// peers blocked inside a collective return instead of waiting forever.
func (g *Group) Run(ctx context.Context, fn func(ctx context.Context, comm *Comm) error) error {
	f := newFabric(g.size)
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < g.size; rank++ {
		comm := &Comm{group: g, fabric: f, rank: rank}
		eg.Go(func() error {
			if err := fn(ctx, comm); err != nil {
				return fmt.Errorf("worker %d: %w", comm.rank, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// fabric holds one single-slot mailbox per ordered (src, dst) pair.
type fabric struct {
	boxes [][]chan message
}

type message struct {
	fromAxis int
	toAxis   int
	payload  any
}

func newFabric(size int) *fabric {
	boxes := make([][]chan message, size)
	for src := range boxes {
		boxes[src] = make([]chan message, size)
		for dst := range boxes[src] {
			boxes[src][dst] = make(chan message, 1)
		}
	}
	return &fabric{boxes: boxes}
}

// Comm is a worker's handle on its group.
type Comm struct {
	group  *Group
	fabric *fabric
	rank   int
}

// Rank returns this worker's index in [0, Size()).
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of workers in the group.
func (c *Comm) Size() int { return c.group.size }

func (c *Comm) send(ctx context.Context, dst int, msg message) error {
	select {
	case c.fabric.boxes[c.rank][dst] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Comm) recv(ctx context.Context, src int) (message, error) {
	select {
	case msg := <-c.fabric.boxes[src][c.rank]:
		return msg, nil
	case <-ctx.Done():
		return message{}, ctx.Err()
	}
}

func (c *Comm) observe(from, to int, elapsed time.Duration) {
	if c.group.OnRedistribute != nil {
		c.group.OnRedistribute(c.rank, from, to, elapsed)
	}
}
