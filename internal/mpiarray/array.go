package mpiarray

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// Array is a row-major N-dimensional array whose distributed axis is split
// across the workers of a Group. Every worker holds the full extent of every
// other axis.
type Array[T any] struct {
	comm       *Comm
	shape      []int
	axis       int
	localShape []int
	offset     int
	data       []T
}

// New allocates a zero-valued array of the given global shape distributed
// along axis.
func New[T any](comm *Comm, shape []int, axis int) (*Array[T], error) {
	if comm == nil {
		return nil, fmt.Errorf("mpiarray: nil comm")
	}
	if axis < 0 || axis >= len(shape) {
		return nil, fmt.Errorf("mpiarray: axis %d out of range for %d dimensions", axis, len(shape))
	}
	for i, n := range shape {
		if n < 0 {
			return nil, fmt.Errorf("mpiarray: negative extent %d on axis %d", n, i)
		}
	}
	global := append([]int(nil), shape...)
	local := append([]int(nil), shape...)
	count, start, _ := Split(shape[axis], comm.Size(), comm.Rank())
	local[axis] = count
	return &Array[T]{
		comm:       comm,
		shape:      global,
		axis:       axis,
		localShape: local,
		offset:     start,
		data:       make([]T, product(local)),
	}, nil
}

// Wrap adopts data as this worker's slab of an array with the given global
// shape. The local extent along axis must match Split.
func Wrap[T any](comm *Comm, data []T, shape []int, axis int) (*Array[T], error) {
	a, err := New[T](comm, shape, axis)
	if err != nil {
		return nil, err
	}
	if len(data) != len(a.data) {
		return nil, fmt.Errorf("mpiarray: local data has %d elements, expected %d for local shape %v", len(data), len(a.data), a.localShape)
	}
	a.data = data
	return a, nil
}

// Comm returns the worker handle the array belongs to.
func (a *Array[T]) Comm() *Comm { return a.comm }

// Shape returns the global shape.
func (a *Array[T]) Shape() []int { return append([]int(nil), a.shape...) }

// Axis returns the distributed axis.
func (a *Array[T]) Axis() int { return a.axis }

// LocalShape returns the shape of this worker's slab.
func (a *Array[T]) LocalShape() []int { return append([]int(nil), a.localShape...) }

// LocalOffset returns the global index of the first local element along the
// distributed axis.
func (a *Array[T]) LocalOffset() int { return a.offset }

// Local returns the slab backing slice in row-major order.
func (a *Array[T]) Local() []T { return a.data }

// Index converts local indices into an offset in Local().
func (a *Array[T]) Index(idx ...int) int {
	if len(idx) != len(a.localShape) {
		panic(fmt.Sprintf("mpiarray: %d indices for %d dimensions", len(idx), len(a.localShape)))
	}
	flat := 0
	for i, v := range idx {
		if v < 0 || v >= a.localShape[i] {
			panic(fmt.Sprintf("mpiarray: index %d out of range [0,%d) on axis %d", v, a.localShape[i], i))
		}
		flat = flat*a.localShape[i] + v
	}
	return flat
}

// At returns the element at the given local indices.
func (a *Array[T]) At(idx ...int) T { return a.data[a.Index(idx...)] }

// Set stores v at the given local indices.
func (a *Array[T]) Set(v T, idx ...int) { a.data[a.Index(idx...)] = v }

// Fill sets every local element to v.
func (a *Array[T]) Fill(v T) {
	for i := range a.data {
		a.data[i] = v
	}
}

// Enumerate yields (local, global) index pairs along the distributed axis.
func (a *Array[T]) Enumerate() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for li := 0; li < a.localShape[a.axis]; li++ {
			if !yield(li, a.offset+li) {
				return
			}
		}
	}
}

// Copy returns an independent copy of the array with the same distribution.
func (a *Array[T]) Copy() *Array[T] {
	out := &Array[T]{
		comm:       a.comm,
		shape:      append([]int(nil), a.shape...),
		axis:       a.axis,
		localShape: append([]int(nil), a.localShape...),
		offset:     a.offset,
		data:       make([]T, len(a.data)),
	}
	copy(out.data, a.data)
	return out
}

// Redistribute returns a new array with the same global shape and values,
// distributed along axis instead of the current axis.
//
// Redistribute is a collective: every worker of the group must call it, in
// the same order, with the same target axis. Calling it from a subset of
// workers blocks until the group context is cancelled.
func (a *Array[T]) Redistribute(ctx context.Context, axis int) (*Array[T], error) {
	if axis < 0 || axis >= len(a.shape) {
		return nil, fmt.Errorf("mpiarray: axis %d out of range for %d dimensions", axis, len(a.shape))
	}
	if axis == a.axis {
		return a.Copy(), nil
	}
	begin := time.Now()
	out, err := New[T](a.comm, a.shape, axis)
	if err != nil {
		return nil, err
	}

	size, rank := a.comm.Size(), a.comm.Rank()
	newBounds := SplitAll(a.shape[axis], size)
	oldBounds := SplitAll(a.shape[a.axis], size)

	var own []T
	for dst := 0; dst < size; dst++ {
		block := a.extract(axis, newBounds[dst][0], newBounds[dst][1])
		if dst == rank {
			own = block
			continue
		}
		if err := a.comm.send(ctx, dst, message{fromAxis: a.axis, toAxis: axis, payload: block}); err != nil {
			return nil, fmt.Errorf("redistribute send to %d: %w", dst, err)
		}
	}

	for src := 0; src < size; src++ {
		block := own
		if src != rank {
			msg, err := a.comm.recv(ctx, src)
			if err != nil {
				return nil, fmt.Errorf("redistribute recv from %d: %w", src, err)
			}
			if msg.fromAxis != a.axis || msg.toAxis != axis {
				return nil, fmt.Errorf("%w: worker %d moved axis %d->%d, worker %d moved %d->%d",
					ErrCollectiveMismatch, src, msg.fromAxis, msg.toAxis, rank, a.axis, axis)
			}
			var ok bool
			block, ok = msg.payload.([]T)
			if !ok {
				return nil, fmt.Errorf("%w: worker %d sent %T", ErrCollectiveMismatch, src, msg.payload)
			}
		}
		if err := out.insert(a.axis, oldBounds[src][0], oldBounds[src][1], block); err != nil {
			return nil, err
		}
	}

	a.comm.observe(a.axis, axis, time.Since(begin))
	return out, nil
}

// extract copies the local slab restricted to [start, end) along axis.
func (a *Array[T]) extract(axis, start, end int) []T {
	outer := product(a.localShape[:axis])
	inner := product(a.localShape[axis+1:])
	extent := a.localShape[axis]
	width := (end - start) * inner
	block := make([]T, outer*width)
	for o := 0; o < outer; o++ {
		src := a.data[(o*extent+start)*inner : (o*extent+end)*inner]
		copy(block[o*width:(o+1)*width], src)
	}
	return block
}

// insert writes block, covering [start, end) along axis, into the local slab.
func (a *Array[T]) insert(axis, start, end int, block []T) error {
	outer := product(a.localShape[:axis])
	inner := product(a.localShape[axis+1:])
	extent := a.localShape[axis]
	width := (end - start) * inner
	if len(block) != outer*width {
		return fmt.Errorf("%w: block of %d elements, expected %d", ErrCollectiveMismatch, len(block), outer*width)
	}
	for o := 0; o < outer; o++ {
		copy(a.data[(o*extent+start)*inner:(o*extent+end)*inner], block[o*width:(o+1)*width])
	}
	return nil
}

func product(dims []int) int {
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}
