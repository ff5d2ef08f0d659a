package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"slices"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/mpiarray"
)

// LoadSidereal reads the caller's frequency slice of a saved sidereal stream.
func LoadSidereal(comm *mpiarray.Comm, dir, name string) (*containers.SiderealStream, error) {
	h, slab, err := load(comm, dir, name, kindSidereal)
	if err != nil {
		return nil, err
	}
	vis, weight, err := wrapVis(comm, h, slab)
	if err != nil {
		return nil, err
	}
	return &containers.SiderealStream{
		Freq:         h.Axes.Freq,
		RA:           h.Axes.RA,
		Input:        h.Axes.Input,
		Prod:         h.Axes.Prod,
		Stack:        h.Axes.Stack,
		ReverseStack: h.Axes.ReverseStack,
		Vis:          vis,
		Weight:       weight,
		Attrs:        h.Attrs,
	}, nil
}

// LoadTimeStream reads the caller's frequency slice of a saved time stream.
func LoadTimeStream(comm *mpiarray.Comm, dir, name string) (*containers.TimeStream, error) {
	h, slab, err := load(comm, dir, name, kindTimeStream)
	if err != nil {
		return nil, err
	}
	vis, weight, err := wrapVis(comm, h, slab)
	if err != nil {
		return nil, err
	}
	return &containers.TimeStream{
		Freq:         h.Axes.Freq,
		Input:        h.Axes.Input,
		Prod:         h.Axes.Prod,
		Stack:        h.Axes.Stack,
		ReverseStack: h.Axes.ReverseStack,
		Time:         h.Axes.Time,
		Samples:      h.Axes.Samples,
		Vis:          vis,
		Weight:       weight,
		Attrs:        h.Attrs,
	}, nil
}

// LoadMap reads the caller's frequency slice of a saved sky map.
func LoadMap(comm *mpiarray.Comm, dir, name string) (*containers.Map, error) {
	h, slab, err := load(comm, dir, name, kindMap)
	if err != nil {
		return nil, err
	}
	data, err := mpiarray.Wrap(comm, orEmpty(slab.Data, comm, h), h.Shape, containers.AxisFreq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return &containers.Map{
		Freq:   h.Axes.Freq,
		NPol:   h.Axes.NPol,
		NTheta: h.Axes.NTheta,
		NPhi:   h.Axes.NPhi,
		Data:   data,
		Attrs:  h.Attrs,
	}, nil
}

func wrapVis(comm *mpiarray.Comm, h header, slab payload) (*mpiarray.Array[complex128], *mpiarray.Array[float64], error) {
	vis, err := mpiarray.Wrap(comm, orEmpty(slab.Vis, comm, h), h.Shape, containers.AxisFreq)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: vis: %v", ErrCorrupt, err)
	}
	weight, err := mpiarray.Wrap(comm, orEmpty(slab.Weight, comm, h), h.Shape, containers.AxisFreq)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: weight: %v", ErrCorrupt, err)
	}
	return vis, weight, nil
}

// orEmpty allocates a zeroed slab for datasets the shards did not carry.
func orEmpty[T any](data []T, comm *mpiarray.Comm, h header) []T {
	if data != nil {
		return data
	}
	count, _, _ := mpiarray.Split(h.Shape[containers.AxisFreq], comm.Size(), comm.Rank())
	return make([]T, count*rowLen(h.Shape))
}

func rowLen(shape []int) int {
	n := 1
	for _, d := range shape[1:] {
		n *= d
	}
	return n
}

// load assembles the caller's rows of the frequency axis from every shard
// that overlaps them. It must not race a save of the same container.
func load(comm *mpiarray.Comm, dir, name, kind string) (header, payload, error) {
	if err := checkName(name); err != nil {
		return header{}, payload{}, err
	}
	paths, err := shardPaths(dir, name)
	if err != nil {
		return header{}, payload{}, err
	}
	if len(paths) == 0 {
		return header{}, payload{}, fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
	}
	ranks := make([]int, 0, len(paths))
	for r := range paths {
		ranks = append(ranks, r)
	}
	slices.Sort(ranks)

	var (
		first *header
		out   payload
		start int
		end   int
		row   int
	)
	for _, r := range ranks {
		h, p, err := readShard(paths[r], func(h header) (bool, error) {
			if h.Kind != kind {
				return false, fmt.Errorf("%w: %s is a %s, not a %s", ErrCorrupt, name, h.Kind, kind)
			}
			if h.Rank != r || h.Size != len(paths) || len(h.Shape) == 0 {
				return false, fmt.Errorf("%w: %s shard %d claims rank %d of %d, found %d shards", ErrCorrupt, name, r, h.Rank, h.Size, len(paths))
			}
			if first != nil && (h.RunID != first.RunID || !slices.Equal(h.Shape, first.Shape)) {
				return false, fmt.Errorf("%w: %s shard %d belongs to another save", ErrCorrupt, name, r)
			}
			if first == nil {
				_, start, end = mpiarray.Split(h.Shape[containers.AxisFreq], comm.Size(), comm.Rank())
				row = rowLen(h.Shape)
			}
			return h.Offset < end && h.Offset+h.Count > start, nil
		})
		if err != nil {
			return header{}, payload{}, err
		}
		if first == nil {
			first = &h
		}
		if p == nil {
			continue
		}
		lo, hi := max(h.Offset, start), min(h.Offset+h.Count, end)
		src := (lo - h.Offset) * row
		dst := (lo - start) * row
		n := (hi - lo) * row
		out.Vis = place(out.Vis, p.Vis, src, dst, n, (end-start)*row)
		out.Weight = place(out.Weight, p.Weight, src, dst, n, (end-start)*row)
		out.Data = place(out.Data, p.Data, src, dst, n, (end-start)*row)
	}
	if first.Attrs == nil {
		first.Attrs = containers.Attrs{}
	}
	return *first, out, nil
}

// place copies n elements of a shard slab into the caller's slab, allocating
// it on first use.
func place[T any](dst, src []T, from, to, n, size int) []T {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = make([]T, size)
	}
	copy(dst[to:to+n], src[from:from+n])
	return dst
}

// readShard decodes the header of a shard and, when want reports true, its
// payload.
func readShard(path string, want func(header) (bool, error)) (header, *payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return header{}, nil, fmt.Errorf("store: %w", err)
	}
	defer f.Close()

	dec := gob.NewDecoder(bufio.NewReader(f))
	var h header
	if err := dec.Decode(&h); err != nil {
		return header{}, nil, fmt.Errorf("%w: %s: header: %v", ErrCorrupt, path, err)
	}
	ok, err := want(h)
	if err != nil || !ok {
		return h, nil, err
	}
	var p payload
	if err := dec.Decode(&p); err != nil {
		return header{}, nil, fmt.Errorf("%w: %s: data: %v", ErrCorrupt, path, err)
	}
	if n := h.Count * rowLen(h.Shape); (p.Vis != nil && len(p.Vis) != n) || (p.Weight != nil && len(p.Weight) != n) || (p.Data != nil && len(p.Data) != n) {
		return header{}, nil, fmt.Errorf("%w: %s holds the wrong number of elements", ErrCorrupt, path)
	}
	return h, &p, nil
}
