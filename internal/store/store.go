// Package store persists distributed containers as one gob shard per worker.
//
// A shard holds a header (kind, run id, global shape, the writer's offset
// along the frequency axis, attributes and index maps) followed by the
// writer's local slab. Loading reads the shards that overlap the caller's
// slice of the frequency axis, so a container written by one group size can
// be read back by any other.
package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/mpiarray"
)

var (
	// ErrNotFound is returned when no shard of a container exists.
	ErrNotFound = errors.New("store: container not found")
	// ErrCorrupt is returned when the shards of a container disagree.
	ErrCorrupt = errors.New("store: inconsistent shards")
)

const (
	kindSidereal   = "sidereal"
	kindTimeStream = "timestream"
	kindMap        = "map"

	// RunIDAttr is the attribute key saved containers carry their run id in.
	RunIDAttr = "run_id"
)

type header struct {
	Kind   string
	RunID  string
	Rank   int
	Size   int
	Shape  []int
	Offset int
	Count  int
	Attrs  containers.Attrs
	Axes   axes
}

type axes struct {
	Freq         []containers.FreqChannel
	RA           []float64
	Input        []containers.Input
	Prod         []containers.Prod
	Stack        []containers.StackEntry
	ReverseStack []containers.ReverseStackEntry
	Time         []float64
	Samples      []containers.TimeSample
	NPol         int
	NTheta       int
	NPhi         int
}

type payload struct {
	Vis    []complex128
	Weight []float64
	Data   []float64
}

// Store writes containers under Dir, stamping them with RunID.
type Store struct {
	Dir    string
	RunID  string
	logger logging.Logger
}

// New creates dir if needed and returns a store with a fresh run id.
func New(dir string, logger logging.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{Dir: dir, RunID: uuid.NewString(), logger: logger}, nil
}

// ShardPath returns the file a worker writes for the named container.
func ShardPath(dir, name string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.rank-%03d.gob", name, rank))
}

// SaveSidereal writes the caller's shard of ss. The stream is moved onto the
// frequency axis first, which makes this a collective.
func (s *Store) SaveSidereal(ctx context.Context, name string, ss *containers.SiderealStream) error {
	if ss.Vis.Axis() != containers.AxisFreq {
		if err := ss.Redistribute(ctx, containers.AxisFreq); err != nil {
			return err
		}
	}
	h := s.header(kindSidereal, ss.Vis, ss.Attrs)
	h.Axes = axes{Freq: ss.Freq, RA: ss.RA, Input: ss.Input, Prod: ss.Prod, Stack: ss.Stack, ReverseStack: ss.ReverseStack}
	return s.write(name, h, payload{Vis: ss.Vis.Local(), Weight: ss.Weight.Local()})
}

// SaveTimeStream writes the caller's shard of ts, which must be distributed
// over frequency.
func (s *Store) SaveTimeStream(name string, ts *containers.TimeStream) error {
	if ts.Vis.Axis() != containers.AxisFreq {
		return fmt.Errorf("store: time stream is distributed over axis %d, not frequency", ts.Vis.Axis())
	}
	h := s.header(kindTimeStream, ts.Vis, ts.Attrs)
	h.Axes = axes{Freq: ts.Freq, Input: ts.Input, Prod: ts.Prod, Stack: ts.Stack, ReverseStack: ts.ReverseStack, Time: ts.Time, Samples: ts.Samples}
	return s.write(name, h, payload{Vis: ts.Vis.Local(), Weight: ts.Weight.Local()})
}

// SaveMap writes the caller's shard of a sky map.
func (s *Store) SaveMap(name string, m *containers.Map) error {
	h := s.header(kindMap, m.Data, m.Attrs)
	h.Axes = axes{Freq: m.Freq, NPol: m.NPol, NTheta: m.NTheta, NPhi: m.NPhi}
	return s.write(name, h, payload{Data: m.Data.Local()})
}

type distributed interface {
	Comm() *mpiarray.Comm
	Shape() []int
	LocalShape() []int
	LocalOffset() int
}

func (s *Store) header(kind string, arr distributed, attrs containers.Attrs) header {
	out := maps.Clone(attrs)
	if out == nil {
		out = containers.Attrs{}
	}
	if _, ok := out[RunIDAttr]; !ok {
		out[RunIDAttr] = s.RunID
	}
	comm := arr.Comm()
	return header{
		Kind:   kind,
		RunID:  s.RunID,
		Rank:   comm.Rank(),
		Size:   comm.Size(),
		Shape:  arr.Shape(),
		Offset: arr.LocalOffset(),
		Count:  arr.LocalShape()[containers.AxisFreq],
		Attrs:  out,
	}
}

func (s *Store) write(name string, h header, p payload) error {
	if err := checkName(name); err != nil {
		return err
	}
	if h.Rank == 0 {
		if err := removeStale(s.Dir, name, h.Size); err != nil {
			return err
		}
	}
	path := ShardPath(s.Dir, name, h.Rank)
	tmp, err := os.CreateTemp(s.Dir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := gob.NewEncoder(w)
	if err := enc.Encode(h); err != nil {
		tmp.Close()
		return fmt.Errorf("store: encode header of %s: %w", name, err)
	}
	if err := enc.Encode(p); err != nil {
		tmp.Close()
		return fmt.Errorf("store: encode data of %s: %w", name, err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if h.Rank == 0 {
		s.logger.Info("container saved",
			logging.F("name", name),
			logging.F("kind", h.Kind),
			logging.F("shards", h.Size),
			logging.F("dir", s.Dir),
		)
	}
	return nil
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("store: invalid container name %q", name)
	}
	return nil
}

// removeStale deletes shards left by an earlier save with more workers.
func removeStale(dir, name string, size int) error {
	paths, err := shardPaths(dir, name)
	if err != nil {
		return err
	}
	for rank, path := range paths {
		if rank < size {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("store: remove stale shard: %w", err)
		}
	}
	return nil
}

// shardPaths maps rank to shard file for every shard of name.
func shardPaths(dir, name string) (map[int]string, error) {
	pattern := filepath.Join(dir, name+".rank-*.gob")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	out := make(map[int]string, len(matches))
	prefix := name + ".rank-"
	for _, m := range matches {
		base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".gob")
		rank, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		out[rank] = m
	}
	return out, nil
}
