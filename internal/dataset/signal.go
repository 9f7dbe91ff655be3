package dataset

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// ErrChunkNotFound is returned by a ChunkStore when it holds no entry for the
// requested key.
var ErrChunkNotFound = errors.New("dataset: chunk not found")

// SliceSource reads one signal-shaped slice at a navigation index tuple from
// a lazy backing array (e.g. a zarr store or an on-the-fly computation).
type SliceSource interface {
	ReadSlice(navIndex []int) (*ndarray.Array, error)
}

// ChunkStore is a persistent second-level cache for computed chunks.
type ChunkStore interface {
	GetChunk(signalID string, key uint64) (*ndarray.Array, error)
	PutChunk(signalID string, key uint64, a *ndarray.Array) error
}

// DefaultChunkCacheSize bounds the in-memory LRU per signal.
const DefaultChunkCacheSize = 128

// Signal is one node's backing array: either fully materialized in memory or
// lazy behind a SliceSource. Lazy signals answer GetChunk with futures so the
// interactive path never blocks on a chunk computation.
type Signal struct {
	ID   string
	Name string

	navShape []int
	sigShape []int

	data   *ndarray.Array // materialized nav+sig array, nil when lazy
	source SliceSource    // lazy slice reader, nil when materialized

	exec   *Executor
	cache  *lru.Cache[uint64, *ndarray.Array]
	store  ChunkStore
	logger *log.Logger

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// SignalConfig describes a new Signal. Exactly one of Data and Source must be
// set; lazy signals additionally need an Executor.
type SignalConfig struct {
	Name     string
	NavShape []int
	SigShape []int

	// Data is the materialized nav+sig array.
	Data *ndarray.Array
	// Source backs a lazy signal.
	Source SliceSource

	Executor *Executor
	// CacheSize bounds the in-memory chunk LRU; 0 means DefaultChunkCacheSize.
	CacheSize int
	// Store is an optional persistent chunk cache.
	Store ChunkStore
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// NewSignal validates cfg and builds the signal.
func NewSignal(cfg SignalConfig) (*Signal, error) {
	if (cfg.Data == nil) == (cfg.Source == nil) {
		return nil, fmt.Errorf("dataset: signal %q needs exactly one of Data or Source", cfg.Name)
	}
	if len(cfg.NavShape) == 0 && cfg.Source != nil {
		return nil, fmt.Errorf("dataset: lazy signal %q needs a navigation shape", cfg.Name)
	}
	if cfg.Data != nil {
		want := append(append([]int{}, cfg.NavShape...), cfg.SigShape...)
		if len(cfg.Data.Shape) != len(want) {
			return nil, fmt.Errorf("dataset: signal %q data rank %d does not match nav%v + sig%v",
				cfg.Name, len(cfg.Data.Shape), cfg.NavShape, cfg.SigShape)
		}
		for i, s := range want {
			if cfg.Data.Shape[i] != s {
				return nil, fmt.Errorf("dataset: signal %q data shape %v does not match nav%v + sig%v",
					cfg.Name, cfg.Data.Shape, cfg.NavShape, cfg.SigShape)
			}
		}
	}
	if cfg.Source != nil && cfg.Executor == nil {
		return nil, fmt.Errorf("dataset: lazy signal %q needs an executor", cfg.Name)
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultChunkCacheSize
	}
	cache, err := lru.New[uint64, *ndarray.Array](size)
	if err != nil {
		return nil, fmt.Errorf("dataset: chunk cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Signal{
		ID:       newID(),
		Name:     cfg.Name,
		navShape: cloneInts(cfg.NavShape),
		sigShape: cloneInts(cfg.SigShape),
		data:     cfg.Data,
		source:   cfg.Source,
		exec:     cfg.Executor,
		cache:    cache,
		store:    cfg.Store,
		logger:   logger,
	}, nil
}

// IsLazy reports whether chunk access goes through the async fetch path.
func (s *Signal) IsLazy() bool { return s.source != nil }

// NavShape returns the navigation axes' sizes.
func (s *Signal) NavShape() []int { return cloneInts(s.navShape) }

// SigShape returns the signal axes' sizes.
func (s *Signal) SigShape() []int { return cloneInts(s.sigShape) }

// Data returns the materialized array, or nil for lazy signals.
func (s *Signal) Data() *ndarray.Array { return s.data }

// CacheStats returns in-memory chunk cache hit/miss counts.
func (s *Signal) CacheStats() (hits, misses int64) {
	return s.cacheHits.Load(), s.cacheMisses.Load()
}

// Slice aggregates the materialized data over the given navigation index rows:
// the element-wise mean of the selected slices. It is only valid for
// non-lazy signals.
func (s *Signal) Slice(indices *ndarray.IntMatrix) (*ndarray.Array, error) {
	if s.data == nil {
		return nil, fmt.Errorf("dataset: signal %q is lazy, use GetChunk", s.Name)
	}
	if indices.IsEmpty() {
		return nil, fmt.Errorf("dataset: empty index selection for signal %q", s.Name)
	}
	slices := make([]*ndarray.Array, 0, indices.Rows)
	for r := 0; r < indices.Rows; r++ {
		sub, err := s.data.SubSlice(indices.Row(r)...)
		if err != nil {
			return nil, fmt.Errorf("dataset: slicing signal %q: %w", s.Name, err)
		}
		slices = append(slices, sub)
	}
	return ndarray.MeanArrays(slices)
}

// GetChunk returns the aggregate over the given navigation index rows for a
// lazy signal. Cached results resolve synchronously (the fast path); otherwise
// the computation is dispatched and a pending future is returned when
// returnFuture is true, or computed inline when it is false.
//
// Exactly one of the array and the future is non-nil on success.
func (s *Signal) GetChunk(indices *ndarray.IntMatrix, returnFuture bool) (*ndarray.Array, *Future, error) {
	if s.source == nil {
		return nil, nil, fmt.Errorf("dataset: signal %q is not lazy", s.Name)
	}
	if indices.IsEmpty() {
		return nil, nil, fmt.Errorf("dataset: empty index selection for signal %q", s.Name)
	}
	key, err := chunkKey(indices)
	if err != nil {
		return nil, nil, err
	}

	if val, ok := s.cache.Get(key); ok {
		s.cacheHits.Add(1)
		return val, nil, nil
	}
	if s.store != nil {
		if val, err := s.store.GetChunk(s.ID, key); err == nil {
			s.cacheHits.Add(1)
			s.cache.Add(key, val)
			return val, nil, nil
		} else if !errors.Is(err, ErrChunkNotFound) {
			s.logger.Printf("signal %q: chunk store read failed: %v", s.Name, err)
		}
	}
	s.cacheMisses.Add(1)

	rows := indices.Clone()
	compute := func() (*ndarray.Array, error) {
		val, err := s.computeChunk(rows)
		if err != nil {
			return nil, err
		}
		s.cache.Add(key, val)
		if s.store != nil {
			if err := s.store.PutChunk(s.ID, key, val); err != nil {
				s.logger.Printf("signal %q: chunk store write failed: %v", s.Name, err)
			}
		}
		return val, nil
	}
	if !returnFuture {
		val, err := compute()
		return val, nil, err
	}
	return nil, s.exec.Submit(compute), nil
}

func (s *Signal) computeChunk(indices *ndarray.IntMatrix) (*ndarray.Array, error) {
	slices := make([]*ndarray.Array, 0, indices.Rows)
	for r := 0; r < indices.Rows; r++ {
		sub, err := s.source.ReadSlice(indices.Row(r))
		if err != nil {
			return nil, fmt.Errorf("dataset: reading slice %v of signal %q: %w", indices.Row(r), s.Name, err)
		}
		slices = append(slices, sub)
	}
	return ndarray.MeanArrays(slices)
}

// chunkKey derives the cache key for an index selection.
func chunkKey(indices *ndarray.IntMatrix) (uint64, error) {
	key, err := hashstructure.Hash(indices, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("dataset: hashing index selection: %w", err)
	}
	return key, nil
}

func cloneInts(in []int) []int {
	out := make([]int, len(in))
	copy(out, in)
	return out
}
