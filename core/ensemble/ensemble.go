// Package ensemble coordinates the distributed signature analysis: merging
// per-worker signature libraries, selecting landmark signatures, building the
// descriptor distance matrix, rejecting outliers, driving the diffusion-map
// engine, and emitting per-particle and per-signature visualization output.
//
// The pipeline is phase-ordered. Workers populate their local ensembles
// independently (map phase), a single collective reduction merges everything
// onto the coordinator, and every later stage runs on the coordinator alone
// until the final broadcast fans colors back out to the workers.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/mat"

	"github.com/quenchlab/facet/core/colorspace"
	"github.com/quenchlab/facet/core/comm"
	"github.com/quenchlab/facet/core/dmap"
	"github.com/quenchlab/facet/core/errs"
	"github.com/quenchlab/facet/core/metrics"
	"github.com/quenchlab/facet/core/signature"
)

// Phase tracks pipeline progress. Operations verify the phase they depend on
// and fail with ErrNotReady instead of running on absent data.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhasePopulated
	PhasePruned
	PhaseDistances
	PhaseFiltered
	PhaseEmbedded
	PhaseExported
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhasePopulated:
		return "populated"
	case PhasePruned:
		return "pruned"
	case PhaseDistances:
		return "distances-computed"
	case PhaseFiltered:
		return "filtered"
	case PhaseEmbedded:
		return "embedded"
	case PhaseExported:
		return "exported"
	}
	return "unknown"
}

// Ensemble accumulates signature libraries across frames and workers and
// drives the reduction pipeline. One Ensemble exists per worker; after
// Collect the coordinator's instance holds the global state.
type Ensemble struct {
	DMap      *dmap.Engine
	Rotations []colorspace.Rotation
	Seed      int64

	comm       comm.Context
	library    *signature.Library
	lookups    btree.Map[string, signature.FrameLookup]
	frameRanks map[string]int

	dists       *mat.Dense
	lmIdx       []int
	validRows   []int
	validCols   []int
	invalidRows []int

	collected bool
	phase     Phase
}

// New creates an empty ensemble bound to one worker's execution context.
func New(c comm.Context) *Ensemble {
	return &Ensemble{
		DMap:       dmap.NewEngine(),
		Seed:       42,
		comm:       c,
		library:    signature.NewLibrary(),
		frameRanks: make(map[string]int),
	}
}

// Phase returns the current pipeline phase.
func (e *Ensemble) Phase() Phase { return e.phase }

// Library exposes the accumulated signature library.
func (e *Ensemble) Library() *signature.Library { return e.library }

// Landmarks returns the current landmark signature indices.
func (e *Ensemble) Landmarks() []int { return append([]int(nil), e.lmIdx...) }

// Dists returns the distance matrix, or nil before ComputeDists.
func (e *Ensemble) Dists() *mat.Dense { return e.dists }

// ValidRows returns the row indices that survived outlier rejection.
func (e *Ensemble) ValidRows() []int { return append([]int(nil), e.validRows...) }

// InvalidRows returns the exact complement of ValidRows over all signature
// indices.
func (e *Ensemble) InvalidRows() []int { return append([]int(nil), e.invalidRows...) }

// Insert folds one frame's library into this worker's running library and
// records the frame's particle lookup for later output reconstruction. Frame
// keys must be unique per worker.
func (e *Ensemble) Insert(frameKey string, lib *signature.Library, lookup signature.FrameLookup) error {
	if _, dup := e.lookups.Get(frameKey); dup {
		return fmt.Errorf("%w: frame %q inserted twice on rank %d",
			errs.ErrCollectiveMismatch, frameKey, e.comm.Rank())
	}
	if err := e.library.Merge(lib); err != nil {
		return err
	}
	e.lookups.Set(frameKey, lookup)
	e.frameRanks[frameKey] = e.comm.Rank()
	e.phase = PhasePopulated
	metrics.FramesInserted.Inc()
	return nil
}

// contribution is one worker's share of the collective reduction.
type contribution struct {
	Rank    int
	Library *signature.Library
	Lookups map[string]signature.FrameLookup
}

// Collect performs the one-time collective reduction: every worker
// contributes its library and frame lookups, and the coordinator merges them
// into the global state. Duplicate frame keys across workers are rejected,
// naming the frame and both contributors. All ranks block until the
// reduction completes.
func (e *Ensemble) Collect(ctx context.Context) error {
	if e.collected {
		return fmt.Errorf("%w: ensemble already collected", errs.ErrCollectiveMismatch)
	}
	start := time.Now()

	mine := contribution{
		Rank:    e.comm.Rank(),
		Library: e.library,
		Lookups: make(map[string]signature.FrameLookup, e.lookups.Len()),
	}
	e.lookups.Scan(func(key string, lookup signature.FrameLookup) bool {
		mine.Lookups[key] = lookup
		return true
	})

	gathered, err := e.comm.Gather(ctx, mine)
	if err != nil {
		return err
	}
	e.collected = true
	if !e.comm.Coordinator() {
		return nil
	}

	for _, raw := range gathered {
		other := raw.(contribution)
		if other.Rank == e.comm.Rank() {
			continue
		}
		if err := e.library.Merge(other.Library); err != nil {
			return err
		}
		for key, lookup := range other.Lookups {
			if prev, dup := e.frameRanks[key]; dup {
				return fmt.Errorf("%w: frame %q contributed by both rank %d and rank %d",
					errs.ErrCollectiveMismatch, key, prev, other.Rank)
			}
			e.lookups.Set(key, lookup)
			e.frameRanks[key] = other.Rank
		}
	}

	e.phase = PhasePopulated
	metrics.UniqueSignatures.Set(float64(e.library.Len()))
	metrics.PhaseDuration.WithLabelValues("collect").Observe(time.Since(start).Seconds())
	slog.Info("signature reduction complete",
		slog.Int("signatures", e.library.Len()),
		slog.Int("frames", e.lookups.Len()),
		slog.Int("workers", e.comm.Size()),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// FrameMaps resolves every recorded frame lookup against the global library,
// returning per-frame slices of per-particle dense signature indices.
func (e *Ensemble) FrameMaps() map[string][]int {
	out := make(map[string][]int, e.lookups.Len())
	e.lookups.Scan(func(key string, lookup signature.FrameLookup) bool {
		out[key] = e.library.MapFrame(lookup)
		return true
	})
	return out
}

func (e *Ensemble) requirePhase(min Phase, op string) error {
	if e.phase < min {
		return fmt.Errorf("%w: %s requires phase %s, currently %s",
			errs.ErrNotReady, op, min, e.phase)
	}
	return nil
}
