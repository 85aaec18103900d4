// Package signature implements the content-addressed library of distinct
// structural signatures. Every local neighborhood observed in a trajectory
// reduces to a canonical key plus a fixed-length descriptor vector; the
// library interns each key once, assigns it a stable dense index that fixes
// its distance-matrix row, and accumulates occurrence statistics across
// frames and workers.
package signature

import (
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/quenchlab/facet/core/errs"
)

// Signature is one class of local structural environment: an opaque canonical
// key, the descriptor vector used for distance comparisons, and accumulated
// occurrence statistics. Index is the dense position assigned on first sight;
// it determines the signature's row in every distance matrix and embedding.
type Signature struct {
	Key         string
	Descriptor  []float64
	Count       int
	ClusterSize int
	Index       int
}

// FrameLookup maps each signature key observed in one frame to the local
// particle indices carrying it. It is produced when the frame is built and
// consumed later to reconstruct per-particle output.
type FrameLookup map[string][]int

// Particles returns the particle count covered by the lookup, assuming local
// indices are dense from zero.
func (fl FrameLookup) Particles() int {
	n := 0
	for _, idx := range fl {
		for _, p := range idx {
			if p+1 > n {
				n = p + 1
			}
		}
	}
	return n
}

// Library is an interning table of signatures keyed by canonical key, with a
// dense index per key. All descriptor vectors in one library share a single
// length.
type Library struct {
	origin uuid.UUID
	items  map[string]*Signature
	order  []string
	dim    int
}

// NewLibrary returns an empty library tagged with a fresh origin id. The
// origin survives merges only as a diagnostic: collision errors during
// cross-worker reduction name the origins involved.
func NewLibrary() *Library {
	return &Library{
		origin: uuid.New(),
		items:  make(map[string]*Signature),
	}
}

// Origin returns the library's identity tag.
func (l *Library) Origin() uuid.UUID { return l.origin }

// Len returns the number of distinct signatures.
func (l *Library) Len() int { return len(l.order) }

// Dim returns the descriptor vector length, or 0 for an empty library.
func (l *Library) Dim() int { return l.dim }

// Add records count observations of key. On first sight the descriptor is
// copied and the next dense index assigned; afterwards the count accumulates
// and the cluster size keeps its maximum. The descriptor length must match
// the library's established dimension.
func (l *Library) Add(key string, descriptor []float64, count, clusterSize int) error {
	if s, ok := l.items[key]; ok {
		s.Count += count
		if clusterSize > s.ClusterSize {
			s.ClusterSize = clusterSize
		}
		return nil
	}
	if l.dim == 0 && len(descriptor) > 0 {
		l.dim = len(descriptor)
	}
	if len(descriptor) != l.dim {
		return fmt.Errorf("%w: descriptor length %d does not match library dimension %d",
			errs.ErrConfiguration, len(descriptor), l.dim)
	}
	s := &Signature{
		Key:         key,
		Descriptor:  append([]float64(nil), descriptor...),
		Count:       count,
		ClusterSize: clusterSize,
		Index:       len(l.order),
	}
	l.items[key] = s
	l.order = append(l.order, key)
	return nil
}

// Merge folds other into l: existing keys accumulate counts and keep the
// larger cluster size, new keys are appended with the next dense indices.
// Merging is idempotent on the key set and additive on counts regardless of
// call order.
func (l *Library) Merge(other *Library) error {
	if other == nil {
		return fmt.Errorf("%w: cannot merge a nil library", errs.ErrConfiguration)
	}
	if l.dim != 0 && other.dim != 0 && l.dim != other.dim {
		return fmt.Errorf("%w: descriptor dimension mismatch merging libraries (%d vs %d)",
			errs.ErrConfiguration, l.dim, other.dim)
	}
	for _, key := range other.order {
		s := other.items[key]
		if err := l.Add(key, s.Descriptor, s.Count, s.ClusterSize); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the signature for key, or nil.
func (l *Library) Get(key string) *Signature { return l.items[key] }

// IndexOf returns the dense index of key.
func (l *Library) IndexOf(key string) (int, bool) {
	s, ok := l.items[key]
	if !ok {
		return 0, false
	}
	return s.Index, true
}

// At returns the signature at dense index i.
func (l *Library) At(i int) *Signature { return l.items[l.order[i]] }

// Keys returns the keys in dense-index order.
func (l *Library) Keys() []string { return append([]string(nil), l.order...) }

// Counts returns per-signature occurrence counts in dense-index order.
func (l *Library) Counts() []float64 {
	out := make([]float64, len(l.order))
	for i, key := range l.order {
		out[i] = float64(l.items[key].Count)
	}
	return out
}

// ClusterSizes returns per-signature representative cluster sizes in
// dense-index order.
func (l *Library) ClusterSizes() []float64 {
	out := make([]float64, len(l.order))
	for i, key := range l.order {
		out[i] = float64(l.items[key].ClusterSize)
	}
	return out
}

// Descriptors returns the n x d matrix of descriptor vectors in dense-index
// order, or nil for an empty library.
func (l *Library) Descriptors() *mat.Dense {
	if len(l.order) == 0 || l.dim == 0 {
		return nil
	}
	m := mat.NewDense(len(l.order), l.dim, nil)
	for i, key := range l.order {
		m.SetRow(i, l.items[key].Descriptor)
	}
	return m
}

// MapFrame resolves one frame's lookup against the library, returning a
// per-particle slice of global dense indices. Particles whose key is unknown
// to the library map to -1.
func (l *Library) MapFrame(lookup FrameLookup) []int {
	out := make([]int, lookup.Particles())
	for i := range out {
		out[i] = -1
	}
	for key, particles := range lookup {
		idx, ok := l.IndexOf(key)
		if !ok {
			continue
		}
		for _, p := range particles {
			out[p] = idx
		}
	}
	return out
}
