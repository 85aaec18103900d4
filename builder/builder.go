// Package builder constructs per-frame signature libraries from raw
// coordinates. It is the default graph-construction collaborator: a cell-list
// neighbor search under periodic boundaries feeds a shell-expanded degree
// profile of each particle's neighborhood, which is content-hashed into a
// canonical signature key. Deployments with their own canonical-graph codes
// plug in behind the Builder interface.
package builder

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quenchlab/facet/core/errs"
	"github.com/quenchlab/facet/core/signature"
	"github.com/quenchlab/facet/trajectory"
)

// degreeBins caps the per-shell degree histogram; coordination numbers in
// condensed phases stay well below this.
const degreeBins = 16

// Builder turns one frame into a signature library plus the per-particle
// lookup the ensemble needs for output reconstruction.
type Builder interface {
	Build(f *trajectory.Frame) (*signature.Library, signature.FrameLookup, error)
}

// CellBuilder is the bundled Builder: neighbors within Cutoff found through a
// cell list, descriptors accumulated over Shells neighbor shells. Identical
// local environments are memoized in an LRU cache so only the first
// occurrence pays for hashing.
type CellBuilder struct {
	Cutoff float64
	Shells int

	memo *lru.Cache[string, string]
}

// NewCellBuilder validates the geometry parameters and sizes the memo cache.
func NewCellBuilder(cutoff float64, shells, cacheSize int) (*CellBuilder, error) {
	if cutoff <= 0 {
		return nil, fmt.Errorf("%w: neighbor cutoff must be positive, got %g", errs.ErrConfiguration, cutoff)
	}
	if shells < 1 {
		return nil, fmt.Errorf("%w: shell count must be >= 1, got %d", errs.ErrConfiguration, shells)
	}
	if cacheSize < 2 {
		cacheSize = 2
	}
	memo, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &CellBuilder{Cutoff: cutoff, Shells: shells, memo: memo}, nil
}

// Build classifies every particle in the frame. Each distinct descriptor
// becomes one library signature carrying its occurrence count and the size of
// its largest connected cluster.
func (b *CellBuilder) Build(f *trajectory.Frame) (*signature.Library, signature.FrameLookup, error) {
	neighbors := b.neighborLists(f)

	lib := signature.NewLibrary()
	lookup := make(signature.FrameLookup)
	keys := make([]string, f.N)
	for i := 0; i < f.N; i++ {
		desc := b.describe(i, neighbors)
		key := b.keyFor(desc)
		keys[i] = key
		if err := lib.Add(key, desc, 1, 1); err != nil {
			return nil, nil, err
		}
		lookup[key] = append(lookup[key], i)
	}

	for key, size := range largestClusters(keys, neighbors) {
		// re-adding with zero count only lifts the cluster size
		if err := lib.Add(key, nil, 0, size); err != nil {
			return nil, nil, err
		}
	}
	return lib, lookup, nil
}

// neighborLists bins particles into cells no smaller than the cutoff and
// scans the 27 surrounding cells, wrapping across periodic axes only.
func (b *CellBuilder) neighborLists(f *trajectory.Frame) [][]int {
	cells, counts := b.binParticles(f)
	cut2 := b.Cutoff * b.Cutoff
	out := make([][]int, f.N)

	within := func(i, k int) bool {
		d := f.Wrap(trajectory.Vec3{
			f.XYZ[i][0] - f.XYZ[k][0],
			f.XYZ[i][1] - f.XYZ[k][1],
			f.XYZ[i][2] - f.XYZ[k][2],
		})
		return d[0]*d[0]+d[1]*d[1]+d[2]*d[2] < cut2
	}

	for cell, members := range cells {
		for _, other := range adjacentCells(cell, counts, f.PBC) {
			if other == cell {
				for a, i := range members {
					for _, k := range members[a+1:] {
						if within(i, k) {
							out[i] = append(out[i], k)
							out[k] = append(out[k], i)
						}
					}
				}
				continue
			}
			// each unordered cell pair shows up twice in this scan, once
			// from each side, so only the i side gains edges here
			for _, i := range members {
				for _, k := range cells[other] {
					if within(i, k) {
						out[i] = append(out[i], k)
					}
				}
			}
		}
	}
	return out
}

type cellIndex [3]int

func (b *CellBuilder) binParticles(f *trajectory.Frame) (map[cellIndex][]int, [3]int) {
	var counts [3]int
	for d := 0; d < 3; d++ {
		counts[d] = int(math.Floor(f.Box[d] / b.Cutoff))
		if counts[d] < 1 {
			counts[d] = 1
		}
	}
	cells := make(map[cellIndex][]int)
	for i, p := range f.XYZ {
		var c cellIndex
		for d := 0; d < 3; d++ {
			if f.Box[d] <= 0 {
				continue
			}
			frac := p[d] / f.Box[d]
			frac -= math.Floor(frac)
			c[d] = int(frac * float64(counts[d]))
			if c[d] >= counts[d] {
				c[d] = counts[d] - 1
			}
		}
		cells[c] = append(cells[c], i)
	}
	return cells, counts
}

// adjacentCells lists the distinct neighbor cells of c, wrapping only along
// periodic axes. Cells are deduplicated so small boxes do not double-count.
func adjacentCells(c cellIndex, counts [3]int, pbc [3]bool) []cellIndex {
	seen := make(map[cellIndex]bool, 27)
	var out []cellIndex
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				n := cellIndex{c[0] + dx, c[1] + dy, c[2] + dz}
				ok := true
				for d := 0; d < 3; d++ {
					if n[d] < 0 || n[d] >= counts[d] {
						if !pbc[d] {
							ok = false
							break
						}
						n[d] = ((n[d] % counts[d]) + counts[d]) % counts[d]
					}
				}
				if ok && !seen[n] {
					seen[n] = true
					out = append(out, n)
				}
			}
		}
	}
	return out
}

// describe builds the shell-expanded degree profile of particle i: for the
// particle itself and each of Shells successive neighbor shells, a histogram
// of member coordination numbers.
func (b *CellBuilder) describe(i int, neighbors [][]int) []float64 {
	desc := make([]float64, (b.Shells+1)*degreeBins)
	visited := map[int]bool{i: true}
	shell := []int{i}

	for s := 0; s <= b.Shells; s++ {
		for _, p := range shell {
			deg := len(neighbors[p])
			if deg >= degreeBins {
				deg = degreeBins - 1
			}
			desc[s*degreeBins+deg]++
		}
		if s == b.Shells {
			break
		}
		var next []int
		for _, p := range shell {
			for _, q := range neighbors[p] {
				if !visited[q] {
					visited[q] = true
					next = append(next, q)
				}
			}
		}
		shell = next
	}
	return desc
}

// keyFor content-hashes a descriptor into the canonical signature key,
// memoizing via the LRU cache.
func (b *CellBuilder) keyFor(desc []float64) string {
	raw := make([]byte, 8*len(desc))
	for i, v := range desc {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(v))
	}
	memoKey := string(raw)
	if key, ok := b.memo.Get(memoKey); ok {
		return key
	}
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:16])
	b.memo.Add(memoKey, key)
	return key
}

// largestClusters returns, per signature key, the size of the largest
// neighbor-connected cluster of particles sharing that key.
func largestClusters(keys []string, neighbors [][]int) map[string]int {
	n := len(keys)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for i := 0; i < n; i++ {
		for _, k := range neighbors[i] {
			if keys[i] == keys[k] {
				ri, rk := find(i), find(k)
				if ri != rk {
					parent[rk] = ri
				}
			}
		}
	}
	compSize := make(map[int]int)
	for i := 0; i < n; i++ {
		compSize[find(i)]++
	}
	out := make(map[string]int, len(compSize))
	for i := 0; i < n; i++ {
		if size := compSize[find(i)]; size > out[keys[i]] {
			out[keys[i]] = size
		}
	}
	return out
}
