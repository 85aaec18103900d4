// Package hierarchy implements one-dimensional centroid-linkage hierarchical
// clustering with dendrogram cutting, used by outlier rejection to separate
// typical signatures from atypical ones by their distance-matrix sums.
package hierarchy

import (
	"math"
	"sort"
)

// Merge records one agglomeration step. A and B identify the merged clusters:
// ids below n refer to original observations, id n+i refers to the cluster
// produced by merge step i. Height is the centroid distance at which the
// merge happened and Size the number of observations in the merged cluster.
type Merge struct {
	A, B   int
	Height float64
	Size   int
}

// Linkage clusters one-dimensional observations by centroid linkage: at every
// step the two active clusters with the closest centroids merge, the new
// centroid being the observation-weighted mean. Equal distances resolve to
// the pair found first in the fixed scan order over active clusters, so the
// dendrogram is deterministic.
func Linkage(points []float64) []Merge {
	n := len(points)
	if n < 2 {
		return nil
	}

	type cluster struct {
		id       int
		centroid float64
		size     int
	}
	active := make([]cluster, n)
	for i, p := range points {
		active[i] = cluster{id: i, centroid: p, size: 1}
	}

	merges := make([]Merge, 0, n-1)
	for step := 0; len(active) > 1; step++ {
		bi, bk := 0, 1
		best := math.Inf(1)
		for i := 0; i < len(active); i++ {
			for k := i + 1; k < len(active); k++ {
				d := math.Abs(active[i].centroid - active[k].centroid)
				if d < best {
					best, bi, bk = d, i, k
				}
			}
		}

		a, b := active[bi], active[bk]
		if b.id < a.id {
			a, b = b, a
		}
		size := a.size + b.size
		merged := cluster{
			id:       n + step,
			centroid: (a.centroid*float64(a.size) + b.centroid*float64(b.size)) / float64(size),
			size:     size,
		}
		merges = append(merges, Merge{A: a.id, B: b.id, Height: best, Size: size})

		active[bi] = merged
		active = append(active[:bk], active[bk+1:]...)
	}
	return merges
}

// Cut flattens a dendrogram at height t: a merge contributes to the flat
// clustering only if its own height and the heights of every merge beneath it
// are <= t. Returns one label per original observation; labels are assigned
// in order of each cluster's smallest member index, starting at 0.
func Cut(merges []Merge, n int, t float64) []int {
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

	// root observation of each merge node, or -1 where the subtree contains a
	// merge above the cut
	root := make([]int, n+len(merges))
	for i := 0; i < n; i++ {
		root[i] = i
	}
	for i, m := range merges {
		ra, rb := root[m.A], root[m.B]
		if m.Height > t || ra < 0 || rb < 0 {
			root[n+i] = -1
			continue
		}
		ra, rb = find(ra), find(rb)
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
		root[n+i] = ra
	}

	labels := make([]int, n)
	next := 0
	seen := map[int]int{}
	for i := 0; i < n; i++ {
		r := find(i)
		id, ok := seen[r]
		if !ok {
			id = next
			next++
			seen[r] = id
		}
		labels[i] = id
	}
	return labels
}

// Groups inverts a label slice into per-cluster member index lists, each list
// sorted ascending and the lists ordered by label.
func Groups(labels []int) [][]int {
	max := -1
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	groups := make([][]int, max+1)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	for _, g := range groups {
		sort.Ints(g)
	}
	return groups
}
