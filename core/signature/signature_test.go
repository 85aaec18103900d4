package signature

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quenchlab/facet/core/errs"
)

func mustAdd(t *testing.T, l *Library, key string, desc []float64, count, size int) {
	t.Helper()
	require.NoError(t, l.Add(key, desc, count, size))
}

func TestAddInternsAndAccumulates(t *testing.T) {
	l := NewLibrary()
	mustAdd(t, l, "a", []float64{1, 0}, 2, 4)
	mustAdd(t, l, "b", []float64{0, 1}, 1, 1)
	mustAdd(t, l, "a", []float64{1, 0}, 3, 2)

	require.Equal(t, 2, l.Len())
	require.Equal(t, 2, l.Dim())
	require.Equal(t, 5, l.Get("a").Count)
	require.Equal(t, 4, l.Get("a").ClusterSize, "cluster size tracks the maximum")
	require.Equal(t, 0, l.Get("a").Index)
	require.Equal(t, 1, l.Get("b").Index)
}

func TestAddRejectsDimensionMismatch(t *testing.T) {
	l := NewLibrary()
	mustAdd(t, l, "a", []float64{1, 0}, 1, 1)
	err := l.Add("c", []float64{1, 0, 0}, 1, 1)
	require.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestMergeSelfDoublesCounts(t *testing.T) {
	a := NewLibrary()
	mustAdd(t, a, "x", []float64{1, 2}, 3, 5)
	mustAdd(t, a, "y", []float64{2, 1}, 7, 2)

	b := NewLibrary()
	require.NoError(t, b.Merge(a))
	require.NoError(t, b.Merge(a))

	require.Equal(t, []string{"x", "y"}, b.Keys())
	require.Equal(t, 6, b.Get("x").Count)
	require.Equal(t, 14, b.Get("y").Count)
}

func TestMergeAccumulatesAcrossLibraries(t *testing.T) {
	a := NewLibrary()
	mustAdd(t, a, "X", []float64{1, 0, 0}, 3, 1)

	b := NewLibrary()
	mustAdd(t, b, "X", []float64{1, 0, 0}, 3, 1)
	mustAdd(t, b, "Y", []float64{0, 1, 0}, 1, 1)

	require.NoError(t, a.Merge(b))
	require.Equal(t, 6, a.Get("X").Count)
	require.Equal(t, 1, a.Get("Y").Count)
	require.Equal(t, 2, a.Len())
}

func TestMergeRejectsNilAndMismatch(t *testing.T) {
	a := NewLibrary()
	require.ErrorIs(t, a.Merge(nil), errs.ErrConfiguration)

	mustAdd(t, a, "x", []float64{1, 2}, 1, 1)
	b := NewLibrary()
	mustAdd(t, b, "y", []float64{1, 2, 3}, 1, 1)
	require.ErrorIs(t, a.Merge(b), errs.ErrConfiguration)
}

func TestDescriptorsMatrixFollowsDenseOrder(t *testing.T) {
	l := NewLibrary()
	mustAdd(t, l, "a", []float64{1, 2}, 1, 1)
	mustAdd(t, l, "b", []float64{3, 4}, 1, 1)

	m := l.Descriptors()
	rows, cols := m.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, 2, cols)
	require.Equal(t, 3.0, m.At(1, 0))

	require.Nil(t, NewLibrary().Descriptors())
}

func TestMapFrame(t *testing.T) {
	l := NewLibrary()
	mustAdd(t, l, "a", []float64{1, 0}, 1, 1)
	mustAdd(t, l, "b", []float64{0, 1}, 1, 1)

	lookup := FrameLookup{
		"a":       {0, 3},
		"b":       {1},
		"unknown": {2},
	}
	require.Equal(t, []int{0, 1, -1, 0}, l.MapFrame(lookup))
}

func TestArchiveRoundTrip(t *testing.T) {
	l := NewLibrary()
	mustAdd(t, l, "a", []float64{0.25, -1.5, 3.0}, 4, 9)
	mustAdd(t, l, "b", []float64{1.0, 0.0, 2.5}, 1, 1)

	path := filepath.Join(t.TempDir(), "lib.facetlib")
	require.NoError(t, l.Save(path, PrecisionFull))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, l.Keys(), got.Keys())
	require.Equal(t, l.Origin(), got.Origin())
	require.Equal(t, 4, got.Get("a").Count)
	require.Equal(t, []float64{0.25, -1.5, 3.0}, got.Get("a").Descriptor)
}

func TestArchiveHalfPrecision(t *testing.T) {
	l := NewLibrary()
	mustAdd(t, l, "a", []float64{0.5, 2.0, -0.25}, 1, 1)

	path := filepath.Join(t.TempDir(), "lib.facetlib")
	require.NoError(t, l.Save(path, PrecisionHalf))

	got, err := Load(path)
	require.NoError(t, err)
	// these values are exactly representable in float16
	require.Equal(t, []float64{0.5, 2.0, -0.25}, got.Get("a").Descriptor)
}

func TestArchiveRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(path, []byte("not an archive"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrData))
}

func TestSaveRejectsUnknownPrecision(t *testing.T) {
	err := NewLibrary().Save(filepath.Join(t.TempDir(), "x"), "float8")
	require.ErrorIs(t, err, errs.ErrConfiguration)
}
