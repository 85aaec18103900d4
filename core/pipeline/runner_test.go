package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quenchlab/facet/core/config"
	"github.com/quenchlab/facet/core/errs"
	"github.com/quenchlab/facet/core/signature"
)

// writeScene writes a frame holding an eight-particle chain, a dimer, and an
// isolated particle, well separated inside a large box. Under the default
// cutoff this yields exactly five local environments: chain end, next-to-end,
// chain interior, dimer member, and the loner.
func writeScene(t *testing.T, dir, name string, shift float64) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("11\n30 30 30\n")
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, "X %g 1 1\n", 1+shift+float64(i))
	}
	fmt.Fprintf(&b, "X %g 6 1\n", 1+shift)
	fmt.Fprintf(&b, "X %g 6 1\n", 2+shift)
	fmt.Fprintf(&b, "X %g 12 1\n", 1+shift)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func sceneConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Pipeline.Workers = 2
	cfg.Output.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestSelectFrames(t *testing.T) {
	files := []string{"run/a.xyz", "run/b.xyz", "run/b.bak", "run/c.xyz"}

	got, err := SelectFrames(files, nil, nil)
	require.NoError(t, err)
	require.Equal(t, files, got)

	got, err = SelectFrames(files, []string{"*.xyz"}, []string{"b.*"})
	require.NoError(t, err)
	require.Equal(t, []string{"run/a.xyz", "run/c.xyz"}, got)

	_, err = SelectFrames(files, []string{"[bad"}, nil)
	require.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	frames := []string{
		writeScene(t, dir, "frame-0.xyz", 0),
		writeScene(t, dir, "frame-1.xyz", 0.25),
	}

	cfg := sceneConfig(t)
	cfg.Output.Library = filepath.Join(cfg.Output.Dir, "signatures.msgpack")

	require.NoError(t, New(cfg).Run(context.Background(), frames))

	for _, f := range frames {
		data, err := os.ReadFile(filepath.Join(cfg.Output.Dir, filepath.Base(f)+".cmap"))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 11, "one color record per particle")
		for _, line := range lines {
			require.False(t, strings.HasPrefix(line, "-1 "), "every particle classified")
		}
	}

	_, err := os.Stat(filepath.Join(cfg.Output.Dir, cfg.Output.Manifold))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Output.Dir, cfg.Output.Manifold+".cmap"))
	require.NoError(t, err)

	lib, err := signature.Load(cfg.Output.Library)
	require.NoError(t, err)
	require.Len(t, lib.Keys(), 5)
}

func TestRunSkipsMalformedFrames(t *testing.T) {
	dir := t.TempDir()
	good := writeScene(t, dir, "good.xyz", 0)
	bad := filepath.Join(dir, "bad.xyz")
	require.NoError(t, os.WriteFile(bad, []byte("not a frame\n"), 0o644))

	cfg := sceneConfig(t)
	require.NoError(t, New(cfg).Run(context.Background(), []string{good, bad}))

	_, err := os.Stat(filepath.Join(cfg.Output.Dir, "good.xyz.cmap"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Output.Dir, "bad.xyz.cmap"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRunStrictFailsOnMalformedFrame(t *testing.T) {
	dir := t.TempDir()
	good := writeScene(t, dir, "good.xyz", 0)
	bad := filepath.Join(dir, "bad.xyz")
	require.NoError(t, os.WriteFile(bad, []byte("not a frame\n"), 0o644))

	cfg := sceneConfig(t)
	cfg.Pipeline.Strict = true
	err := New(cfg).Run(context.Background(), []string{good, bad})
	require.ErrorIs(t, err, errs.ErrData)
}

func TestRunRejectsEmptySelection(t *testing.T) {
	cfg := sceneConfig(t)
	err := New(cfg).Run(context.Background(), nil)
	require.ErrorIs(t, err, errs.ErrConfiguration)

	cfg.Pipeline.Exclude = []string{"*"}
	err = New(cfg).Run(context.Background(), []string{"a.xyz"})
	require.ErrorIs(t, err, errs.ErrConfiguration)
}
