package discovery

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/indexd/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type project struct {
	root string
	id   int64
}

func mkRoot(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".indexroot"), nil, 0o644))
}

func countingFactory(calls *atomic.Int64) Factory[*project] {
	return func(root string) (*project, error) {
		n := calls.Add(1)
		return &project{root: root, id: n}, nil
	}
}

func TestLookupReturnsSameCachedValue(t *testing.T) {
	testlog.Start(t)

	base := t.TempDir()
	root := filepath.Join(base, "proj")
	mkRoot(t, root)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o755))

	var calls atomic.Int64
	c := NewCache(NewMarkerProber(".indexroot"), countingFactory(&calls), Hooks{})

	first, ok := c.LookupByAnyPath(filepath.Join(root, "src", "pkg", "a.go"))
	require.True(t, ok)
	require.Equal(t, root, first.root)

	for _, p := range []string{
		filepath.Join(root, "b.go"),
		filepath.Join(root, "src", "c.go"),
		filepath.Join(root, "src", "pkg", "d.go"),
		root,
	} {
		got, ok := c.LookupByAnyPath(p)
		require.True(t, ok, p)
		require.Same(t, first, got, p)
	}
	require.EqualValues(t, 1, calls.Load())

	byRoot, ok := c.LookupByRootPath(root)
	require.True(t, ok)
	require.Same(t, first, byRoot)

	stats := c.Stats()
	require.Equal(t, 1, stats.Roots)
	require.EqualValues(t, 1, stats.Probes)
	require.EqualValues(t, 4, stats.Hits)
}

func TestLookupByRootPathNeverProbes(t *testing.T) {
	testlog.Start(t)

	root := filepath.Join(t.TempDir(), "proj")
	mkRoot(t, root)

	var probes atomic.Int64
	prober := ProberFunc(func(path string) (string, bool, error) {
		probes.Add(1)
		return NewMarkerProber(".indexroot").FindRoot(path)
	})
	var calls atomic.Int64
	c := NewCache(prober, countingFactory(&calls), Hooks{})

	_, ok := c.LookupByRootPath(root)
	require.False(t, ok)
	require.Zero(t, probes.Load())
}

func TestNegativeCacheShortCircuitsSiblings(t *testing.T) {
	testlog.Start(t)

	dir := filepath.Join(t.TempDir(), "loose", "files")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var probes atomic.Int64
	prober := ProberFunc(func(path string) (string, bool, error) {
		probes.Add(1)
		return NewMarkerProber(".indexroot").FindRoot(path)
	})
	var calls atomic.Int64
	c := NewCache(prober, countingFactory(&calls), Hooks{})

	_, ok := c.LookupByAnyPath(filepath.Join(dir, "a.txt"))
	require.False(t, ok)
	require.True(t, c.isNegative(dir))
	require.True(t, c.isNegative(filepath.Dir(dir)))

	_, ok = c.LookupByAnyPath(filepath.Join(dir, "b.txt"))
	require.False(t, ok)
	require.EqualValues(t, 1, probes.Load())
	require.Zero(t, calls.Load())
	require.EqualValues(t, 1, c.Stats().NegativeHits)
}

func TestRegisterClearsNegativeEntriesBelowRoot(t *testing.T) {
	testlog.Start(t)

	base := t.TempDir()
	inner := filepath.Join(base, "later", "src")
	require.NoError(t, os.MkdirAll(inner, 0o755))

	var calls atomic.Int64
	c := NewCache(NewMarkerProber(".indexroot"), countingFactory(&calls), Hooks{})

	_, ok := c.LookupByAnyPath(filepath.Join(inner, "x.go"))
	require.False(t, ok)
	require.True(t, c.isNegative(inner))

	// A marker appears at base/later. Lookups under a different, uncached
	// directory discover it and the stale negatives below it are dropped.
	later := filepath.Join(base, "later")
	mkRoot(t, later)
	other := filepath.Join(later, "docs")
	require.NoError(t, os.MkdirAll(other, 0o755))

	got, ok := c.LookupByAnyPath(filepath.Join(other, "readme.md"))
	require.True(t, ok)
	require.Equal(t, later, got.root)
	require.False(t, c.isNegative(inner))
	require.False(t, c.isNegative(later))

	// Entries above the root stay negative; a root and a negative entry
	// never coexist for the same directory.
	require.True(t, c.isNegative(base))

	got, ok = c.LookupByAnyPath(filepath.Join(inner, "x.go"))
	require.True(t, ok)
	require.Equal(t, later, got.root)
}

func TestInvalidateAfterRootDeleted(t *testing.T) {
	testlog.Start(t)

	base := t.TempDir()
	root := filepath.Join(base, "proj")
	mkRoot(t, root)

	var removed []string
	var calls atomic.Int64
	c := NewCache(NewMarkerProber(".indexroot"), countingFactory(&calls), Hooks{
		OnInvalidate: func(paths []string) { removed = paths },
	})

	path := filepath.Join(root, "main.go")
	_, ok := c.LookupByAnyPath(path)
	require.True(t, ok)

	require.NoError(t, os.RemoveAll(root))
	require.Equal(t, []string{root}, c.Invalidate())
	require.Equal(t, []string{root}, removed)

	_, ok = c.LookupByAnyPath(path)
	require.False(t, ok)
	_, ok = c.LookupByRootPath(root)
	require.False(t, ok)
	require.Empty(t, c.Roots())
}

func TestInvalidateKeepsLiveEntries(t *testing.T) {
	testlog.Start(t)

	base := t.TempDir()
	root := filepath.Join(base, "proj")
	mkRoot(t, root)
	loose := filepath.Join(base, "loose")
	require.NoError(t, os.MkdirAll(loose, 0o755))

	var calls atomic.Int64
	c := NewCache(NewMarkerProber(".indexroot"), countingFactory(&calls), Hooks{})
	_, ok := c.LookupByAnyPath(filepath.Join(root, "a.go"))
	require.True(t, ok)
	_, ok = c.LookupByAnyPath(filepath.Join(loose, "b.go"))
	require.False(t, ok)

	require.NoError(t, os.RemoveAll(loose))
	require.Equal(t, []string{loose}, c.Invalidate())
	require.Equal(t, []string{root}, c.Roots())
	require.False(t, c.isNegative(loose))
	require.True(t, c.isNegative(base))
}

func TestProbeAndFactoryErrorsReportNoProject(t *testing.T) {
	testlog.Start(t)

	boom := errors.New("boom")
	c := NewCache(ProberFunc(func(string) (string, bool, error) {
		return "", false, boom
	}), func(string) (int, error) { return 1, nil }, Hooks{})
	_, ok := c.LookupByAnyPath("/nowhere/file")
	require.False(t, ok)
	require.Zero(t, c.Stats().Negatives, "probe failures are not memoized")

	c2 := NewCache(ProberFunc(func(string) (string, bool, error) {
		return "/repo", true, nil
	}), func(string) (int, error) { return 0, boom }, Hooks{})
	_, ok = c2.LookupByAnyPath("/repo/file")
	require.False(t, ok)
	require.Empty(t, c2.Roots())
}

func TestConcurrentLookupsConverge(t *testing.T) {
	testlog.Start(t)

	root := filepath.Join(t.TempDir(), "proj")
	mkRoot(t, root)

	var registered atomic.Int64
	var calls atomic.Int64
	c := NewCache(NewMarkerProber(".indexroot"), countingFactory(&calls), Hooks{
		OnRegister: func(string) { registered.Add(1) },
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok := c.LookupByAnyPath(filepath.Join(root, "f.go"))
			if assert.True(t, ok) {
				assert.Equal(t, root, v.root)
			}
		}()
	}
	wg.Wait()

	// Racing first lookups may each build a value; afterwards every lookup
	// sees the single stored winner.
	require.GreaterOrEqual(t, calls.Load(), int64(1))
	require.Equal(t, calls.Load(), registered.Load())
	stored, ok := c.LookupByRootPath(root)
	require.True(t, ok)
	again, ok := c.LookupByAnyPath(filepath.Join(root, "g.go"))
	require.True(t, ok)
	require.Same(t, stored, again)
}

func TestAncestorsNearestFirst(t *testing.T) {
	testlog.Start(t)

	p := filepath.Join(string(filepath.Separator), "a", "b", "c")
	got := Ancestors(p)
	require.Equal(t, p, got[0])
	require.Equal(t, filepath.Dir(p), got[1])
	require.Equal(t, string(filepath.Separator), got[len(got)-1])
}
