package installation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-hub/build-hub/internal/cache"
	"github.com/build-hub/build-hub/internal/moduleset"
)

type fakeInstaller struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeInstaller) Install(ctx context.Context, req Request, targetDir string) (map[string]moduleset.Resolved, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]moduleset.Resolved)
	for _, name := range req.Modules.Names() {
		dir := filepath.Join(targetDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		manifest := `{"name":"` + name + `","version":"1.2.3","main":"main.js"}`
		if err := os.WriteFile(filepath.Join(dir, "bower.json"), []byte(manifest), 0o644); err != nil {
			return nil, err
		}
		out[name] = moduleset.Resolved{Version: "1.2.3", OriginalSource: "^1.0.0"}
	}
	return out, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, inst Installer, clk *clock) *Manager {
	t.Helper()
	policy := cache.NewTTLPolicy(24*time.Hour, 72*time.Hour)
	if clk != nil {
		policy = policy.WithClock(clk.Now)
	}
	m, err := NewManager(ManagerOptions{
		BaseDir:        t.TempDir(),
		Installer:      inst,
		Policy:         policy,
		InstallTimeout: time.Minute,
	})
	require.NoError(t, err)
	return m
}

func TestGetOrCreateInstallsOnceForConcurrentCallers(t *testing.T) {
	installer := &fakeInstaller{release: make(chan struct{})}
	m := newTestManager(t, installer, nil)
	set := moduleset.MustParse("o-grid@^4", "o-fonts@^3")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Installation, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetOrCreate(context.Background(), set, Options{})
		}(i)
	}
	require.Eventually(t, func() bool { return installer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(installer.release)
	wg.Wait()

	assert.Equal(t, int32(1), installer.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
		results[i].Release()
	}
	resolved := results[0].ListResolvedModules()
	assert.Len(t, resolved, 2)
	assert.Equal(t, "1.2.3", resolved["o-grid"].Version)
}

func TestGetOrCreateReusesReadyInstallation(t *testing.T) {
	installer := &fakeInstaller{}
	m := newTestManager(t, installer, nil)
	set := moduleset.MustParse("o-grid@^4")

	first, err := m.GetOrCreate(context.Background(), set, Options{})
	require.NoError(t, err)
	first.Release()
	second, err := m.GetOrCreate(context.Background(), set, Options{})
	require.NoError(t, err)
	second.Release()

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), installer.calls.Load())
}

func TestGetOrCreateFailureRemovesEntry(t *testing.T) {
	installer := &fakeInstaller{err: errors.New("no tag matches ^9")}
	m := newTestManager(t, installer, nil)
	set := moduleset.MustParse("o-grid@^9")

	_, err := m.GetOrCreate(context.Background(), set, Options{})
	var installErr *InstallationError
	require.ErrorAs(t, err, &installErr)
	assert.Contains(t, err.Error(), "no tag matches ^9")
	assert.Equal(t, 0, m.Len())

	_, err = m.GetOrCreate(context.Background(), set, Options{})
	require.Error(t, err)
	assert.Equal(t, int32(2), installer.calls.Load())

	leftovers, err := os.ReadDir(m.baseDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestInstallationErrorHidesLocalPaths(t *testing.T) {
	installer := &pathLeakingInstaller{}
	m := newTestManager(t, installer, nil)

	_, err := m.GetOrCreate(context.Background(), moduleset.MustParse("o-grid@^4"), Options{})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), m.baseDir)
	assert.Contains(t, err.Error(), "o-grid/bower.json")
}

type pathLeakingInstaller struct{}

func (pathLeakingInstaller) Install(_ context.Context, _ Request, targetDir string) (map[string]moduleset.Resolved, error) {
	return nil, errors.New("cannot read " + filepath.Join(targetDir, "o-grid", "bower.json"))
}

func TestCallerCancellationDoesNotAbortInstall(t *testing.T) {
	installer := &fakeInstaller{release: make(chan struct{})}
	m := newTestManager(t, installer, nil)
	set := moduleset.MustParse("o-grid@^4")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.GetOrCreate(ctx, set, Options{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(installer.release)
	inst, err := m.GetOrCreate(context.Background(), set, Options{})
	require.NoError(t, err)
	defer inst.Release()
	assert.Equal(t, int32(1), installer.calls.Load())
}

func TestExactInstallationsLiveLonger(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newTestManager(t, &fakeInstaller{}, clk)

	ranged, err := m.GetOrCreate(context.Background(), moduleset.MustParse("o-grid@^4"), Options{})
	require.NoError(t, err)
	defer ranged.Release()
	exact, err := m.GetOrCreate(context.Background(), moduleset.MustParse("o-grid@4.3.1"), Options{})
	require.NoError(t, err)
	defer exact.Release()

	assert.False(t, ranged.Exact)
	assert.True(t, exact.Exact)
	assert.True(t, exact.ExpiresAt.After(ranged.ExpiresAt))
	assert.Equal(t, clk.Now().Add(24*time.Hour), ranged.ExpiresAt)
	assert.Equal(t, clk.Now().Add(72*time.Hour), exact.ExpiresAt)
}

func TestEvictExpiredSkipsInstallingEntries(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	installer := &fakeInstaller{release: make(chan struct{})}
	m := newTestManager(t, installer, clk)

	done := make(chan error, 1)
	go func() {
		inst, err := m.GetOrCreate(context.Background(), moduleset.MustParse("o-grid@^4"), Options{})
		if err == nil {
			inst.Release()
		}
		done <- err
	}()
	require.Eventually(t, func() bool { return installer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	clk.Advance(100 * time.Hour)
	assert.Equal(t, 0, m.EvictExpired())
	assert.Equal(t, 1, m.Len())

	close(installer.release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, m.EvictExpired())

	clk.Advance(25 * time.Hour)
	assert.Equal(t, 1, m.EvictExpired())
	assert.Equal(t, 0, m.Len())
}

func TestEvictionWaitsForLeaseRelease(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newTestManager(t, &fakeInstaller{}, clk)

	inst, err := m.GetOrCreate(context.Background(), moduleset.MustParse("o-grid@^4"), Options{})
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)
	require.Equal(t, 1, m.EvictExpired())
	_, err = os.Stat(inst.RootPath)
	require.NoError(t, err, "leased directory must survive eviction")

	inst.Release()
	_, err = os.Stat(inst.RootPath)
	assert.True(t, os.IsNotExist(err))
}

func TestNewerThanForcesReinstall(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	installer := &fakeInstaller{}
	m := newTestManager(t, installer, clk)
	set := moduleset.MustParse("o-grid@^4")

	first, err := m.GetOrCreate(context.Background(), set, Options{})
	require.NoError(t, err)
	first.Release()

	clk.Advance(time.Minute)
	second, err := m.GetOrCreate(context.Background(), set, Options{NewerThan: clk.Now()})
	require.NoError(t, err)
	defer second.Release()

	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), installer.calls.Load())
	_, err = os.Stat(first.RootPath)
	assert.True(t, os.IsNotExist(err))
}

func TestLocksAreSeparateEntries(t *testing.T) {
	installer := &fakeInstaller{}
	m := newTestManager(t, installer, nil)
	set := moduleset.MustParse("o-grid@^4")
	locks := moduleset.MustParse("o-grid@4.3.1", "o-brand@1.0.0").Pin()

	a, err := m.GetOrCreate(context.Background(), set, Options{})
	require.NoError(t, err)
	defer a.Release()
	b, err := m.GetOrCreate(context.Background(), set, Options{Locks: locks})
	require.NoError(t, err)
	defer b.Release()

	assert.NotEqual(t, a.Key, b.Key)
	assert.Equal(t, int32(2), installer.calls.Load())
}

func TestEmptySetIsRejected(t *testing.T) {
	m := newTestManager(t, &fakeInstaller{}, nil)
	_, err := m.GetOrCreate(context.Background(), moduleset.New(), Options{})
	assert.ErrorIs(t, err, ErrEmptyModuleSet)
}

func TestNewManagerPurgesStaleDirectories(t *testing.T) {
	base := t.TempDir()
	stale := filepath.Join(base, "install-old")
	require.NoError(t, os.MkdirAll(filepath.Join(stale, "o-grid"), 0o755))
	keep := filepath.Join(base, "unrelated")
	require.NoError(t, os.MkdirAll(keep, 0o755))

	_, err := NewManager(ManagerOptions{BaseDir: base, Installer: &fakeInstaller{}})
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	assert.NoError(t, err)
}
