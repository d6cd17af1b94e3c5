package bundle

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/build-hub/build-hub/internal/bundletype/css"
	_ "github.com/build-hub/build-hub/internal/bundletype/js"
	"github.com/build-hub/build-hub/internal/cache"
	"github.com/build-hub/build-hub/internal/installation"
	"github.com/build-hub/build-hub/internal/moduleset"
)

type stubInstaller struct {
	err error
}

func (s stubInstaller) Install(_ context.Context, req installation.Request, targetDir string) (map[string]moduleset.Resolved, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]moduleset.Resolved{"o-brand": {Version: "1.0.0", OriginalSource: "o-brand"}}
	for _, name := range req.Modules.Names() {
		if err := os.MkdirAll(filepath.Join(targetDir, name), 0o755); err != nil {
			return nil, err
		}
		out[name] = moduleset.Resolved{Version: "4.3.1", OriginalSource: name}
	}
	return out, nil
}

type countingCompiler struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	// leakPath 为 true 时返回包含安装目录绝对路径的错误。
	leakPath bool
}

func (c *countingCompiler) Compile(ctx context.Context, req CompileRequest) (Output, error) {
	c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return Output{}, ctx.Err()
		}
	}
	if c.err != nil {
		return Output{}, c.err
	}
	if c.leakPath {
		return Output{}, errors.New("Undefined variable in " + filepath.Join(req.Installation.RootPath, "o-grid", "main.scss"))
	}
	body := "/* " + req.Type + " " + req.Modules.Key() + " minify=" + boolString(req.Minify) + " export=" + req.ExportName + " */"
	return Output{Content: []byte(body)}, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	bundler  *Bundler
	compiler *countingCompiler
	manager  *installation.Manager
	clock    *testClock
}

func newFixture(t *testing.T, inst installation.Installer, compiler *countingCompiler) fixture {
	t.Helper()
	clk := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	manager, err := installation.NewManager(installation.ManagerOptions{
		BaseDir:   filepath.Join(t.TempDir(), "installs"),
		Installer: inst,
		Policy:    cache.NewTTLPolicy(24*time.Hour, 72*time.Hour).WithClock(clk.Now),
	})
	require.NoError(t, err)
	store, err := cache.NewStore(filepath.Join(t.TempDir(), "bundles"))
	require.NoError(t, err)
	b, err := NewBundler(Config{
		Installations:  manager,
		Compiler:       compiler,
		Store:          store,
		Policy:         cache.NewTTLPolicy(24*time.Hour, 72*time.Hour).WithClock(clk.Now),
		CompileTimeout: time.Minute,
	})
	require.NoError(t, err)
	return fixture{bundler: b, compiler: compiler, manager: manager, clock: clk}
}

func readAll(t *testing.T, a *Artifact) string {
	t.Helper()
	r, err := a.Open(context.Background())
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(body)
}

func jsRequest(modules ...string) Request {
	return Request{Type: "js", Modules: moduleset.MustParse(modules...), Options: BuildOptions{Minify: true, ExportName: "Origami"}}
}

func TestGetBundleCompilesOnceForConcurrentCallers(t *testing.T) {
	compiler := &countingCompiler{release: make(chan struct{})}
	f := newFixture(t, stubInstaller{}, compiler)

	const callers = 6
	var wg sync.WaitGroup
	artifacts := make([]*Artifact, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifacts[i], errs[i] = f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
		}(i)
	}
	require.Eventually(t, func() bool { return compiler.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(compiler.release)
	wg.Wait()

	assert.Equal(t, int32(1), compiler.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, artifacts[0], artifacts[i])
	}

	a := artifacts[0]
	assert.Equal(t, "application/javascript", a.MimeType)
	assert.Equal(t, f.clock.Now(), a.CreatedTime)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), a.ExpiryTime)
	assert.Contains(t, readAll(t, a), "minify=true export=Origami")
	assert.Contains(t, a.ShrinkwrapURL, "/v2/bundles/js?")
	assert.Contains(t, a.ShrinkwrapURL, "modules=o-grid%404.3.1")
	assert.Contains(t, a.ShrinkwrapURL, "shrinkwrap=o-brand%401.0.0")
}

func TestGetBundleReturnsCachedArtifact(t *testing.T) {
	f := newFixture(t, stubInstaller{}, &countingCompiler{})

	first, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	require.NoError(t, err)
	second, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.compiler.calls.Load())
}

func TestOptionsProduceDistinctArtifacts(t *testing.T) {
	f := newFixture(t, stubInstaller{}, &countingCompiler{})

	minified, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	require.NoError(t, err)
	req := jsRequest("o-grid@^4")
	req.Options.Minify = false
	plain, err := f.bundler.GetBundle(context.Background(), req)
	require.NoError(t, err)
	css, err := f.bundler.GetBundle(context.Background(), Request{Type: "css", Modules: moduleset.MustParse("o-grid@^4")})
	require.NoError(t, err)

	assert.NotEqual(t, minified.Key, plain.Key)
	assert.NotEqual(t, plain.Key, css.Key)
	assert.Equal(t, "text/css", css.MimeType)
	assert.Contains(t, readAll(t, plain), "minify=false")
	assert.Equal(t, int32(3), f.compiler.calls.Load())
}

func TestCompileErrorIsSanitizedAndNotCached(t *testing.T) {
	compiler := &countingCompiler{}
	f := newFixture(t, stubInstaller{}, compiler)
	compiler.leakPath = true

	_, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "Undefined variable in o-grid/main.scss", compileErr.Message)
	assert.Empty(t, f.bundler.Snapshot())

	compiler.leakPath = false
	_, err = f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), compiler.calls.Load())
}

func TestInstallationErrorPassesThrough(t *testing.T) {
	f := newFixture(t, stubInstaller{err: errors.New("no tag matches")}, &countingCompiler{})

	_, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^9"))
	var installErr *installation.InstallationError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, int32(0), f.compiler.calls.Load())
}

func TestExactModuleSetsLiveLonger(t *testing.T) {
	f := newFixture(t, stubInstaller{}, &countingCompiler{})

	a, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@4.3.1"))
	require.NoError(t, err)
	assert.True(t, a.Exact)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), a.ExpiryTime)
	assert.Equal(t, 72*3600, a.MaxAge(f.clock.Now()))
	assert.Equal(t, 0, a.MaxAge(f.clock.Now().Add(100*time.Hour)))
}

func TestEvictExpiredRemovesFiles(t *testing.T) {
	f := newFixture(t, stubInstaller{}, &countingCompiler{})

	ranged, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	require.NoError(t, err)
	exact, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@4.3.1"))
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	assert.Equal(t, 1, f.bundler.EvictExpired(context.Background()))
	_, err = ranged.Open(context.Background())
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, "ready", f.bundler.Snapshot()[0].State)
	assert.NotEmpty(t, readAll(t, exact))
}

func TestExpiredArtifactIsRecompiled(t *testing.T) {
	f := newFixture(t, stubInstaller{}, &countingCompiler{})

	first, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)
	second, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), f.compiler.calls.Load())
	assert.NotEmpty(t, readAll(t, second))
}

func TestNewerThanForcesRecompile(t *testing.T) {
	f := newFixture(t, stubInstaller{}, &countingCompiler{})

	_, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	req := jsRequest("o-grid@^4")
	req.Options.NewerThan = f.clock.Now().Add(-30 * time.Second)
	_, err = f.bundler.GetBundle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.compiler.calls.Load())

	_, err = f.bundler.GetBundle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.compiler.calls.Load())
}

func TestCallerTimeoutDoesNotCancelCompile(t *testing.T) {
	compiler := &countingCompiler{release: make(chan struct{})}
	f := newFixture(t, stubInstaller{}, compiler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.bundler.GetBundle(ctx, jsRequest("o-grid@^4"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(compiler.release)
	a, err := f.bundler.GetBundle(context.Background(), jsRequest("o-grid@^4"))
	require.NoError(t, err)
	assert.NotEmpty(t, readAll(t, a))
	assert.Equal(t, int32(1), compiler.calls.Load())
}

func TestGetBundleRejectsBadRequests(t *testing.T) {
	f := newFixture(t, stubInstaller{}, &countingCompiler{})

	_, err := f.bundler.GetBundle(context.Background(), Request{Type: "wasm", Modules: moduleset.MustParse("o-grid")})
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = f.bundler.GetBundle(context.Background(), Request{Type: "js"})
	assert.ErrorIs(t, err, ErrNoModules)
}

func TestBuildOptionsKey(t *testing.T) {
	base := BuildOptions{BabelRuntime: true, Minify: true, ExportName: "Origami"}
	withLocks := base
	withLocks.VersionLocks = moduleset.MustParse("o-brand@1.0.0").Pin()
	withNewer := base
	withNewer.NewerThan = time.Now()

	assert.NotEqual(t, base.Key(), withLocks.Key())
	assert.Equal(t, base.Key(), withNewer.Key())
	assert.Equal(t, withLocks.VersionLocks, withLocks.InstallOptions().Locks)
}
