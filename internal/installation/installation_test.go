package installation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-hub/build-hub/internal/moduleset"
)

func TestManifestForReadsBowerJSON(t *testing.T) {
	m := newTestManager(t, &fakeInstaller{}, nil)
	inst, err := m.GetOrCreate(context.Background(), moduleset.MustParse("o-grid@^4"), Options{})
	require.NoError(t, err)
	defer inst.Release()

	manifest, err := inst.ManifestFor("o-grid")
	require.NoError(t, err)
	assert.Equal(t, "o-grid", manifest.Name)
	assert.Equal(t, MainFiles{"main.js"}, manifest.Main)

	_, err = inst.ManifestFor("o-missing")
	assert.Error(t, err)
}

func TestReadManifestAcceptsMainArray(t *testing.T) {
	dir := t.TempDir()
	raw := `{"name":"o-grid","main":["main.scss","main.js"],"dependencies":{"o-brand":"^1"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bower.json"), []byte(raw), 0o644))

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, MainFiles{"main.scss", "main.js"}, manifest.Main)
	assert.Equal(t, "^1", manifest.Dependencies["o-brand"])
}

func TestReadManifestFallsBackToPackageJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"lodash","version":"4.17.21"}`), 0o644))

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "4.17.21", manifest.Version)

	_, err = ReadManifest(t.TempDir())
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestPathToFileRejectsTraversal(t *testing.T) {
	m := newTestManager(t, &fakeInstaller{}, nil)
	inst, err := m.GetOrCreate(context.Background(), moduleset.MustParse("o-grid@^4"), Options{})
	require.NoError(t, err)
	defer inst.Release()

	full, err := inst.PathToFile("o-grid", "src/main.js")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(inst.RootPath, "o-grid", "src", "main.js"), full)
	assert.True(t, inst.Exists("o-grid", "bower.json"))

	_, err = inst.PathToFile("o-grid", "../../etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideModule)
}

func TestSanitizeErrorStripsRoot(t *testing.T) {
	m := newTestManager(t, &fakeInstaller{}, nil)
	inst, err := m.GetOrCreate(context.Background(), moduleset.MustParse("o-grid@^4"), Options{})
	require.NoError(t, err)
	defer inst.Release()

	cause := errors.New("syntax error in " + filepath.Join(inst.RootPath, "o-grid", "main.js"))
	sanitized := inst.SanitizeError(cause)
	assert.Equal(t, "syntax error in o-grid/main.js", sanitized.Error())
	assert.ErrorIs(t, sanitized, cause)
}

func TestRequestedModulesExcludesTransitive(t *testing.T) {
	inst := &Installation{
		Modules: moduleset.MustParse("o-grid@^4"),
		resolved: map[string]moduleset.Resolved{
			"o-grid":  {Version: "4.3.1"},
			"o-brand": {Version: "1.0.0"},
		},
	}
	assert.Len(t, inst.ListResolvedModules(), 2)
	requested := inst.RequestedModules()
	assert.Len(t, requested, 1)
	assert.Equal(t, "4.3.1", requested["o-grid"].Version)
}
