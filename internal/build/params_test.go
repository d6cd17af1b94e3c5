package build

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-hub/build-hub/internal/bundle"
	"github.com/build-hub/build-hub/internal/moduleset"
)

func parse(t *testing.T, raw string) Params {
	t.Helper()
	query, err := url.ParseQuery(raw)
	require.NoError(t, err)
	params, err := ParseParams(query, "Origami")
	require.NoError(t, err)
	return params
}

func TestParseParamsDefaults(t *testing.T) {
	p := parse(t, "modules=o-grid@%5E4+,+o-fonts")

	assert.Equal(t, []string{"o-autoinit", "o-fonts", "o-grid"}, p.Modules.Names())
	assert.True(t, p.Options.BabelRuntime)
	assert.True(t, p.Options.Minify)
	assert.Equal(t, "Origami", p.Options.ExportName)
	assert.True(t, p.Options.NewerThan.IsZero())
	assert.True(t, p.Options.VersionLocks.IsEmpty())
	assert.False(t, p.HasRedirects)
	assert.False(t, p.Shrinkwrapped())
}

func TestParseParamsAutoInit(t *testing.T) {
	p := parse(t, "modules=o-grid&autoinit=0")
	assert.Equal(t, []string{"o-grid"}, p.Modules.Names())

	p = parse(t, "modules=o-grid,o-autoinit@^2.0.0")
	spec, ok := p.Modules.Lookup("o-autoinit")
	require.True(t, ok)
	assert.Equal(t, "^2.0.0", spec.Range)

	p = parse(t, "modules=o-grid&autoinit=1")
	assert.True(t, p.Modules.Contains("o-autoinit"))
}

func TestParseParamsFlags(t *testing.T) {
	for _, value := range []string{"none", "0", "no", "false"} {
		assert.False(t, parse(t, "modules=o-grid&polyfills="+value).Options.BabelRuntime, value)
	}
	for _, value := range []string{"", "yes", "FALSE", "1"} {
		assert.True(t, parse(t, "modules=o-grid&polyfills="+value).Options.BabelRuntime, value)
	}

	assert.False(t, parse(t, "modules=o-grid&minify=none").Options.Minify)
	assert.True(t, parse(t, "modules=o-grid&minify=0").Options.Minify)

	assert.Equal(t, "", parse(t, "modules=o-grid&export=").Options.ExportName)
	assert.Equal(t, "Custom", parse(t, "modules=o-grid&export=Custom").Options.ExportName)
}

func TestParseParamsNewerThan(t *testing.T) {
	p := parse(t, "modules=o-grid&newerthan=2024-03-01")
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), p.Options.NewerThan)

	p = parse(t, "modules=o-grid&newerthan=2024-03-01T10:00:00Z")
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), p.Options.NewerThan)

	p = parse(t, "modules=o-grid&newerthan=yesterday")
	assert.True(t, p.Options.NewerThan.IsZero())
	assert.Equal(t, "yesterday", p.IgnoredNewerThan)
}

func TestParseParamsShrinkwrap(t *testing.T) {
	p := parse(t, "modules=o-grid@4.3.1&shrinkwrap=o-brand@1.2.0,owner/o-colors@2.0.0")

	assert.True(t, p.Shrinkwrapped())
	assert.True(t, p.Options.VersionLocks.Pinned())
	assert.Equal(t, []string{"o-brand", "o-colors"}, p.Options.VersionLocks.Names())
}

func TestParseParamsRedirects(t *testing.T) {
	p := parse(t, "modules=o-grid&redirects=0")
	assert.True(t, p.HasRedirects)
	assert.Equal(t, 0, p.Redirects)

	p = parse(t, "modules=o-grid&redirects=2")
	assert.Equal(t, 2, p.Redirects)

	p = parse(t, "modules=o-grid&redirects=banana")
	assert.True(t, p.HasRedirects)
	assert.Equal(t, 0, p.Redirects)
	p = parse(t, "modules=o-grid&redirects=")
	assert.False(t, p.HasRedirects)

	p = parse(t, "modules=o-grid&redirects=%20")
	assert.False(t, p.HasRedirects)
}

func TestParseParamsErrors(t *testing.T) {
	_, err := ParseParams(url.Values{}, "Origami")
	assert.ErrorIs(t, err, bundle.ErrNoModules)

	_, err = ParseParams(url.Values{"modules": {" , "}, "autoinit": {"0"}}, "Origami")
	assert.ErrorIs(t, err, bundle.ErrNoModules)

	_, err = ParseParams(url.Values{"modules": {"o-grid@"}}, "Origami")
	var invalid *moduleset.InvalidSpecifierError
	assert.True(t, errors.As(err, &invalid))
}
