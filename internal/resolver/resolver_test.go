package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurultai/kurultai/internal/graph"
	"github.com/kurultai/kurultai/internal/registry"
	"github.com/kurultai/kurultai/internal/skill"
)

const testRegistryURL = "https://registry.example"

// countingClient wraps a registry client and counts lookups per name.
type countingClient struct {
	inner registry.Client
	calls map[string]int
}

func newCountingClient(inner registry.Client) *countingClient {
	return &countingClient{inner: inner, calls: make(map[string]int)}
}

func (c *countingClient) Releases(ctx context.Context, name string) ([]registry.Release, error) {
	c.calls[name]++
	return c.inner.Releases(ctx, name)
}

type failingClient struct{}

func (failingClient) Releases(context.Context, string) ([]registry.Release, error) {
	return nil, errors.New("connection refused")
}

func release(version string, deps map[string]string) registry.Release {
	return registry.Release{
		Version:      version,
		URL:          testRegistryURL + "/download/" + version,
		Checksum:     "sum-" + version,
		Dependencies: deps,
	}
}

func newResolver(client registry.Client) *Resolver {
	return New(testRegistryURL, "/tmp/kurultai-cache", client, nil)
}

func TestResolveEndToEnd(t *testing.T) {
	// root requires a@^1.0.0; a@1.2.0 requires b@>=2.0.0; b@2.1.0 is a leaf
	client := registry.NewStatic(map[string][]registry.Release{
		"a": {
			release("1.0.0", nil),
			release("1.2.0", map[string]string{"b": ">=2.0.0"}),
		},
		"b": {
			release("2.1.0", nil),
			release("1.9.0", nil),
		},
	})

	r := newResolver(client)
	manifest := skill.Manifest{Name: "root", Version: "0.1.0", Dependencies: map[string]string{"a": "^1.0.0"}}

	g, err := r.Resolve(context.Background(), manifest, false)
	require.NoError(t, err)

	a, ok := g.Resolved("a")
	require.True(t, ok)
	assert.Equal(t, "1.2.0", a.Version)
	assert.Equal(t, skill.SourceRegistry, a.Source)
	assert.Equal(t, []string{"b"}, a.Dependencies)

	b, ok := g.Resolved("b")
	require.True(t, ok)
	assert.Equal(t, "2.1.0", b.Version)

	order, err := g.InstallationOrder()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "b", order[0].Name)
	assert.Equal(t, "2.1.0", order[0].Version)
	assert.Equal(t, "a", order[1].Name)
	assert.Equal(t, "1.2.0", order[1].Version)
}

func TestResolveTransitiveConflict(t *testing.T) {
	// root requires x@^1.0.0 directly and, via y, x@^2.0.0
	client := registry.NewStatic(map[string][]registry.Release{
		"x": {release("1.4.0", nil), release("2.3.0", nil)},
		"y": {release("1.0.0", map[string]string{"x": "^2.0.0"})},
	})

	r := newResolver(client)
	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{
		"x": "^1.0.0",
		"y": "^1.0.0",
	}}

	_, err := r.Resolve(context.Background(), manifest, false)
	var conflict *DependencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "x", conflict.SkillName)
	assert.Contains(t, conflict.RequiredVersions, "^2.0.0")
	assert.Contains(t, conflict.ResolutionPath, "y")
}

func TestResolvePinnedVersionReportedInConflict(t *testing.T) {
	// x resolves first to 1.4.0; y then demands ^2.0.0, which the pin
	// cannot satisfy
	client := registry.NewStatic(map[string][]registry.Release{
		"x": {release("1.4.0", nil)},
		"y": {release("1.0.0", map[string]string{"x": "^2.0.0"})},
	})

	r := newResolver(client)
	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{
		"x": "^1.0.0",
		"y": "^1.0.0",
	}}

	_, err := r.Resolve(context.Background(), manifest, false)
	var conflict *DependencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "x", conflict.SkillName)
	assert.Contains(t, conflict.RequiredVersions, "=1.4.0")
	assert.Equal(t, []string{"root", "y", "x"}, conflict.ResolutionPath)
}

func TestResolveDiamondShortCircuits(t *testing.T) {
	// b and c both require d with compatible constraints; d is resolved
	// once and the registry consulted once
	inner := registry.NewStatic(map[string][]registry.Release{
		"b": {release("1.0.0", map[string]string{"d": "^1.0.0"})},
		"c": {release("1.0.0", map[string]string{"d": "^1.0.0"})},
		"d": {release("1.3.0", nil)},
	})
	client := newCountingClient(inner)

	r := newResolver(client)
	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{
		"b": "^1.0.0",
		"c": "^1.0.0",
	}}

	g, err := r.Resolve(context.Background(), manifest, false)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls["d"])

	d, ok := g.Resolved("d")
	require.True(t, ok)
	assert.Equal(t, "1.3.0", d.Version)
}

func TestResolveSkillNotFound(t *testing.T) {
	r := newResolver(registry.NewStatic(nil))
	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{"ghost": "^1.0.0"}}

	_, err := r.Resolve(context.Background(), manifest, false)
	var notFound *SkillNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.SkillName)
	assert.Equal(t, "^1.0.0", notFound.Constraint)
	assert.Equal(t, testRegistryURL, notFound.RegistryURL)
}

func TestResolveNoSatisfyingVersion(t *testing.T) {
	client := registry.NewStatic(map[string][]registry.Release{
		"a": {release("0.9.0", nil), release("2.0.0", nil)},
	})

	r := newResolver(client)
	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{"a": "^1.0.0"}}

	_, err := r.Resolve(context.Background(), manifest, false)
	var resolution *ResolutionError
	require.ErrorAs(t, err, &resolution)
	assert.Equal(t, "a", resolution.SkillName)
	assert.ElementsMatch(t, []string{"0.9.0", "2.0.0"}, resolution.Available)
}

func TestResolveLookupFailure(t *testing.T) {
	r := newResolver(failingClient{})
	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{"a": "^1.0.0"}}

	_, err := r.Resolve(context.Background(), manifest, false)
	var resolution *ResolutionError
	require.ErrorAs(t, err, &resolution)
	assert.ErrorContains(t, resolution.Cause, "connection refused")
}

func TestResolveSelectsHighestMatch(t *testing.T) {
	client := registry.NewStatic(map[string][]registry.Release{
		"a": {release("1.5.0-rc.1", nil), release("1.4.0", nil)},
	})

	r := newResolver(client)
	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{"a": "^1.0.0"}}

	g, err := r.Resolve(context.Background(), manifest, false)
	require.NoError(t, err)

	a, _ := g.Resolved("a")
	// 1.5.0-rc.1 has higher numeric core, and the caret check compares
	// the numeric core only, so the prerelease wins over 1.4.0
	assert.Equal(t, "1.5.0-rc.1", a.Version)
}

func TestResolveOptionalDependencies(t *testing.T) {
	client := registry.NewStatic(map[string][]registry.Release{
		"core":  {release("1.0.0", map[string]string{"extra": "optional:^1.0.0"})},
		"extra": {release("1.1.0", nil)},
	})

	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{
		"core": "^1.0.0",
		"dev":  "optional:^1.0.0",
	}}

	t.Run("skipped by default", func(t *testing.T) {
		r := newResolver(client)
		g, err := r.Resolve(context.Background(), manifest, false)
		require.NoError(t, err)

		_, ok := g.Resolved("extra")
		assert.False(t, ok)
		_, ok = g.Resolved("dev")
		assert.False(t, ok)
	})

	t.Run("included on request", func(t *testing.T) {
		client := registry.NewStatic(map[string][]registry.Release{
			"core":  {release("1.0.0", map[string]string{"extra": "optional:^1.0.0"})},
			"extra": {release("1.1.0", nil)},
			"dev":   {release("1.0.0", nil)},
		})
		r := newResolver(client)
		g, err := r.Resolve(context.Background(), manifest, true)
		require.NoError(t, err)

		extra, ok := g.Resolved("extra")
		require.True(t, ok)
		assert.Equal(t, "1.1.0", extra.Version)
		_, ok = g.Resolved("dev")
		assert.True(t, ok)
	})
}

func TestResolveCircularDependency(t *testing.T) {
	client := registry.NewStatic(map[string][]registry.Release{
		"a": {release("1.0.0", map[string]string{"b": "^1.0.0"})},
		"b": {release("1.0.0", map[string]string{"a": "^1.0.0"})},
	})

	r := newResolver(client)
	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{"a": "^1.0.0"}}

	_, err := r.Resolve(context.Background(), manifest, false)
	// a -> b -> a: b's requirement on a finds it already resolved and
	// satisfied, but the recorded edges still close a cycle
	var circular *graph.CircularDependencyError
	require.ErrorAs(t, err, &circular)
	assert.Contains(t, circular.Cycle, "a")
	assert.Contains(t, circular.Cycle, "b")
}

func TestResolveFreshGraphPerCall(t *testing.T) {
	client := registry.NewStatic(map[string][]registry.Release{
		"a": {release("1.0.0", nil)},
		"b": {release("1.0.0", nil)},
	})
	r := newResolver(client)

	g1, err := r.Resolve(context.Background(), skill.Manifest{Name: "m1", Dependencies: map[string]string{"a": "^1.0.0"}}, false)
	require.NoError(t, err)
	g2, err := r.Resolve(context.Background(), skill.Manifest{Name: "m2", Dependencies: map[string]string{"b": "^1.0.0"}}, false)
	require.NoError(t, err)

	_, ok := g2.Resolved("a")
	assert.False(t, ok, "second pass must not inherit the first graph")
	_, ok = g1.Resolved("a")
	assert.True(t, ok)
}

func TestResolveFromGit(t *testing.T) {
	r := newResolver(registry.NewStatic(nil))

	t.Run("with ref", func(t *testing.T) {
		dep, err := r.ResolveFromGit("https://github.com/example/weather-skill.git", "1.2.0")
		require.NoError(t, err)
		assert.Equal(t, "weather-skill", dep.Name)
		assert.Equal(t, "1.2.0", dep.Version)
		assert.Equal(t, skill.SourceGit, dep.Source)
		assert.Equal(t, "https://github.com/example/weather-skill.git", dep.ResolvedURL)
		assert.Len(t, dep.Checksum, 12)
	})

	t.Run("without ref uses sentinel", func(t *testing.T) {
		dep, err := r.ResolveFromGit("https://github.com/example/vision", "")
		require.NoError(t, err)
		assert.Equal(t, "vision", dep.Name)
		assert.Equal(t, "0.0.0-git", dep.Version)
	})

	t.Run("checksum is deterministic and ref sensitive", func(t *testing.T) {
		d1, err := r.ResolveFromGit("https://github.com/example/vision", "main")
		require.NoError(t, err)
		d2, err := r.ResolveFromGit("https://github.com/example/vision", "main")
		require.NoError(t, err)
		d3, err := r.ResolveFromGit("https://github.com/example/vision", "dev")
		require.NoError(t, err)

		assert.Equal(t, d1.Checksum, d2.Checksum)
		assert.NotEqual(t, d1.Checksum, d3.Checksum)
	})
}

func TestRegistryCacheIsPerInstance(t *testing.T) {
	inner := registry.NewStatic(map[string][]registry.Release{
		"a": {release("1.0.0", nil)},
	})
	client := newCountingClient(inner)
	r := newResolver(client)

	manifest := skill.Manifest{Name: "root", Dependencies: map[string]string{"a": "^1.0.0"}}
	_, err := r.Resolve(context.Background(), manifest, false)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), manifest, false)
	require.NoError(t, err)

	assert.Equal(t, 1, client.calls["a"], "second pass should hit the instance cache")
}
