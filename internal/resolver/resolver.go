// Package resolver turns a manifest's declared dependencies into a
// conflict-free, cycle-free dependency graph with exact versions, by
// walking requirements transitively against a registry lookup.
//
// A resolution pass is a single deterministic depth-first walk: no
// retries, no parallelism, no partial results. Each Resolve call
// builds a fresh graph; registry responses are cached per resolver
// instance.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/kurultai/kurultai/internal/graph"
	"github.com/kurultai/kurultai/internal/log"
	"github.com/kurultai/kurultai/internal/registry"
	"github.com/kurultai/kurultai/internal/semver"
	"github.com/kurultai/kurultai/internal/skill"
)

// gitSentinelVersion marks a git-sourced dependency without an explicit
// ref. Intentionally not valid semver: git-sourced units are pinned by
// URL and never matched against a constraint.
const gitSentinelVersion = "0.0.0-git"

// checksumLen is the hex length of the short identity digest attached
// to git-resolved dependencies.
const checksumLen = 12

// Resolver resolves skill dependency trees. Not safe for concurrent
// use; run concurrent resolutions on separate instances.
type Resolver struct {
	registryURL string
	cacheDir    string
	client      registry.Client
	logger      *log.Logger

	graph *graph.Graph
	// releases caches registry responses per skill name for the
	// lifetime of the resolver instance.
	releases map[string][]registry.Release
}

// New builds a Resolver around a registry lookup client. The registry
// URL is carried for error reporting only; cacheDir is handed through
// to the installer layer. A nil logger disables logging.
func New(registryURL, cacheDir string, client registry.Client, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Nop()
	}
	return &Resolver{
		registryURL: registryURL,
		cacheDir:    cacheDir,
		client:      client,
		logger:      logger,
		releases:    make(map[string][]registry.Release),
	}
}

// CacheDir returns the cache directory handed to the installer.
func (r *Resolver) CacheDir() string {
	return r.cacheDir
}

// Resolve walks the manifest's dependencies (required only unless
// includeOptional is set) and returns the fully populated graph. Any
// constraint disagreement surfaces as a DependencyConflictError and
// any cycle as a graph.CircularDependencyError; on error the pass is
// abandoned with no partial result.
func (r *Resolver) Resolve(ctx context.Context, manifest skill.Manifest, includeOptional bool) (*graph.Graph, error) {
	r.graph = graph.New()

	deps, err := r.manifestDependencies(manifest, includeOptional)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("resolution started",
		"manifest", manifest.Name,
		"dependencies", len(deps),
		"include_optional", includeOptional)

	for _, dep := range deps {
		if err := r.resolveDependency(ctx, dep, nil, []string{manifest.Name}, includeOptional); err != nil {
			return nil, err
		}
	}

	if err := r.checkConflicts(); err != nil {
		return nil, err
	}
	if cycle := r.graph.DetectCycles(); cycle != nil {
		return nil, &graph.CircularDependencyError{Cycle: cycle}
	}

	r.logger.Debug("resolution finished", "manifest", manifest.Name, "resolved", r.graph.Len())
	return r.graph, nil
}

func (r *Resolver) manifestDependencies(manifest skill.Manifest, includeOptional bool) ([]skill.Dependency, error) {
	if includeOptional {
		return manifest.AllDependencies()
	}
	return manifest.RequiredDependencies()
}

// resolveDependency is the recursive resolution step. The path carries
// the chain of names from the manifest down to dep's requirer, for
// error reporting.
func (r *Resolver) resolveDependency(ctx context.Context, dep skill.Dependency, parent *graph.Node, path []string, includeOptional bool) error {
	node := r.graph.AddNode(dep.Name, dep.Constraint, parent)

	if existing, ok := r.graph.Resolved(dep.Name); ok {
		// Already resolved via another requirer; the pinned version
		// must still satisfy the new constraint. Matching short-circuits
		// the walk, which bounds recursion on diamond shapes.
		match, err := semver.Satisfies(existing.Version, dep.Constraint)
		if err != nil {
			return &ResolutionError{
				SkillName:  dep.Name,
				Constraint: dep.Constraint,
				Details:    "constraint check against pinned version failed",
				Cause:      err,
			}
		}
		if !match {
			return &DependencyConflictError{
				SkillName:        dep.Name,
				RequiredVersions: []string{dep.Constraint, "=" + existing.Version},
				ResolutionPath:   append(append([]string{}, path...), dep.Name),
			}
		}
		return nil
	}

	resolved, release, err := r.resolveFromRegistry(ctx, dep.Name, dep.Constraint)
	if err != nil {
		return err
	}
	r.graph.SetResolved(dep.Name, resolved)
	r.logger.Debug("dependency pinned",
		"skill", dep.Name,
		"constraint", dep.Constraint,
		"version", resolved.Version)

	childPath := append(append([]string{}, path...), dep.Name)
	for _, name := range sortedKeys(release.Dependencies) {
		child, err := skill.ParseDependency(name, release.Dependencies[name])
		if err != nil {
			return &ResolutionError{
				SkillName: dep.Name,
				Details:   fmt.Sprintf("invalid dependency declaration in %s", resolved),
				Cause:     err,
			}
		}
		if child.Optional && !includeOptional {
			continue
		}
		if err := r.resolveDependency(ctx, child, node, childPath, includeOptional); err != nil {
			return err
		}
	}
	return nil
}

// resolveFromRegistry picks the highest release of name satisfying the
// constraint and wraps it as a registry-sourced ResolvedDependency.
func (r *Resolver) resolveFromRegistry(ctx context.Context, name, constraint string) (skill.ResolvedDependency, registry.Release, error) {
	releases, err := r.releasesFor(ctx, name)
	if err != nil {
		return skill.ResolvedDependency{}, registry.Release{}, &ResolutionError{
			SkillName:  name,
			Constraint: constraint,
			Details:    "registry lookup failed",
			Cause:      err,
		}
	}
	if len(releases) == 0 {
		return skill.ResolvedDependency{}, registry.Release{}, &SkillNotFoundError{
			SkillName:   name,
			Constraint:  constraint,
			RegistryURL: r.registryURL,
		}
	}

	versions := make([]string, 0, len(releases))
	for _, rel := range releases {
		versions = append(versions, rel.Version)
	}

	best, found, err := semver.MaxSatisfying(constraint, versions)
	if err != nil {
		return skill.ResolvedDependency{}, registry.Release{}, &ResolutionError{
			SkillName:  name,
			Constraint: constraint,
			Details:    "invalid constraint",
			Cause:      err,
		}
	}
	if !found {
		return skill.ResolvedDependency{}, registry.Release{}, &ResolutionError{
			SkillName:  name,
			Constraint: constraint,
			Details:    "no published version satisfies the constraint",
			Available:  versions,
		}
	}

	var release registry.Release
	for _, rel := range releases {
		if rel.Version == best {
			release = rel
			break
		}
	}

	resolved := skill.ResolvedDependency{
		Name:         name,
		Version:      release.Version,
		Source:       skill.SourceRegistry,
		ResolvedURL:  release.URL,
		Checksum:     release.Checksum,
		Dependencies: sortedKeys(release.Dependencies),
	}
	return resolved, release, nil
}

// releasesFor returns the registry's releases for name, memoized per
// resolver instance. A cached empty response is cached too, so a
// missing skill is only looked up once.
func (r *Resolver) releasesFor(ctx context.Context, name string) ([]registry.Release, error) {
	if releases, ok := r.releases[name]; ok {
		return releases, nil
	}
	releases, err := r.client.Releases(ctx, name)
	if err != nil {
		return nil, err
	}
	r.releases[name] = releases
	return releases, nil
}

// ResolveFromGit pins a dependency directly to a git repository. The
// skill name is the last path segment of the URL minus any ".git"
// suffix; the version is the ref when given, else the git sentinel.
// The checksum is a short content-derived digest of url@ref used for
// cache identity, not integrity.
func (r *Resolver) ResolveFromGit(repoURL, ref string) (skill.ResolvedDependency, error) {
	name := strings.TrimSuffix(lastSegment(repoURL), ".git")
	if name == "" {
		return skill.ResolvedDependency{}, &ResolutionError{
			Details: fmt.Sprintf("cannot derive a skill name from git url %q", repoURL),
		}
	}

	version := ref
	if version == "" {
		version = gitSentinelVersion
	}

	pin := ref
	if pin == "" {
		pin = "HEAD"
	}
	sum := blake3.Sum256([]byte(repoURL + "@" + pin))
	checksum := fmt.Sprintf("%x", sum)[:checksumLen]

	return skill.ResolvedDependency{
		Name:        name,
		Version:     version,
		Source:      skill.SourceGit,
		ResolvedURL: repoURL,
		Checksum:    checksum,
	}, nil
}

// checkConflicts converts accumulated graph conflicts into a
// DependencyConflictError for the lexicographically first conflicted
// skill, listing the stored constraint followed by each disagreeing
// one, with the first recorded introduction path.
func (r *Resolver) checkConflicts() error {
	conflicts := r.graph.Conflicts()
	if len(conflicts) == 0 {
		return nil
	}

	names := sortedConflictNames(conflicts)
	name := names[0]

	required := make([]string, 0, len(conflicts[name])+1)
	if node := r.graph.Node(name); node != nil {
		required = append(required, node.Constraint)
	}
	for _, c := range conflicts[name] {
		required = append(required, c.Constraint)
	}

	return &DependencyConflictError{
		SkillName:        name,
		RequiredVersions: required,
		ResolutionPath:   conflicts[name][0].Path,
	}
}

func sortedConflictNames(conflicts map[string][]graph.Conflict) []string {
	names := make([]string, 0, len(conflicts))
	for name := range conflicts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lastSegment(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
