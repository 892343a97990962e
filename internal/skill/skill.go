// Package skill defines the domain value types shared by the resolver,
// the dependency graph, and the lock file codec: declared dependencies,
// manifest accessors, and fully resolved units.
package skill

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Source identifies where a resolved dependency is fetched from.
type Source string

const (
	SourceRegistry Source = "registry"
	SourceGit      Source = "git"
	SourceLocal    Source = "local"
)

// namePattern is the allowed grammar for skill names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-_]*$`)

// ValidName reports whether name is a legal skill identifier.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// optionalPrefix marks a dependency as optional in a manifest's raw
// constraint string, e.g. "optional:^1.2.0".
const optionalPrefix = "optional:"

// Dependency is a single unresolved requirement: a skill name plus the
// version constraint that must be satisfied. Dependencies are immutable
// values and compare by (Name, Constraint, Optional).
type Dependency struct {
	Name       string
	Constraint string
	Optional   bool
}

// ParseDependency builds a Dependency from a manifest entry. The raw
// constraint may carry an "optional:" prefix, which is stripped and
// recorded in the Optional flag.
func ParseDependency(name, rawConstraint string) (Dependency, error) {
	if !ValidName(name) {
		return Dependency{}, fmt.Errorf("invalid skill name %q: must match %s", name, namePattern.String())
	}

	constraint := strings.TrimSpace(rawConstraint)
	optional := false
	if rest, ok := strings.CutPrefix(constraint, optionalPrefix); ok {
		optional = true
		constraint = strings.TrimSpace(rest)
	}
	if constraint == "" {
		return Dependency{}, fmt.Errorf("empty version constraint for skill %q", name)
	}

	return Dependency{Name: name, Constraint: constraint, Optional: optional}, nil
}

// String renders the dependency the way it appears in a manifest.
func (d Dependency) String() string {
	if d.Optional {
		return fmt.Sprintf("%s@%s%s", d.Name, optionalPrefix, d.Constraint)
	}
	return fmt.Sprintf("%s@%s", d.Name, d.Constraint)
}

// Manifest is the resolver's view of a skill manifest. Parsing the
// manifest file itself is the job of the surrounding CLI; the resolver
// only needs the name, version, and declared dependency constraints.
type Manifest struct {
	Name         string
	Version      string
	Dependencies map[string]string
}

// AllDependencies returns every declared dependency, required and
// optional, sorted by name so that resolution walks in a stable order.
func (m Manifest) AllDependencies() ([]Dependency, error) {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := make([]Dependency, 0, len(names))
	for _, name := range names {
		dep, err := ParseDependency(name, m.Dependencies[name])
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", m.Name, err)
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// RequiredDependencies returns the non-optional subset of AllDependencies.
func (m Manifest) RequiredDependencies() ([]Dependency, error) {
	return m.filter(false)
}

// OptionalDependencies returns the optional subset of AllDependencies.
func (m Manifest) OptionalDependencies() ([]Dependency, error) {
	return m.filter(true)
}

func (m Manifest) filter(optional bool) ([]Dependency, error) {
	all, err := m.AllDependencies()
	if err != nil {
		return nil, err
	}
	deps := make([]Dependency, 0, len(all))
	for _, dep := range all {
		if dep.Optional == optional {
			deps = append(deps, dep)
		}
	}
	return deps, nil
}

// ResolvedDependency is the immutable output unit of a resolution pass:
// an exact version pinned to a fetch location. The JSON tags define the
// lock-file wire shape and must not change without a lock-file version
// bump.
type ResolvedDependency struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Source       Source   `json:"source"`
	ResolvedURL  string   `json:"resolved_url"`
	Checksum     string   `json:"checksum,omitempty"`
	Dependencies []string `json:"dependencies"`
}

// String renders the unit as name@version for logs and error messages.
func (r ResolvedDependency) String() string {
	return fmt.Sprintf("%s@%s", r.Name, r.Version)
}
