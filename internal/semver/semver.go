// Package semver implements the version engine used during dependency
// resolution: strict SemVer 2.0.0 validation and comparison, plus
// evaluation of the constraint grammar skills declare in their
// manifests (exact, comparison-prefixed, caret, tilde).
//
// Parsing and precedence are delegated to
// github.com/Masterminds/semver/v3; constraint evaluation is local
// because the caret and tilde rules here compare the numeric core only
// and differ from Masterminds range semantics.
package semver

import (
	"errors"
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a parsed strict semantic version.
type Version struct {
	Major      uint64
	Minor      uint64
	Patch      uint64
	Prerelease string
	Build      string

	v *mm.Version
}

// String reproduces the version without leading decoration.
func (v *Version) String() string {
	return v.v.String()
}

// InvalidVersionError reports a string that is not strict SemVer 2.0.0.
type InvalidVersionError struct {
	Version string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid semver %q", e.Version)
}

// InvalidConstraintError reports a constraint expression that matches
// none of the supported forms.
type InvalidConstraintError struct {
	Constraint string
}

func (e *InvalidConstraintError) Error() string {
	return fmt.Sprintf("invalid constraint format %q", e.Constraint)
}

// Parse returns the parsed version, or false if raw is not strict
// SemVer 2.0.0 (v-prefixed, two-component, and leading-zero forms are
// all rejected).
func Parse(raw string) (*Version, bool) {
	v, err := mm.StrictNewVersion(raw)
	if err != nil {
		return nil, false
	}
	return &Version{
		Major:      v.Major(),
		Minor:      v.Minor(),
		Patch:      v.Patch(),
		Prerelease: v.Prerelease(),
		Build:      v.Metadata(),
		v:          v,
	}, true
}

// Validate reports whether raw is strict SemVer 2.0.0.
func Validate(raw string) bool {
	_, ok := Parse(raw)
	return ok
}

// Compare orders two versions per SemVer precedence: numeric core
// first, then prerelease identifiers (a prerelease sorts below its
// release; numeric identifiers sort below alphanumeric ones). Build
// metadata is ignored. Returns -1, 0, or 1.
func Compare(a, b string) (int, error) {
	va, ok := Parse(a)
	if !ok {
		return 0, &InvalidVersionError{Version: a}
	}
	vb, ok := Parse(b)
	if !ok {
		return 0, &InvalidVersionError{Version: b}
	}
	return va.v.Compare(vb.v), nil
}

// comparison operators, longest prefixes first so ">=" is not read as ">".
var operators = []string{">=", "<=", ">", "<", "="}

// Satisfies evaluates version against constraint. The version must be
// valid semver. Constraint forms, in priority order: a bare exact
// version, a comparison operator prefix, caret, tilde. Anything else is
// an InvalidConstraintError.
//
// Caret and tilde compare the numeric core only: a prerelease of an
// otherwise in-range version is accepted. Caret with a zero target
// major treats the minor version as the compatibility boundary.
func Satisfies(version, constraint string) (bool, error) {
	v, ok := Parse(version)
	if !ok {
		return false, &InvalidVersionError{Version: version}
	}

	if target, ok := Parse(constraint); ok {
		return v.v.Compare(target.v) == 0, nil
	}

	for _, op := range operators {
		rest, found := strings.CutPrefix(constraint, op)
		if !found {
			continue
		}
		target, ok := Parse(strings.TrimSpace(rest))
		if !ok {
			return false, &InvalidConstraintError{Constraint: constraint}
		}
		cmp := v.v.Compare(target.v)
		switch op {
		case ">=":
			return cmp >= 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case "<":
			return cmp < 0, nil
		default:
			return cmp == 0, nil
		}
	}

	if rest, found := strings.CutPrefix(constraint, "^"); found {
		target, ok := Parse(strings.TrimSpace(rest))
		if !ok {
			return false, &InvalidConstraintError{Constraint: constraint}
		}
		if target.Major == 0 {
			return v.Major == 0 && v.Minor == target.Minor && v.Patch >= target.Patch, nil
		}
		if v.Major != target.Major {
			return false, nil
		}
		return v.Minor > target.Minor || (v.Minor == target.Minor && v.Patch >= target.Patch), nil
	}

	if rest, found := strings.CutPrefix(constraint, "~"); found {
		target, ok := Parse(strings.TrimSpace(rest))
		if !ok {
			return false, &InvalidConstraintError{Constraint: constraint}
		}
		return v.Major == target.Major && v.Minor == target.Minor && v.Patch >= target.Patch, nil
	}

	return false, &InvalidConstraintError{Constraint: constraint}
}

// MaxSatisfying returns the highest candidate that satisfies the
// constraint. Candidates that are not valid semver are skipped; a
// malformed constraint is an error. Prereleases sort below their
// release, so a stable version wins over its own prerelease.
func MaxSatisfying(constraint string, candidates []string) (string, bool, error) {
	var best *Version
	found := false
	for _, candidate := range candidates {
		v, ok := Parse(candidate)
		if !ok {
			continue
		}
		match, err := Satisfies(candidate, constraint)
		if err != nil {
			var invalid *InvalidConstraintError
			if errors.As(err, &invalid) {
				return "", false, err
			}
			continue
		}
		if !match {
			continue
		}
		if !found || v.v.Compare(best.v) > 0 {
			best = v
			found = true
		}
	}
	if !found {
		return "", false, nil
	}
	return best.String(), true, nil
}
