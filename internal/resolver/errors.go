package resolver

import (
	"fmt"
	"strings"
)

// DependencyConflictError reports irreconcilable version constraints on
// a single skill. RequiredVersions lists the disagreeing constraint
// strings; ResolutionPath is the dependency chain that introduced the
// conflicting requirement.
type DependencyConflictError struct {
	SkillName        string
	RequiredVersions []string
	ResolutionPath   []string
}

func (e *DependencyConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dependency conflict for %s: incompatible constraints %s",
		e.SkillName, strings.Join(e.RequiredVersions, ", "))
	if len(e.ResolutionPath) > 0 {
		fmt.Fprintf(&b, " (required via %s)", strings.Join(e.ResolutionPath, " -> "))
	}
	return b.String()
}

// ResolutionError reports a dependency that could not be resolved to
// any version. Available carries the versions the registry did offer,
// for closest-available diagnostics.
type ResolutionError struct {
	SkillName  string
	Constraint string
	Details    string
	Available  []string
	Cause      error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("resolution failed")
	if e.SkillName != "" {
		fmt.Fprintf(&b, " for %s", e.SkillName)
	}
	if e.Constraint != "" {
		fmt.Fprintf(&b, " (constraint %s)", e.Constraint)
	}
	if e.Details != "" {
		fmt.Fprintf(&b, ": %s", e.Details)
	}
	if len(e.Available) > 0 {
		fmt.Fprintf(&b, " (available: %s)", strings.Join(e.Available, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// SkillNotFoundError reports a skill the registry has no releases for.
// The registry URL is included so the caller can point the user at
// connectivity or registry configuration.
type SkillNotFoundError struct {
	SkillName   string
	Constraint  string
	RegistryURL string
}

func (e *SkillNotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "skill not found: %s", e.SkillName)
	if e.Constraint != "" {
		fmt.Fprintf(&b, " (constraint %s)", e.Constraint)
	}
	if e.RegistryURL != "" {
		fmt.Fprintf(&b, " in registry %s", e.RegistryURL)
	}
	return b.String()
}
