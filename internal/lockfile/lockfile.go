// Package lockfile reads and writes the kurultai lock file: a
// versioned JSON record of a resolution's exact output, used to
// reproduce an identical install without re-resolving.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kurultai/kurultai/internal/semver"
	"github.com/kurultai/kurultai/internal/skill"
)

// Version is the current lock-file schema version. Any other value in
// a file's version field is rejected on read.
const Version = "1.0.0"

// DefaultName is the conventional lock-file name next to a manifest.
const DefaultName = "kurultai.lock"

// Kind classifies a LockFileError so callers can branch without string
// matching.
type Kind int

const (
	KindIO Kind = iota
	KindNotFound
	KindInvalidJSON
	KindUnsupportedVersion
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidJSON:
		return "invalid JSON"
	case KindUnsupportedVersion:
		return "unsupported version"
	default:
		return "io"
	}
}

// LockFileError is the failure type for every lock-file operation,
// carrying the path and a Kind.
type LockFileError struct {
	Path  string
	Kind  Kind
	Cause error
}

func (e *LockFileError) Error() string {
	msg := fmt.Sprintf("lock file %s: %s", e.Path, e.Kind)
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *LockFileError) Unwrap() error {
	return e.Cause
}

// File is the on-disk document shape.
type File struct {
	Version      string                     `json:"version"`
	GeneratedAt  time.Time                  `json:"generated_at"`
	Dependencies []skill.ResolvedDependency `json:"dependencies"`
}

// Write serializes deps to path as pretty JSON and returns the path.
// Deps must already be in installation (dependencies-first) order; the
// codec never re-sorts.
func Write(deps []skill.ResolvedDependency, path string) (string, error) {
	file := File{
		Version:      Version,
		GeneratedAt:  time.Now().UTC().Truncate(time.Second),
		Dependencies: deps,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return "", &LockFileError{Path: path, Kind: KindIO, Cause: err}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return "", &LockFileError{Path: path, Kind: KindIO, Cause: err}
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", &LockFileError{Path: path, Kind: KindIO, Cause: err}
	}
	return path, nil
}

// Read loads and validates the lock file at path, returning its
// dependency list in file order.
func Read(path string) ([]skill.ResolvedDependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		kind := KindIO
		if errors.Is(err, os.ErrNotExist) {
			kind = KindNotFound
		}
		return nil, &LockFileError{Path: path, Kind: kind, Cause: err}
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &LockFileError{Path: path, Kind: KindInvalidJSON, Cause: err}
	}
	if file.Version != Version {
		return nil, &LockFileError{
			Path: path,
			Kind: KindUnsupportedVersion,
			Cause: fmt.Errorf("lock file version %q, supported %q",
				file.Version, Version),
		}
	}
	return file.Dependencies, nil
}

// CheckConsistency reports whether the lock file at path still covers
// the manifest: every declared dependency is locked, and each locked
// exact version still satisfies its declared constraint. Any read
// failure or constraint mismatch yields false, never an error.
func CheckConsistency(manifest skill.Manifest, path string) bool {
	locked, err := Read(path)
	if err != nil {
		return false
	}

	versions := make(map[string]string, len(locked))
	for _, dep := range locked {
		versions[dep.Name] = dep.Version
	}

	deps, err := manifest.AllDependencies()
	if err != nil {
		return false
	}
	for _, dep := range deps {
		version, ok := versions[dep.Name]
		if !ok {
			return false
		}
		match, err := semver.Satisfies(version, dep.Constraint)
		if err != nil || !match {
			return false
		}
	}
	return true
}
