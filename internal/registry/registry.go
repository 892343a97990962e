// Package registry defines the lookup contract the resolver consumes.
// The real HTTP client lives with the CLI layer; the resolver only
// needs "all known releases of a skill", so that is the whole
// interface. A map-backed Static client is provided for tests and for
// embedding pre-fetched registry snapshots.
package registry

import "context"

// Release is one published version of a skill as reported by the
// registry, including the constraints of its own dependencies so the
// resolver can walk them transitively.
type Release struct {
	Version      string
	URL          string
	Checksum     string
	Dependencies map[string]string
}

// Client looks up the published releases of a skill. An unknown skill
// yields an empty slice, not an error; errors are reserved for lookup
// failures (transport, decoding) in real implementations.
type Client interface {
	Releases(ctx context.Context, name string) ([]Release, error)
}

// Static is an in-memory Client backed by a fixed release table.
type Static struct {
	releases map[string][]Release
}

// NewStatic builds a Static client from a name -> releases table. The
// table is used as-is and must not be mutated afterwards.
func NewStatic(releases map[string][]Release) *Static {
	if releases == nil {
		releases = make(map[string][]Release)
	}
	return &Static{releases: releases}
}

// Releases implements Client.
func (s *Static) Releases(_ context.Context, name string) ([]Release, error) {
	return s.releases[name], nil
}
