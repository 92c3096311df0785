package ociclient

import (
	"fmt"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

// dockerHubAPIHost is the host the distribution API lives on for references
// that normalize to the docker.io registry.
const dockerHubAPIHost = "index.docker.io"

// Reference identifies content in a registry: a registry host, a repository
// path, and exactly one of a tag or a digest.
//
// A Reference is an immutable value; construct one with [ParseReference].
type Reference struct {
	// Registry is the registry host, optionally with a port
	// (e.g., "ghcr.io", "localhost:5000").
	Registry string

	// Repository is the repository path within the registry
	// (e.g., "library/nginx").
	Repository string

	// Tag is the tag locator. Empty when Digest is set.
	Tag string

	// Digest is the digest locator. Empty when Tag is set.
	Digest digest.Digest
}

// ParseReference parses a reference string into a [Reference], applying the
// docker naming convention: a missing registry defaults to docker.io, bare
// docker.io repositories gain the library/ namespace, and a missing tag
// defaults to "latest". When the input carries both a tag and a digest, the
// digest wins and the tag is dropped.
//
// Malformed input (empty or uppercase repository, oversized tag, digest with
// an unknown algorithm) fails with [ErrInvalidReference]; a Reference is
// never partially populated.
func ParseReference(s string) (Reference, error) {
	named, err := reference.ParseDockerRef(s)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %q: %v", ErrInvalidReference, s, err)
	}

	ref := Reference{
		Registry:   reference.Domain(named),
		Repository: reference.Path(named),
	}

	if canonical, ok := named.(reference.Canonical); ok {
		d := canonical.Digest()
		if err := d.Validate(); err != nil {
			return Reference{}, fmt.Errorf("%w: %q: %v", ErrInvalidReference, s, err)
		}
		ref.Digest = d
		return ref, nil
	}
	if tagged, ok := named.(reference.Tagged); ok {
		ref.Tag = tagged.Tag()
		return ref, nil
	}

	// ParseDockerRef guarantees a tag or digest; reaching here means the
	// upstream contract changed.
	return Reference{}, fmt.Errorf("%w: %q: missing tag or digest", ErrInvalidReference, s)
}

// String returns the canonical form of the reference. Parsing the result
// with [ParseReference] yields an equal Reference.
func (r Reference) String() string {
	if r.Digest != "" {
		return r.Registry + "/" + r.Repository + "@" + r.Digest.String()
	}
	return r.Registry + "/" + r.Repository + ":" + r.Tag
}

// locator returns the tag or digest used in manifest endpoint paths.
func (r Reference) locator() string {
	if r.Digest != "" {
		return r.Digest.String()
	}
	return r.Tag
}

// host returns the host the distribution API is served from. References
// normalized to docker.io resolve to index.docker.io, which is where Docker
// Hub actually serves the /v2/ API.
func (r Reference) host() string {
	if r.Registry == "docker.io" {
		return dockerHubAPIHost
	}
	return r.Registry
}
