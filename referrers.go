package ociclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// PullReferrers queries the OCI 1.1 referrers API for artifacts whose
// manifests declare the manifest at ref as their subject. A non-empty
// artifactType narrows the result; the filter is applied by the registry
// when it advertises support via OCI-Filters-Applied, else client-side.
//
// A tag reference is resolved to its digest first. A subject with no
// referrers yields an empty index, not an error.
func (c *Client) PullReferrers(ctx context.Context, refStr, artifactType string, auth *Auth) (*ocispec.Index, error) {
	ref, err := ParseReference(refStr)
	if err != nil {
		return nil, err
	}
	if ref.Digest == "" {
		dgst, err := c.FetchManifestDigest(ctx, refStr, auth)
		if err != nil {
			return nil, err
		}
		ref.Tag = ""
		ref.Digest = dgst
	}

	referrersURL := c.transport.referrersURL(ref, ref.Digest.String())
	if artifactType != "" {
		referrersURL, err = appendQuery(referrersURL, url.Values{"artifactType": []string{artifactType}})
		if err != nil {
			return nil, fmt.Errorf("referrers of %s: %v", ref, err)
		}
	}

	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method: http.MethodGet,
		url:    referrersURL,
		header: acceptHeader([]string{ocispec.MediaTypeImageIndex}),
		host:   ref.host(),
		scopes: []string{scopePull(ref.Repository)},
		auth:   auth,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errFromResponse("pull referrers of", ref, resp)
	}

	data, err := io.ReadAll(resp.Body)
	filtersApplied := resp.Header.Get("OCI-Filters-Applied")
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read referrers of %s: %v", ErrNetwork, ref, err)
	}

	var index ocispec.Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("referrers of %s: %w: %v", ref, ErrInvalidManifest, err)
	}

	if artifactType != "" && !filterApplied(filtersApplied, "artifactType") {
		index.Manifests = filterByArtifactType(index.Manifests, artifactType)
	}
	return &index, nil
}

// filterApplied reports whether the registry declared it applied the named
// filter in its OCI-Filters-Applied response header.
func filterApplied(header, filter string) bool {
	for _, applied := range strings.Split(header, ",") {
		if strings.TrimSpace(applied) == filter {
			return true
		}
	}
	return false
}

// filterByArtifactType keeps only descriptors with the given artifact type.
func filterByArtifactType(entries []ocispec.Descriptor, artifactType string) []ocispec.Descriptor {
	filtered := make([]ocispec.Descriptor, 0, len(entries))
	for _, entry := range entries {
		if entry.ArtifactType == artifactType {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
