package ociclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Manifest is a tagged variant over the two manifest forms a registry can
// serve: a single-image manifest or a multi-platform image index. Exactly
// one of Image and Index is set, selected by the payload's media type at
// deserialization time.
type Manifest struct {
	// MediaType is the media type the variant was selected by.
	MediaType string

	// Image is set when the manifest describes a single image.
	Image *ocispec.Manifest

	// Index is set when the manifest is an image index.
	Index *ocispec.Index
}

// IsIndex reports whether the manifest is an image index.
func (m *Manifest) IsIndex() bool {
	return m.Index != nil
}

// parseManifestPayload deserializes a manifest payload into its tagged
// variant. The media type comes from the Content-Type header when it names
// a manifest form, else from the payload's mediaType field; anything else
// is a parse error, never a silent default.
func parseManifestPayload(data []byte, contentType string) (*Manifest, error) {
	mt := contentType
	if !isImageManifestMediaType(mt) && !isIndexMediaType(mt) {
		var probe struct {
			MediaType string `json:"mediaType"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		mt = probe.MediaType
	}

	switch {
	case isImageManifestMediaType(mt):
		var image ocispec.Manifest
		if err := json.Unmarshal(data, &image); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		return &Manifest{MediaType: mt, Image: &image}, nil
	case isIndexMediaType(mt):
		var index ocispec.Index
		if err := json.Unmarshal(data, &index); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		return &Manifest{MediaType: mt, Index: &index}, nil
	default:
		return nil, fmt.Errorf("%w: manifest media type %q", ErrUnsupportedMediaType, mt)
	}
}

// marshal serializes the manifest and returns its wire content type.
func (m *Manifest) marshal() ([]byte, string, error) {
	switch {
	case m.Image != nil && m.Index == nil:
		data, err := json.Marshal(m.Image)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		ct := m.MediaType
		if ct == "" {
			ct = m.Image.MediaType
		}
		if ct == "" {
			ct = ocispec.MediaTypeImageManifest
		}
		return data, ct, nil
	case m.Index != nil && m.Image == nil:
		data, err := json.Marshal(m.Index)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		ct := m.MediaType
		if ct == "" {
			ct = m.Index.MediaType
		}
		if ct == "" {
			ct = ocispec.MediaTypeImageIndex
		}
		return data, ct, nil
	default:
		return nil, "", fmt.Errorf("%w: exactly one of Image and Index must be set", ErrInvalidManifest)
	}
}

// PullManifest fetches the manifest for ref and returns it alongside its
// digest. The digest is the registry's Docker-Content-Digest header when
// present, else computed from the body; a header or pinned-reference digest
// that disagrees with the body fails with [ErrDigestMismatch].
func (c *Client) PullManifest(ctx context.Context, refStr string, auth *Auth) (*Manifest, digest.Digest, error) {
	data, contentType, dgst, err := c.fetchManifestData(ctx, refStr, auth, nil)
	if err != nil {
		return nil, "", err
	}
	manifest, err := parseManifestPayload(data, contentType)
	if err != nil {
		return nil, "", err
	}
	return manifest, dgst, nil
}

// PullManifestRaw fetches the manifest bytes for ref without
// deserialization. A non-empty acceptedMediaTypes list overrides the
// default Accept header.
func (c *Client) PullManifestRaw(ctx context.Context, refStr string, auth *Auth, acceptedMediaTypes []string) ([]byte, digest.Digest, error) {
	data, _, dgst, err := c.fetchManifestData(ctx, refStr, auth, acceptedMediaTypes)
	if err != nil {
		return nil, "", err
	}
	return data, dgst, nil
}

// FetchManifestDigest resolves the digest of the manifest at ref without
// transferring the body: a HEAD request first, falling back to a full GET
// for registries that omit the Docker-Content-Digest header.
func (c *Client) FetchManifestDigest(ctx context.Context, refStr string, auth *Auth) (digest.Digest, error) {
	ref, err := ParseReference(refStr)
	if err != nil {
		return "", err
	}

	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method: http.MethodHead,
		url:    c.transport.manifestURL(ref),
		header: acceptHeader(defaultManifestAccept),
		host:   ref.host(),
		scopes: []string{scopePull(ref.Repository)},
		auth:   auth,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errFromResponse("resolve digest for", ref, resp)
	}
	header := resp.Header.Get("Docker-Content-Digest")
	drainBody(resp)

	if header != "" {
		dgst, err := digest.Parse(header)
		if err != nil {
			return "", fmt.Errorf("resolve digest for %s: %w: bad Docker-Content-Digest %q", ref, ErrRegistryRejected, header)
		}
		return dgst, nil
	}

	// Registry did not advertise the digest; compute it from the body.
	_, _, dgst, err := c.fetchManifestData(ctx, refStr, auth, nil)
	return dgst, err
}

// PushManifest pushes a manifest (either variant) to the manifest endpoint
// named by ref and returns the manifest URL.
func (c *Client) PushManifest(ctx context.Context, refStr string, manifest *Manifest, auth *Auth) (string, error) {
	data, contentType, err := manifest.marshal()
	if err != nil {
		return "", err
	}
	return c.PushManifestRaw(ctx, refStr, data, contentType, auth)
}

// PushManifestRaw pushes pre-serialized manifest bytes with an explicit
// content type and returns the manifest URL. Registry-side validation
// failures surface as [ErrRegistryRejected].
func (c *Client) PushManifestRaw(ctx context.Context, refStr string, data []byte, contentType string, auth *Auth) (string, error) {
	ref, err := ParseReference(refStr)
	if err != nil {
		return "", err
	}

	manifestURL := c.transport.manifestURL(ref)
	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method:      http.MethodPut,
		url:         manifestURL,
		body:        data,
		contentType: contentType,
		host:        ref.host(),
		scopes:      []string{scopePush(ref.Repository)},
		auth:        auth,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errFromResponse("push manifest to", ref, resp)
	}
	drainBody(resp)

	c.logger.Debug("pushed manifest", "ref", ref.String(), "size", len(data))
	return manifestURL, nil
}

// PushManifestList pushes an image index. The caller must already have
// pushed every manifest the index references; the registry may reject the
// index otherwise, and this method does not verify it.
func (c *Client) PushManifestList(ctx context.Context, refStr string, index *ocispec.Index, auth *Auth) (string, error) {
	data, err := json.Marshal(index)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return c.PushManifestRaw(ctx, refStr, data, ocispec.MediaTypeImageIndex, auth)
}

// PullImageManifest fetches the manifest for ref, resolving a multi-platform
// index to the entry matching the client's platform (set with
// [WithPlatform]). An index with no matching entry fails with
// [ErrPlatformNotFound].
func (c *Client) PullImageManifest(ctx context.Context, refStr string, auth *Auth) (*ocispec.Manifest, digest.Digest, error) {
	manifest, dgst, err := c.PullManifest(ctx, refStr, auth)
	if err != nil {
		return nil, "", err
	}
	if !manifest.IsIndex() {
		return manifest.Image, dgst, nil
	}

	ref, err := ParseReference(refStr)
	if err != nil {
		return nil, "", err
	}
	entry, ok := selectPlatform(manifest.Index.Manifests, c.platform)
	if !ok {
		return nil, "", fmt.Errorf("pull %s: %w: %s/%s", ref, ErrPlatformNotFound, c.platform.OS, c.platform.Architecture)
	}
	c.logger.Debug("resolved index entry", "ref", ref.String(), "digest", entry.Digest.String())

	child := ref
	child.Tag = ""
	child.Digest = entry.Digest
	inner, innerDigest, err := c.PullManifest(ctx, child.String(), auth)
	if err != nil {
		return nil, "", err
	}
	if inner.IsIndex() {
		return nil, "", fmt.Errorf("pull %s: %w: index entry %s is itself an index", ref, ErrInvalidManifest, entry.Digest)
	}
	return inner.Image, innerDigest, nil
}

// PullManifestAndConfig fetches the platform-resolved manifest together with
// its config blob.
func (c *Client) PullManifestAndConfig(ctx context.Context, refStr string, auth *Auth) (*ocispec.Manifest, digest.Digest, []byte, error) {
	manifest, dgst, err := c.PullImageManifest(ctx, refStr, auth)
	if err != nil {
		return nil, "", nil, err
	}
	config, err := c.PullBlob(ctx, refStr, manifest.Config.Digest, auth)
	if err != nil {
		return nil, "", nil, err
	}
	return manifest, dgst, config, nil
}

// selectPlatform returns the first index entry matching the platform.
func selectPlatform(entries []ocispec.Descriptor, want Platform) (ocispec.Descriptor, bool) {
	for _, entry := range entries {
		p := entry.Platform
		if p == nil {
			continue
		}
		if p.OS != want.OS || p.Architecture != want.Architecture {
			continue
		}
		if want.Variant != "" && p.Variant != "" && p.Variant != want.Variant {
			continue
		}
		return entry, true
	}
	return ocispec.Descriptor{}, false
}

// fetchManifestData performs the manifest GET shared by the pull variants,
// returning the body, its content type, and the verified digest.
func (c *Client) fetchManifestData(ctx context.Context, refStr string, auth *Auth, accept []string) ([]byte, string, digest.Digest, error) {
	ref, err := ParseReference(refStr)
	if err != nil {
		return nil, "", "", err
	}
	if len(accept) == 0 {
		accept = defaultManifestAccept
	}

	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method: http.MethodGet,
		url:    c.transport.manifestURL(ref),
		header: acceptHeader(accept),
		host:   ref.host(),
		scopes: []string{scopePull(ref.Repository)},
		auth:   auth,
	})
	if err != nil {
		return nil, "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", errFromResponse("pull manifest for", ref, resp)
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: read manifest body for %s: %v", ErrNetwork, ref, err)
	}

	dgst, err := manifestDigest(ref, resp.Header.Get("Docker-Content-Digest"), data)
	if err != nil {
		return nil, "", "", err
	}
	return data, resp.Header.Get("Content-Type"), dgst, nil
}

// manifestDigest determines the digest for a manifest body and verifies it
// against the registry-advertised header and the reference's pinned digest,
// when either is present.
func manifestDigest(ref Reference, header string, body []byte) (digest.Digest, error) {
	if ref.Digest != "" {
		if computed := ref.Digest.Algorithm().FromBytes(body); computed != ref.Digest {
			return "", fmt.Errorf("manifest for %s: %w: body hashes to %s", ref, ErrDigestMismatch, computed)
		}
	}
	if header == "" {
		return digest.FromBytes(body), nil
	}

	advertised, err := digest.Parse(header)
	if err != nil {
		// Unusable header; fall back to the computed digest.
		return digest.FromBytes(body), nil
	}
	if computed := advertised.Algorithm().FromBytes(body); computed != advertised {
		return "", fmt.Errorf("manifest for %s: %w: registry advertised %s, body hashes to %s", ref, ErrDigestMismatch, advertised, computed)
	}
	return advertised, nil
}

// acceptHeader builds an Accept header from a media type list.
func acceptHeader(mediaTypes []string) http.Header {
	header := make(http.Header, 1)
	for _, mt := range mediaTypes {
		header.Add("Accept", mt)
	}
	return header
}
