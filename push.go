package ociclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Push publishes config and layers as one image at ref.
//
// Blobs go first: the config blob, then each layer in the order given.
// The manifest is pushed strictly after every blob has been accepted, since
// registries may validate referential integrity at manifest-push time. A
// blob failure aborts the push before the manifest step; blobs already
// uploaded are left for the registry to garbage-collect, no compensating
// deletes are issued.
//
// When no manifest is supplied via [WithManifest], one is built from the
// config and layers. Cancelling ctx stops the push before the next step.
func (c *Client) Push(ctx context.Context, refStr string, layers []Layer, config Config, auth *Auth, opts ...PushOption) (*PushResult, error) {
	cfg := pushConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	ref, err := ParseReference(refStr)
	if err != nil {
		return nil, err
	}

	configDigest := digest.FromBytes(config.Data)
	if _, err := c.PushBlob(ctx, refStr, config.Data, configDigest, auth); err != nil {
		return nil, fmt.Errorf("push config: %w", err)
	}

	layerDescs := make([]ocispec.Descriptor, len(layers))
	for i, layer := range layers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("push %s: %w", ref, err)
		}
		layerDigest := digest.FromBytes(layer.Data)
		if _, err := c.PushBlob(ctx, refStr, layer.Data, layerDigest, auth); err != nil {
			return nil, fmt.Errorf("push layer %d: %w", i, err)
		}
		layerDescs[i] = ocispec.Descriptor{
			MediaType:   layerMediaType(layer),
			Digest:      layerDigest,
			Size:        int64(len(layer.Data)),
			Annotations: layer.Annotations,
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("push %s: %w", ref, err)
	}

	manifest := cfg.manifest
	if manifest == nil {
		manifest = buildImageManifest(config, configDigest, layerDescs)
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("push %s: %w: %v", ref, ErrInvalidManifest, err)
	}

	manifestURL, err := c.PushManifestRaw(ctx, refStr, data, manifestContentType(manifest), auth)
	if err != nil {
		return nil, err
	}

	return &PushResult{
		ConfigURL:   c.transport.blobURL(ref, configDigest.String()),
		ManifestURL: manifestURL,
	}, nil
}

// buildImageManifest assembles an image manifest from a config blob and the
// already-pushed layer descriptors.
func buildImageManifest(config Config, configDigest digest.Digest, layers []ocispec.Descriptor) *ocispec.Manifest {
	configMediaType := config.MediaType
	if configMediaType == "" {
		configMediaType = ocispec.MediaTypeImageConfig
	}
	return &ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config: ocispec.Descriptor{
			MediaType:   configMediaType,
			Digest:      configDigest,
			Size:        int64(len(config.Data)),
			Annotations: config.Annotations,
		},
		Layers: layers,
	}
}

// layerMediaType returns the layer's media type, defaulting to the OCI
// gzipped tar layer type.
func layerMediaType(layer Layer) string {
	if layer.MediaType != "" {
		return layer.MediaType
	}
	return ocispec.MediaTypeImageLayerGzip
}

// manifestContentType returns the content type a manifest should be pushed
// with.
func manifestContentType(manifest *ocispec.Manifest) string {
	if manifest.MediaType != "" {
		return manifest.MediaType
	}
	return ocispec.MediaTypeImageManifest
}
