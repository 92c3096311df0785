package ociclient

import ocispec "github.com/opencontainers/image-spec/specs-go/v1"

// pushConfig holds per-push settings.
type pushConfig struct {
	manifest *ocispec.Manifest
}

// PushOption configures a [Client.Push] call.
type PushOption func(*pushConfig)

// WithManifest supplies the manifest to push instead of building one from
// the config and layers. The supplied manifest must reference the config
// and layer digests being pushed; the client does not verify that.
func WithManifest(manifest *ocispec.Manifest) PushOption {
	return func(cfg *pushConfig) {
		cfg.manifest = manifest
	}
}
