package ociclient

import "github.com/opencontainers/go-digest"

// Layer is one layer blob of an image: raw bytes plus the media type and
// optional annotations recorded in the manifest's layer descriptor.
type Layer struct {
	Data        []byte
	MediaType   string
	Annotations map[string]string
}

// Config is the config blob of an image.
type Config struct {
	Data        []byte
	MediaType   string
	Annotations map[string]string
}

// ImageData is everything needed to materialize an image: its layers, its
// config blob, and the digest of the manifest it was resolved from.
//
// The caller owns the returned bytes; the client keeps no reference to them.
type ImageData struct {
	Layers []Layer
	Config Config
	Digest digest.Digest
}

// PushResult reports the canonical locations the registry assigned to a
// pushed image. It is produced only after every dependent blob push
// succeeded.
type PushResult struct {
	ConfigURL   string
	ManifestURL string
}

// Platform selects an entry out of a multi-platform image index.
// Variant is optional; when set it must also match.
type Platform struct {
	OS           string
	Architecture string
	Variant      string
}
