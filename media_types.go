package ociclient

import ocispec "github.com/opencontainers/image-spec/specs-go/v1"

// Docker schema 2 media types. Registries predating the OCI image spec
// serve these; the client accepts them interchangeably with their OCI
// counterparts.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeDockerImageConfig  = "application/vnd.docker.container.image.v1+json"
	MediaTypeDockerLayerGzip    = "application/vnd.docker.image.rootfs.diff.tar.gzip"
)

// defaultManifestAccept is the Accept list sent when pulling manifests
// unless the caller overrides it.
var defaultManifestAccept = []string{
	ocispec.MediaTypeImageManifest,
	ocispec.MediaTypeImageIndex,
	MediaTypeDockerManifest,
	MediaTypeDockerManifestList,
}

// isImageManifestMediaType reports whether mt names a single-image manifest.
func isImageManifestMediaType(mt string) bool {
	return mt == ocispec.MediaTypeImageManifest || mt == MediaTypeDockerManifest
}

// isIndexMediaType reports whether mt names a multi-manifest index.
func isIndexMediaType(mt string) bool {
	return mt == ocispec.MediaTypeImageIndex || mt == MediaTypeDockerManifestList
}
