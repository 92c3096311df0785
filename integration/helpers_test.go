//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/meigma/ociclient"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// --- Registry Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the shared registry address, starting the container if needed.
// The container is shared across all tests for performance.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	registryOnce.Do(func() {
		ctx := context.Background()
		registryAddr, registryErr = startRegistryContainer(ctx)
	})

	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}

	return registryAddr
}

// startRegistryContainer starts a registry:2 container and returns the host:port address.
func startRegistryContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start registry container: %w", err)
	}

	// Note: Container cleanup is handled by testcontainers Reaper.

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve registry host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve registry port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Test Client Factory ---

// newTestClient creates a client configured for the local test registry.
func newTestClient(tb testing.TB, opts ...ociclient.Option) *ociclient.Client {
	tb.Helper()

	// Always use plain HTTP for the local registry.
	allOpts := append([]ociclient.Option{ociclient.WithPlainHTTP(true)}, opts...)
	return ociclient.New(allOpts...)
}

// --- Test Reference Helpers ---

// testRef generates a unique reference for a test to avoid collisions.
func testRef(registryAddr, testName string) string {
	return fmt.Sprintf("%s/test/%s:latest", registryAddr, testName)
}

// testRefWithTag generates a reference with a specific tag.
func testRefWithTag(registryAddr, testName, tag string) string {
	return fmt.Sprintf("%s/test/%s:%s", registryAddr, testName, tag)
}

// --- Test Data Helpers ---

// makeRandomContent creates random binary content.
func makeRandomContent(size int) []byte {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return data
}

// testConfig is a minimal image config blob.
var testConfig = ociclient.Config{
	Data:      []byte(`{"architecture":"amd64","os":"linux"}`),
	MediaType: ocispec.MediaTypeImageConfig,
}

// testLayers returns n distinct random layers.
func testLayers(n, size int) []ociclient.Layer {
	layers := make([]ociclient.Layer, n)
	for i := range layers {
		layers[i] = ociclient.Layer{
			Data:      makeRandomContent(size),
			MediaType: ocispec.MediaTypeImageLayerGzip,
		}
	}
	return layers
}

// pushImage publishes a minimal image at ref and returns its manifest digest.
func pushImage(tb testing.TB, client *ociclient.Client, ref string, layers []ociclient.Layer) digest.Digest {
	tb.Helper()

	ctx := context.Background()
	_, err := client.Push(ctx, ref, layers, testConfig, nil)
	require.NoError(tb, err, "Push")

	dgst, err := client.FetchManifestDigest(ctx, ref, nil)
	require.NoError(tb, err, "FetchManifestDigest")
	return dgst
}

// marshalManifest serializes an image manifest for raw push tests.
func marshalManifest(tb testing.TB, manifest ocispec.Manifest) []byte {
	tb.Helper()
	data, err := json.Marshal(manifest)
	require.NoError(tb, err)
	return data
}

// imageManifest builds a manifest over already-pushed blobs.
func imageManifest(configData []byte, layerData ...[]byte) ocispec.Manifest {
	layers := make([]ocispec.Descriptor, len(layerData))
	for i, data := range layerData {
		layers[i] = ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageLayerGzip,
			Digest:    digest.FromBytes(data),
			Size:      int64(len(data)),
		}
	}
	return ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config: ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageConfig,
			Digest:    digest.FromBytes(configData),
			Size:      int64(len(configData)),
		},
		Layers: layers,
	}
}
