package ociclient

// defaultPullConcurrency bounds how many layer blobs are fetched at once
// during a composite pull.
const defaultPullConcurrency = 3

// pullConfig holds per-pull settings.
type pullConfig struct {
	layerMediaTypes []string
	concurrency     int
}

// PullOption configures a [Client.Pull] call.
type PullOption func(*pullConfig)

// WithLayerMediaTypes restricts the layer media types a pull will accept.
// A manifest referencing a layer outside the set fails the pull with
// [ErrUnsupportedMediaType]. By default all layer media types are accepted.
func WithLayerMediaTypes(mediaTypes ...string) PullOption {
	return func(cfg *pullConfig) {
		cfg.layerMediaTypes = mediaTypes
	}
}

// WithPullConcurrency sets how many layer blobs may be fetched in parallel.
// Values below one fall back to the default.
func WithPullConcurrency(n int) PullOption {
	return func(cfg *pullConfig) {
		cfg.concurrency = n
	}
}
