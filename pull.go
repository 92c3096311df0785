package ociclient

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Pull fetches everything needed to materialize the image at ref: the
// platform-resolved manifest, its config blob, and every layer blob.
//
// The operation is all-or-nothing: if any blob fails to transfer or verify,
// Pull returns the first error and no partial [ImageData]. Independent
// layers are fetched concurrently; each is digest-verified before use.
func (c *Client) Pull(ctx context.Context, refStr string, auth *Auth, opts ...PullOption) (*ImageData, error) {
	cfg := pullConfig{concurrency: defaultPullConcurrency}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = defaultPullConcurrency
	}

	manifest, dgst, err := c.PullImageManifest(ctx, refStr, auth)
	if err != nil {
		return nil, err
	}

	if len(cfg.layerMediaTypes) > 0 {
		for _, layer := range manifest.Layers {
			if !slices.Contains(cfg.layerMediaTypes, layer.MediaType) {
				return nil, fmt.Errorf("pull %s: %w: layer %s has media type %q", refStr, ErrUnsupportedMediaType, layer.Digest, layer.MediaType)
			}
		}
	}

	c.logger.Debug("pulling image", "ref", refStr, "digest", dgst.String(), "layers", len(manifest.Layers))

	configData, err := c.PullBlob(ctx, refStr, manifest.Config.Digest, auth)
	if err != nil {
		return nil, err
	}

	layers := make([]Layer, len(manifest.Layers))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.concurrency)
	for i, desc := range manifest.Layers {
		group.Go(func() error {
			data, err := c.PullBlob(groupCtx, refStr, desc.Digest, auth)
			if err != nil {
				return err
			}
			layers[i] = Layer{
				Data:        data,
				MediaType:   desc.MediaType,
				Annotations: desc.Annotations,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return &ImageData{
		Layers: layers,
		Config: Config{
			Data:        configData,
			MediaType:   manifest.Config.MediaType,
			Annotations: manifest.Config.Annotations,
		},
		Digest: dgst,
	}, nil
}
