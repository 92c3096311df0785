package ociclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/opencontainers/go-digest"
)

// PullBlob fetches the blob identified by dgst from the repository named by
// ref. The received bytes are verified against dgst before being returned;
// on mismatch the data is discarded and the call fails with
// [ErrDigestMismatch].
func (c *Client) PullBlob(ctx context.Context, refStr string, dgst digest.Digest, auth *Auth) ([]byte, error) {
	ref, err := ParseReference(refStr)
	if err != nil {
		return nil, err
	}
	if err := dgst.Validate(); err != nil {
		return nil, fmt.Errorf("%w: blob digest %q: %v", ErrInvalidReference, dgst, err)
	}

	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method: http.MethodGet,
		url:    c.transport.blobURL(ref, dgst.String()),
		host:   ref.host(),
		scopes: []string{scopePull(ref.Repository)},
		auth:   auth,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errFromResponse("pull blob from", ref, resp)
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read blob %s from %s: %v", ErrNetwork, dgst, ref, err)
	}

	if computed := dgst.Algorithm().FromBytes(data); computed != dgst {
		c.logger.Warn("blob digest verification failed",
			"ref", ref.String(),
			"expected", dgst.String(),
			"computed", computed.String(),
		)
		return nil, fmt.Errorf("blob %s from %s: %w: body hashes to %s", dgst, ref, ErrDigestMismatch, computed)
	}
	return data, nil
}

// PushBlob uploads data to the repository named by ref using the two-step
// upload flow (POST to open a session, PUT to commit). The caller supplies
// the pre-computed digest; it is cross-checked against data before any
// request is sent, so a mismatch never stores content. On success the
// digest is returned unchanged as the confirmation handle.
func (c *Client) PushBlob(ctx context.Context, refStr string, data []byte, dgst digest.Digest, auth *Auth) (digest.Digest, error) {
	ref, err := ParseReference(refStr)
	if err != nil {
		return "", err
	}
	if err := dgst.Validate(); err != nil {
		return "", fmt.Errorf("%w: blob digest %q: %v", ErrInvalidReference, dgst, err)
	}
	if computed := dgst.Algorithm().FromBytes(data); computed != dgst {
		return "", fmt.Errorf("push blob to %s: %w: data hashes to %s, not %s", ref, ErrDigestMismatch, computed, dgst)
	}

	location, err := c.openUploadSession(ctx, ref, auth, nil)
	if err != nil {
		return "", err
	}

	commitURL, err := appendQuery(location, url.Values{"digest": []string{dgst.String()}})
	if err != nil {
		return "", fmt.Errorf("push blob to %s: %w: bad upload location %q: %v", ref, ErrRegistryRejected, location, err)
	}

	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method:      http.MethodPut,
		url:         commitURL,
		body:        data,
		contentType: "application/octet-stream",
		host:        ref.host(),
		scopes:      []string{scopePush(ref.Repository)},
		auth:        auth,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", errFromResponse("push blob to", ref, resp)
	}
	drainBody(resp)

	c.logger.Debug("pushed blob", "ref", ref.String(), "digest", dgst.String(), "size", len(data))
	return dgst, nil
}

// MountBlob asks the registry to mount the blob dgst from the repository in
// fromRef into the repository in targetRef, a server-side copy with no
// payload transfer. Registries that cannot or will not perform the mount
// fail with [ErrMountUnsupported]; the client does not fall back to
// pull-then-push, that is the caller's decision.
func (c *Client) MountBlob(ctx context.Context, targetRefStr, fromRefStr string, dgst digest.Digest, auth *Auth) error {
	target, err := ParseReference(targetRefStr)
	if err != nil {
		return err
	}
	from, err := ParseReference(fromRefStr)
	if err != nil {
		return err
	}
	if err := dgst.Validate(); err != nil {
		return fmt.Errorf("%w: blob digest %q: %v", ErrInvalidReference, dgst, err)
	}
	if target.host() != from.host() {
		return fmt.Errorf("mount %s into %s: %w: cross-registry mounts are not possible", dgst, target, ErrMountUnsupported)
	}

	query := url.Values{
		"mount": []string{dgst.String()},
		"from":  []string{from.Repository},
	}
	mountURL, err := appendQuery(c.transport.uploadURL(target), query)
	if err != nil {
		return fmt.Errorf("mount %s into %s: %v", dgst, target, err)
	}

	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method: http.MethodPost,
		url:    mountURL,
		host:   target.host(),
		scopes: []string{scopePush(target.Repository), scopePull(from.Repository)},
		auth:   auth,
	})
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		drainBody(resp)
		c.logger.Debug("mounted blob", "digest", dgst.String(), "from", from.String(), "to", target.String())
		return nil
	case http.StatusAccepted:
		// The registry declined the mount and opened a regular upload
		// session instead. Cancel it and report the mount as unsupported.
		location := resp.Header.Get("Location")
		drainBody(resp)
		c.cancelUploadSession(ctx, target, location, auth)
		return fmt.Errorf("mount %s into %s: %w", dgst, target, ErrMountUnsupported)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errFromResponse("mount blob into", target, resp)
	default:
		drainBody(resp)
		return fmt.Errorf("mount %s into %s: %w: status %d", dgst, target, ErrMountUnsupported, resp.StatusCode)
	}
}

// openUploadSession POSTs to the upload endpoint and returns the session
// location resolved against the registry base URL.
func (c *Client) openUploadSession(ctx context.Context, ref Reference, auth *Auth, query url.Values) (string, error) {
	uploadURL := c.transport.uploadURL(ref)
	if len(query) > 0 {
		var err error
		uploadURL, err = appendQuery(uploadURL, query)
		if err != nil {
			return "", fmt.Errorf("open upload for %s: %v", ref, err)
		}
	}

	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method: http.MethodPost,
		url:    uploadURL,
		host:   ref.host(),
		scopes: []string{scopePush(ref.Repository)},
		auth:   auth,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", errFromResponse("open blob upload for", ref, resp)
	}
	location := resp.Header.Get("Location")
	drainBody(resp)

	if location == "" {
		return "", fmt.Errorf("open blob upload for %s: %w: no upload location", ref, ErrRegistryRejected)
	}
	return c.resolveLocation(ref, location)
}

// cancelUploadSession best-effort deletes an upload session the client is
// not going to complete.
func (c *Client) cancelUploadSession(ctx context.Context, ref Reference, location string, auth *Auth) {
	if location == "" {
		return
	}
	resolved, err := c.resolveLocation(ref, location)
	if err != nil {
		return
	}
	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method: http.MethodDelete,
		url:    resolved,
		host:   ref.host(),
		scopes: []string{scopePush(ref.Repository)},
		auth:   auth,
	})
	if err != nil {
		return
	}
	drainBody(resp)
}

// resolveLocation resolves a possibly relative Location header against the
// registry base URL.
func (c *Client) resolveLocation(ref Reference, location string) (string, error) {
	base, err := url.Parse(c.transport.baseURL(ref))
	if err != nil {
		return "", fmt.Errorf("%w: registry base URL: %v", ErrRegistryRejected, err)
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: upload location %q: %v", ErrRegistryRejected, location, err)
	}
	return base.ResolveReference(loc).String(), nil
}

// appendQuery adds query parameters to a URL that may already carry some.
func appendQuery(rawURL string, values url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	query := u.Query()
	for key, vals := range values {
		for _, v := range vals {
			query.Add(key, v)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
