package ociclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// ListTags lists the tags of the repository named by ref in lexicographic
// order. A positive n caps the page size; last is an exclusive cursor, the
// listing starts at the first tag after it. Continue by re-issuing the call
// with last set to the final tag of the previous page; an empty page signals
// the end of the listing.
func (c *Client) ListTags(ctx context.Context, refStr string, auth *Auth, n int, last string) ([]string, error) {
	ref, err := ParseReference(refStr)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if n > 0 {
		query.Set("n", strconv.Itoa(n))
	}
	if last != "" {
		query.Set("last", last)
	}
	tagsURL := c.transport.tagsURL(ref)
	if len(query) > 0 {
		tagsURL, err = appendQuery(tagsURL, query)
		if err != nil {
			return nil, fmt.Errorf("list tags of %s: %v", ref, err)
		}
	}

	resp, err := c.transport.roundTrip(ctx, &registryRequest{
		method: http.MethodGet,
		url:    tagsURL,
		host:   ref.host(),
		scopes: []string{scopePull(ref.Repository)},
		auth:   auth,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errFromResponse("list tags of", ref, resp)
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read tag list of %s: %v", ErrNetwork, ref, err)
	}

	var body struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("list tags of %s: %w: %v", ref, ErrRegistryRejected, err)
	}
	return body.Tags, nil
}
