package ociclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"oras.land/oras-go/v2/registry/remote/errcode"
)

// maxErrorBody bounds how much of an error response body is read when
// building an error message.
const maxErrorBody = 8 * 1024

// authState tracks the challenge/response exchange for a single request.
// The transport retries a 401 exactly once: a second 401 after presenting
// credentials is an authentication failure, not a retry loop.
type authState int

const (
	authStateUnauthenticated authState = iota
	authStateChallenged
	authStateRetried
)

// registryRequest describes one distribution-API request. The body is held
// as bytes so the request can be replayed after a challenge.
type registryRequest struct {
	method      string
	url         string
	header      http.Header
	body        []byte
	host        string
	scopes      []string
	auth        *Auth
	contentType string
}

// transport issues HTTP requests against registry endpoints, handling the
// WWW-Authenticate challenge/response exchange transparently.
type transport struct {
	client    *http.Client
	userAgent string
	plainHTTP bool
	creds     *credentialStore
	tokens    *tokenCache
	logger    *slog.Logger
}

// scheme returns the URL scheme selected at client construction.
func (t *transport) scheme() string {
	if t.plainHTTP {
		return "http"
	}
	return "https"
}

// baseURL returns the registry API root for a reference.
func (t *transport) baseURL(ref Reference) string {
	return t.scheme() + "://" + ref.host()
}

// manifestURL returns the manifest endpoint for a reference.
func (t *transport) manifestURL(ref Reference) string {
	return fmt.Sprintf("%s/v2/%s/manifests/%s", t.baseURL(ref), ref.Repository, ref.locator())
}

// blobURL returns the blob endpoint for a digest in the reference's repository.
func (t *transport) blobURL(ref Reference, dgst string) string {
	return fmt.Sprintf("%s/v2/%s/blobs/%s", t.baseURL(ref), ref.Repository, dgst)
}

// uploadURL returns the blob upload session endpoint.
func (t *transport) uploadURL(ref Reference) string {
	return fmt.Sprintf("%s/v2/%s/blobs/uploads/", t.baseURL(ref), ref.Repository)
}

// tagsURL returns the tag listing endpoint.
func (t *transport) tagsURL(ref Reference) string {
	return fmt.Sprintf("%s/v2/%s/tags/list", t.baseURL(ref), ref.Repository)
}

// referrersURL returns the OCI 1.1 referrers endpoint for a subject digest.
func (t *transport) referrersURL(ref Reference, dgst string) string {
	return fmt.Sprintf("%s/v2/%s/referrers/%s", t.baseURL(ref), ref.Repository, dgst)
}

// scopePull returns the token scope granting pull on a repository.
func scopePull(repository string) string {
	return "repository:" + repository + ":pull"
}

// scopePush returns the token scope granting pull and push on a repository.
func scopePush(repository string) string {
	return "repository:" + repository + ":pull,push"
}

// roundTrip sends the request, performing at most one challenge/response
// retry on 401. Any non-401 response is returned to the caller, who owns
// the body. Connection failures wrap [ErrNetwork].
func (t *transport) roundTrip(ctx context.Context, rr *registryRequest) (*http.Response, error) {
	cred := t.creds.resolve(rr.host, rr.auth)
	scopeKey := tokenKey(rr.host, strings.Join(rr.scopes, " "))

	authorization := ""
	if t.tokens != nil {
		if cached, ok := t.tokens.get(scopeKey); ok {
			authorization = cached
		}
	}

	state := authStateUnauthenticated
	for {
		req, err := t.buildRequest(ctx, rr, authorization)
		if err != nil {
			return nil, err
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, rr.method, rr.url, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		if state == authStateRetried {
			drainBody(resp)
			return nil, fmt.Errorf("%w: %s %s: credentials rejected after challenge", ErrAuthFailed, rr.method, rr.url)
		}

		ch, ok := parseChallenge(resp.Header.Get("WWW-Authenticate"))
		drainBody(resp)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s: 401 without a usable WWW-Authenticate challenge", ErrAuthFailed, rr.method, rr.url)
		}
		state = authStateChallenged
		t.logger.Debug("auth challenge received", "host", rr.host, "scheme", ch.scheme)

		switch ch.scheme {
		case "bearer":
			header, ttl, err := t.exchangeToken(ctx, cred, ch, rr.scopes)
			if err != nil {
				return nil, err
			}
			authorization = header
			if t.tokens != nil {
				t.tokens.set(scopeKey, header, ttl)
			}
		case "basic":
			if cred.kind != credentialBasic {
				return nil, fmt.Errorf("%w: %s requires basic credentials and none were supplied", ErrAuthFailed, rr.host)
			}
			authorization = basicAuthHeader(cred)
		default:
			return nil, fmt.Errorf("%w: unsupported auth scheme %q from %s", ErrAuthFailed, ch.scheme, rr.host)
		}
		state = authStateRetried
	}
}

// buildRequest materializes an http.Request from the replayable description.
func (t *transport) buildRequest(ctx context.Context, rr *registryRequest, authorization string) (*http.Request, error) {
	var body io.Reader
	if rr.body != nil {
		body = bytes.NewReader(rr.body)
	}
	req, err := http.NewRequestWithContext(ctx, rr.method, rr.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request %s %s: %v", ErrNetwork, rr.method, rr.url, err)
	}
	for k, vs := range rr.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if rr.contentType != "" {
		req.Header.Set("Content-Type", rr.contentType)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	req.Header.Set("User-Agent", t.userAgent)
	return req, nil
}

// challenge is a parsed WWW-Authenticate header.
type challenge struct {
	scheme string // lowercase: "bearer", "basic"
	params map[string]string
}

// parseChallenge parses a WWW-Authenticate header of the form
//
//	Bearer realm="https://auth.example.com/token",service="example.com",scope="repository:foo:pull"
//
// Returns false when the header is empty or has no scheme.
func parseChallenge(header string) (challenge, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return challenge{}, false
	}

	scheme, rest, _ := strings.Cut(header, " ")
	ch := challenge{
		scheme: strings.ToLower(scheme),
		params: make(map[string]string),
	}

	for _, part := range splitChallengeParams(rest) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		ch.params[key] = value
	}
	return ch, true
}

// splitChallengeParams splits challenge parameters on commas outside quotes.
func splitChallengeParams(s string) []string {
	var parts []string
	var b strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			b.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

// tokenResponse is the registry token service response body. Some token
// services use access_token instead of token.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// exchangeToken performs the bearer token exchange against the challenge
// realm and returns the Authorization header value plus its advertised
// lifetime (zero when the token service did not state one).
func (t *transport) exchangeToken(ctx context.Context, cred credential, ch challenge, scopes []string) (string, time.Duration, error) {
	realm := ch.params["realm"]
	if realm == "" {
		return "", 0, fmt.Errorf("%w: bearer challenge without realm", ErrAuthFailed)
	}

	tokenURL, err := url.Parse(realm)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bearer realm %q: %v", ErrAuthFailed, realm, err)
	}

	query := tokenURL.Query()
	if service := ch.params["service"]; service != "" {
		query.Set("service", service)
	}
	if scope := ch.params["scope"]; scope != "" {
		// The registry told us exactly which scope it wants.
		query.Add("scope", scope)
	} else {
		for _, scope := range scopes {
			query.Add("scope", scope)
		}
	}
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: build token request: %v", ErrNetwork, err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	if cred.kind == credentialBasic {
		req.SetBasicAuth(cred.username, cred.password)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: token exchange with %s: %v", ErrNetwork, realm, err)
	}
	defer drainBody(resp)

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: token endpoint %s returned %d", ErrAuthFailed, realm, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("%w: decode token response from %s: %v", ErrAuthFailed, realm, err)
	}
	token := tr.Token
	if token == "" {
		token = tr.AccessToken
	}
	if token == "" {
		return "", 0, fmt.Errorf("%w: token endpoint %s returned no token", ErrAuthFailed, realm)
	}

	var ttl time.Duration
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn) * time.Second
	}
	return "Bearer " + token, ttl, nil
}

// basicAuthHeader builds an Authorization header for basic credentials.
func basicAuthHeader(cred credential) string {
	req, _ := http.NewRequest(http.MethodGet, "http://placeholder", nil)
	req.SetBasicAuth(cred.username, cred.password)
	return req.Header.Get("Authorization")
}

// errFromResponse maps a non-2xx registry response to a sentinel error,
// decoding the distribution-spec error payload when one is present.
// The response body is consumed.
func errFromResponse(op string, ref Reference, resp *http.Response) error {
	defer drainBody(resp)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", op, ref, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s %s: %w: status %d", op, ref, ErrAuthFailed, resp.StatusCode)
	}

	var payload struct {
		Errors errcode.Errors `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && len(payload.Errors) > 0 {
		return fmt.Errorf("%s %s: %w: status %d: %v", op, ref, ErrRegistryRejected, resp.StatusCode, payload.Errors)
	}
	return fmt.Errorf("%s %s: %w: status %d: %s", op, ref, ErrRegistryRejected, resp.StatusCode, strings.TrimSpace(string(data)))
}

// drainBody discards and closes a response body so the connection can be
// reused.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
