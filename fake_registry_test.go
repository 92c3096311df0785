package ociclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
)

// fakeRegistry is an in-memory distribution-API registry for protocol tests.
// It records every request it serves so tests can assert on ordering.
type fakeRegistry struct {
	t *testing.T

	mu        sync.Mutex
	blobs     map[string][]byte         // digest -> content
	manifests map[string]storedManifest // "<repo> <locator>" -> manifest
	referrers map[string][]ocispec.Descriptor
	requests  []string // "METHOD /path"

	// Knobs for failure injection and behavior variation.
	corruptBlobs     map[string]bool // serve flipped bytes for these digests
	missingBlobs     map[string]bool // 404 these digests even if stored
	rejectUploads    map[string]bool // fail the upload commit for these digests
	allowMount       bool
	omitDigestHeader bool
	filtersApplied   bool // referrers endpoint applies artifactType itself

	// Auth configuration. authMode "" disables auth; "bearer" challenges
	// with a token realm; "basic" challenges with Basic.
	authMode      string
	username      string
	password      string
	tokenRequests int

	server *httptest.Server
}

type storedManifest struct {
	data      []byte
	mediaType string
}

const fakeToken = "fake-registry-token"

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	f := &fakeRegistry{
		t:             t,
		blobs:         make(map[string][]byte),
		manifests:     make(map[string]storedManifest),
		referrers:     make(map[string][]ocispec.Descriptor),
		corruptBlobs:  make(map[string]bool),
		missingBlobs:  make(map[string]bool),
		rejectUploads: make(map[string]bool),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// host returns the registry host:port for use in reference strings.
func (f *fakeRegistry) host() string {
	u, err := url.Parse(f.server.URL)
	if err != nil {
		f.t.Fatalf("parse server URL: %v", err)
	}
	return u.Host
}

// putBlob seeds a blob and returns its digest.
func (f *fakeRegistry) putBlob(data []byte) digest.Digest {
	dgst := digest.FromBytes(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[dgst.String()] = data
	return dgst
}

// putManifest seeds a manifest under repo/locator (and its digest) and
// returns the digest.
func (f *fakeRegistry) putManifest(repo, locator string, data []byte, mediaType string) digest.Digest {
	dgst := digest.FromBytes(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	sm := storedManifest{data: data, mediaType: mediaType}
	f.manifests[repo+" "+locator] = sm
	f.manifests[repo+" "+dgst.String()] = sm
	return dgst
}

// requestLog returns a copy of the served request log.
func (f *fakeRegistry) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// tokenExchanges reports how many times the token endpoint was hit.
func (f *fakeRegistry) tokenExchanges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenRequests
}

func (f *fakeRegistry) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if r.URL.Path == "/token" {
		f.handleToken(w, r)
		return
	}
	if !f.authorized(r) {
		f.challenge(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v2/")
	switch {
	case r.URL.Path == "/v2/" || r.URL.Path == "/v2":
		w.WriteHeader(http.StatusOK)
	case strings.Contains(path, "/manifests/"):
		repo, locator, _ := strings.Cut(path, "/manifests/")
		f.handleManifest(w, r, repo, locator)
	case strings.Contains(path, "/blobs/uploads"):
		repo, rest, _ := strings.Cut(path, "/blobs/uploads")
		f.handleUpload(w, r, repo, strings.TrimPrefix(rest, "/"))
	case strings.Contains(path, "/blobs/"):
		_, dgst, _ := strings.Cut(path, "/blobs/")
		f.handleBlob(w, r, dgst)
	case strings.HasSuffix(path, "/tags/list"):
		repo := strings.TrimSuffix(path, "/tags/list")
		f.handleTags(w, r, repo)
	case strings.Contains(path, "/referrers/"):
		_, dgst, _ := strings.Cut(path, "/referrers/")
		f.handleReferrers(w, r, dgst)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRegistry) authorized(r *http.Request) bool {
	switch f.authMode {
	case "bearer":
		return r.Header.Get("Authorization") == "Bearer "+fakeToken
	case "basic":
		user, pass, ok := r.BasicAuth()
		return ok && user == f.username && pass == f.password
	default:
		return true
	}
}

func (f *fakeRegistry) challenge(w http.ResponseWriter, r *http.Request) {
	switch f.authMode {
	case "bearer":
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(
			`Bearer realm="%s/token",service="fake-registry",scope="repository:test:pull,push"`,
			f.server.URL))
	case "basic":
		w.Header().Set("WWW-Authenticate", `Basic realm="fake-registry"`)
	}
	w.WriteHeader(http.StatusUnauthorized)
}

func (f *fakeRegistry) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tokenRequests++
	f.mu.Unlock()

	if f.username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != f.username || pass != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":      fakeToken,
		"expires_in": 300,
	})
}

func (f *fakeRegistry) handleManifest(w http.ResponseWriter, r *http.Request, repo, locator string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		f.mu.Lock()
		sm, ok := f.manifests[repo+" "+locator]
		f.mu.Unlock()
		if !ok {
			f.writeError(w, http.StatusNotFound, "MANIFEST_UNKNOWN", "manifest unknown")
			return
		}
		w.Header().Set("Content-Type", sm.mediaType)
		if !f.omitDigestHeader {
			w.Header().Set("Docker-Content-Digest", digest.FromBytes(sm.data).String())
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(sm.data)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(sm.data)
		}
	case http.MethodPut:
		data := readAll(f.t, r)
		dgst := digest.FromBytes(data)
		if strings.HasPrefix(locator, "sha256:") && locator != dgst.String() {
			f.writeError(w, http.StatusBadRequest, "DIGEST_INVALID", "provided digest did not match uploaded content")
			return
		}
		f.mu.Lock()
		sm := storedManifest{data: data, mediaType: r.Header.Get("Content-Type")}
		f.manifests[repo+" "+locator] = sm
		f.manifests[repo+" "+dgst.String()] = sm
		f.mu.Unlock()
		w.Header().Set("Docker-Content-Digest", dgst.String())
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeRegistry) handleBlob(w http.ResponseWriter, r *http.Request, dgst string) {
	f.mu.Lock()
	data, ok := f.blobs[dgst]
	corrupt := f.corruptBlobs[dgst]
	missing := f.missingBlobs[dgst]
	f.mu.Unlock()

	if !ok || missing {
		f.writeError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob unknown to registry")
		return
	}
	if corrupt {
		data = append([]byte("corrupted:"), data...)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (f *fakeRegistry) handleUpload(w http.ResponseWriter, r *http.Request, repo, session string) {
	switch {
	case r.Method == http.MethodPost:
		mount := r.URL.Query().Get("mount")
		if mount != "" {
			f.mu.Lock()
			_, exists := f.blobs[mount]
			f.mu.Unlock()
			if f.allowMount && exists {
				w.Header().Set("Location", "/v2/"+repo+"/blobs/"+mount)
				w.WriteHeader(http.StatusCreated)
				return
			}
		}
		w.Header().Set("Location", "/v2/"+repo+"/blobs/uploads/test-session")
		w.WriteHeader(http.StatusAccepted)
	case r.Method == http.MethodPut && session != "":
		data := readAll(f.t, r)
		want := r.URL.Query().Get("digest")
		f.mu.Lock()
		rejected := f.rejectUploads[want]
		f.mu.Unlock()
		if rejected {
			f.writeError(w, http.StatusInternalServerError, "BLOB_UPLOAD_INVALID", "upload rejected")
			return
		}
		if digest.FromBytes(data).String() != want {
			f.writeError(w, http.StatusBadRequest, "DIGEST_INVALID", "provided digest did not match uploaded content")
			return
		}
		f.mu.Lock()
		f.blobs[want] = data
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodDelete && session != "":
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeRegistry) handleTags(w http.ResponseWriter, r *http.Request, repo string) {
	f.mu.Lock()
	var tags []string
	for key := range f.manifests {
		keyRepo, locator, _ := strings.Cut(key, " ")
		if keyRepo == repo && !strings.Contains(locator, ":") {
			tags = append(tags, locator)
		}
	}
	f.mu.Unlock()
	sort.Strings(tags)

	if last := r.URL.Query().Get("last"); last != "" {
		idx := sort.SearchStrings(tags, last)
		if idx < len(tags) && tags[idx] == last {
			idx++
		}
		tags = tags[idx:]
	}
	if nStr := r.URL.Query().Get("n"); nStr != "" {
		n, err := strconv.Atoi(nStr)
		if err == nil && n >= 0 && n < len(tags) {
			tags = tags[:n]
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"name": repo, "tags": tags})
}

func (f *fakeRegistry) handleReferrers(w http.ResponseWriter, r *http.Request, dgst string) {
	f.mu.Lock()
	entries := append([]ocispec.Descriptor(nil), f.referrers[dgst]...)
	f.mu.Unlock()

	artifactType := r.URL.Query().Get("artifactType")
	if artifactType != "" && f.filtersApplied {
		entries = filterByArtifactType(entries, artifactType)
		w.Header().Set("OCI-Filters-Applied", "artifactType")
	}
	w.Header().Set("Content-Type", ocispec.MediaTypeImageIndex)
	_ = json.NewEncoder(w).Encode(ocispec.Index{
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: entries,
	})
}

func (f *fakeRegistry) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{{"code": code, "message": message}},
	})
}

func readAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return data
}

// newTestClient creates a plain-HTTP client pointed at nothing in
// particular; references carry the fake registry's host.
func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	return New(append([]Option{WithPlainHTTP(true)}, opts...)...)
}

// marshalImageManifest serializes a minimal image manifest with the given
// layer descriptors and a placeholder config descriptor.
func marshalImageManifest(t *testing.T, layers []ocispec.Descriptor) []byte {
	t.Helper()
	m := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config: ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageConfig,
			Digest:    testDigest,
			Size:      4,
		},
		Layers: layers,
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}
