package ociclient

import (
	"container/list"
	"sync"
	"time"
)

// Auth carries caller-supplied credentials for a single operation.
//
// A nil *Auth, or one without both Username and Password, results in
// anonymous access. Credentials are remembered per registry host for the
// lifetime of the client, so later anonymous calls against the same host
// reuse them; supplying fresh credentials overwrites the remembered entry.
type Auth struct {
	Username string
	Password string

	// Token and UseDockerConfig are accepted for API compatibility only
	// and are ignored: requests degrade to anonymous access when only
	// these fields are set. Only basic and anonymous auth are supported.
	Token           string
	UseDockerConfig bool
}

// credentialKind discriminates the effective credential variants.
type credentialKind int

const (
	credentialAnonymous credentialKind = iota
	credentialBasic
)

// credential is the effective credential resolved for a registry host.
type credential struct {
	kind     credentialKind
	username string
	password string
}

// credentialStore caches effective credentials per registry host.
//
// The store is owned by the client instance and is safe for concurrent use.
// Entries are keyed by host only, so credentials supplied for one repository
// apply to every repository on that registry. Last writer for a host wins.
type credentialStore struct {
	mu     sync.RWMutex
	byHost map[string]credential
}

func newCredentialStore() *credentialStore {
	return &credentialStore{byHost: make(map[string]credential)}
}

// resolve produces the effective credential for host given the
// caller-supplied auth, recording supplied credentials for later calls.
// Token-only and docker-config requests resolve to anonymous.
func (s *credentialStore) resolve(host string, auth *Auth) credential {
	if auth != nil && auth.Username != "" && auth.Password != "" {
		cred := credential{
			kind:     credentialBasic,
			username: auth.Username,
			password: auth.Password,
		}
		s.mu.Lock()
		s.byHost[host] = cred
		s.mu.Unlock()
		return cred
	}

	s.mu.RLock()
	cred, ok := s.byHost[host]
	s.mu.RUnlock()
	if ok {
		return cred
	}
	return credential{kind: credentialAnonymous}
}

// len reports the number of cached host entries.
func (s *credentialStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHost)
}

const (
	defaultTokenCacheTTL     = time.Minute
	defaultTokenCacheMaxSize = 100
)

// tokenCache is an LRU cache for Authorization header values with TTL
// expiration. Entries are keyed by host and scope: bearer tokens issued by
// registry token services are scoped, so a pull token for one repository
// must not be replayed for another.
type tokenCache struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxSize    int
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
}

// cachedToken is a single cached Authorization header entry.
type cachedToken struct {
	key     string
	value   string
	expires time.Time
}

// newTokenCache creates a token cache with the given default TTL and the
// default maximum size. Returns nil if ttl is zero or negative, which
// disables token caching entirely.
func newTokenCache(ttl time.Duration) *tokenCache {
	if ttl <= 0 {
		return nil
	}
	return &tokenCache{
		defaultTTL: ttl,
		maxSize:    defaultTokenCacheMaxSize,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// tokenKey builds the cache key for a host and the scopes of a request.
func tokenKey(host, scope string) string {
	return host + " " + scope
}

// get retrieves the cached Authorization header for the key. Accessing an
// entry promotes it to the front of the LRU list; expired entries are
// removed on access.
func (c *tokenCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return "", false
	}

	entry := elem.Value.(*cachedToken)
	if time.Now().After(entry.expires) {
		c.removeLocked(elem, key)
		return "", false
	}

	c.order.MoveToFront(elem)
	return entry.value, true
}

// set stores an Authorization header under key. A ttl of zero or less uses
// the cache default; token-service responses that advertise expires_in pass
// it here so cached tokens die before the registry stops honoring them.
// When the cache is at capacity the least recently used entry is evicted.
func (c *tokenCache) set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cachedToken)
		entry.value = value
		entry.expires = time.Now().Add(ttl)
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest, oldest.Value.(*cachedToken).key)
	}

	elem := c.order.PushFront(&cachedToken{
		key:     key,
		value:   value,
		expires: time.Now().Add(ttl),
	})
	c.entries[key] = elem
}

// invalidate removes the entry for key, if present.
func (c *tokenCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem, key)
	}
}

// removeLocked removes an element from both the list and map.
// Caller must hold c.mu.
func (c *tokenCache) removeLocked(elem *list.Element, key string) {
	c.order.Remove(elem)
	delete(c.entries, key)
}
