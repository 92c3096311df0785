package ociclient

import "errors"

// Sentinel errors for client operations.
var (
	// ErrInvalidReference is returned when a reference string is malformed.
	ErrInvalidReference = errors.New("ociclient: invalid reference")

	// ErrAuthFailed is returned when the registry rejects the supplied
	// credentials, or when a request still receives 401 after the single
	// challenge/response retry.
	ErrAuthFailed = errors.New("ociclient: authentication failed")

	// ErrNetwork is returned for connection- or transport-level failures.
	// These are potentially transient; retrying is the caller's decision.
	ErrNetwork = errors.New("ociclient: network error")

	// ErrNotFound is returned for 404-class registry responses.
	ErrNotFound = errors.New("ociclient: not found")

	// ErrDigestMismatch is returned when content does not hash to its
	// expected digest. The mismatching content is never returned.
	ErrDigestMismatch = errors.New("ociclient: digest mismatch")

	// ErrRegistryRejected is returned when the registry refuses a write
	// with a 4xx/5xx response. The registry-provided reason is attached
	// as the underlying cause.
	ErrRegistryRejected = errors.New("ociclient: registry rejected request")

	// ErrPlatformNotFound is returned when an image index has no entry
	// matching the client's platform.
	ErrPlatformNotFound = errors.New("ociclient: no manifest for platform")

	// ErrMountUnsupported is returned when a cross-repository blob mount
	// is not supported or not permitted by the registry. Callers that need
	// the blob in the target repository should pull and re-push it.
	ErrMountUnsupported = errors.New("ociclient: blob mount unsupported")

	// ErrInvalidManifest is returned when a manifest payload cannot be
	// parsed into a known manifest form.
	ErrInvalidManifest = errors.New("ociclient: invalid manifest")

	// ErrUnsupportedMediaType is returned when a payload or layer carries
	// a media type outside the accepted set.
	ErrUnsupportedMediaType = errors.New("ociclient: unsupported media type")
)
