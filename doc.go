// Package ociclient implements a client for the OCI Distribution
// Specification, including the OCI 1.1 referrers API, cross-repository blob
// mounting, and multi-platform image indexes.
//
// The package provides a unified high-level API through [Client]. Single
// protocol operations (PullManifest, PushBlob, ListTags, ...) map one-to-one
// onto distribution-spec endpoints; [Client.Pull] and [Client.Push] compose
// them into whole-image transfers with all-or-nothing semantics.
//
// # Basic usage
//
//	client := ociclient.New()
//	img, err := client.Pull(ctx, "ghcr.io/org/app:v1.2.3", nil)
//
// Authentication is supplied per call. Username/password credentials become
// HTTP Basic and are remembered per registry host for the lifetime of the
// client; calls without credentials run anonymously. Bearer token exchange
// against registries that answer with a WWW-Authenticate challenge is handled
// transparently, with obtained tokens cached per host and scope.
//
// All content is verified against its digest on read: a blob or manifest that
// does not hash to the requested digest is discarded and the operation fails
// with [ErrDigestMismatch].
package ociclient
