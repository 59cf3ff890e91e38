// Package replica mediates all document access for one client view.
//
// # Sessions
//
// Open builds a Session from a config.SyncTransportConfig. It refuses any
// execution context other than a client one and validates the configuration
// before constructing anything. Construction never waits on the network: with
// an endpoint configured the session connects in the background and keeps
// reconnecting with backoff, and without one it runs offline.
//
// # Handles
//
// Find returns the Handle for a document id, creating it on first use. A
// session never holds two live handles for one id, and concurrent first calls
// share a single load. A handle starts loading and moves exactly once to
// ready or failed:
//
//   - a copy in local storage makes it ready at once
//   - otherwise, with no endpoint, it fails with domain.ErrDocumentUnavailable
//   - otherwise it asks the peer, and becomes ready on the first merge that
//     gives it content, or fails when the peer reports the document unknown
//     or the load timeout elapses
//
// Failed handles are dropped from the registry so a later Find retries.
//
// # Changes
//
// Handle.Changes hands each subscriber its own channel of Snapshot values.
// Delivery is in order per subscriber. A subscriber that falls behind skips
// intermediate snapshots and sees only the newest one.
//
// Close tears the session down: the connection is closed, handles still
// loading fail with domain.ErrSessionClosed and every change channel closes.
package replica
