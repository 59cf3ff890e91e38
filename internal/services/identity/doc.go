// Package identity provides the client's single long-term signing identity.
//
// # Overview
//
// Service.EnsureKeypair returns the keypair stored in the domain.KeyStore,
// generating and persisting one on first use. Every call, including concurrent
// calls from several goroutines or processes sharing one store, observes the
// same keypair.
//
// Two guards close the check-then-create race: a mutex around the
// generate-and-store sequence within a process, and KeyStore.PutIfAbsent
// across processes. A generated key that loses the race, or cannot be
// persisted, is destroyed and never returned.
package identity
