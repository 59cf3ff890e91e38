// Package store provides the client-local persistence used by tectonopedia.
//
// It contains:
//   - KeyStore, a versioned SQLite database holding the signing keypair with
//     the private half sealed under the device secret
//   - FileStorage and MemoryStorage, the document storage adapters used by
//     replica sessions and the repository server
//   - LoadOrCreateDeviceSecret, which provisions the secret the KeyStore seals with
//
// All types are safe for concurrent use. File writes go through a temp file
// and an atomic rename.
package store
