// Package app wires application dependencies for the CLI.
//
// It builds the key store, identity service, submission client and sync
// transport configuration from Config, exposing them via the Wire struct for
// commands to use. Replica sessions are opened on demand through
// Wire.OpenSession, always in the client execution context.
package app
