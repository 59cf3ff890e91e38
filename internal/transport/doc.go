// Package transport is the network adapter of a replica session: one duplex
// websocket connection to one sync peer, re-established with backoff whenever
// it drops.
//
// A Client owns a single goroutine that dials, performs the join handshake,
// runs the read and write pumps, and on failure waits out an exponential
// backoff before dialing again. The Handler learns about each connection
// through Connected and Disconnected and receives frames in order through
// Received, always from that goroutine.
package transport
