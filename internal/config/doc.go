// Package config describes how a replica session reaches its sync peer and
// where it keeps documents.
//
// SyncTransportConfig is plain data. Validate is the only behavior, and
// replica.Open calls it before constructing anything, so malformed settings
// fail at session construction rather than on first network use.
package config
