// Package submit notifies the repository server that a document is ready to
// be compiled.
//
// HTTP posts {"doc_id": ...} to /ttpapi1/repo/submit and returns the status
// string the server replies with. When built with an identity provider, every
// request carries a short-lived bearer token signed by the client's identity
// key. The token is self-certifying: its "pub" claim holds the public key
// that verifies it, and its "doc" claim binds it to one document.
//
// Non-2xx statuses are returned as errors with the path and status text.
package submit
