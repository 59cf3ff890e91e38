// Package reposerver is the repository server: the sync peer that holds the
// authoritative copy of every document, and the submission endpoint that
// hands finished documents to the compiler queue.
//
// Routes:
//
//	GET  /ttpapi1/repo/sync    websocket sync peer
//	POST /ttpapi1/repo/submit  {"doc_id"} -> {"status"}
//	GET  /health
package reposerver
