// Package main runs the document sync peer that ttpedia clients connect to.
//
// Usage
//
//	reposerver [--listen 0.0.0.0:29180] <data-root>
//
// Documents are persisted as <data-root>/<id>.automerge.
//
// HTTP API
//
//	GET /health
//	    Health check.
//
//	GET /ttpapi1/repo/sync
//	    Websocket sync endpoint. The first frame must be a join message.
//
//	POST /ttpapi1/repo/submit { "doc_id": "..." }
//	    Queue a compile job for the document's current content and return
//	    { "status": "ok" } or a short reason.
//
// Environment
//
//   - TTPEDIA_REPO_ALLOWED_ORIGIN  Required. Origin allowed for CORS and websockets.
//   - TTPEDIA_REDIS_URL            Optional. Compile jobs go to Redis when set,
//     otherwise to an in-process queue that nothing drains.
package main
