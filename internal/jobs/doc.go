// Package jobs queues work for the document compiler. The repository server
// enqueues a compile job for every accepted submission.
package jobs
