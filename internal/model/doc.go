// Package model holds the types shared by the ingest, replay, and outbox
// layers: the actor scope that bounds every read and write, the status
// vocabularies of threads, turns, messages, streams, approvals, and sessions,
// and the tagged SyncError that every rejection is reported with.
//
// Nothing in this package performs I/O.
package model
