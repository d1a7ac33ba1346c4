// Package syncengine drives the sync iteration state machine (spec.md
// §4.7): a cooperative coroutine resumed once per host event
// (Initialize, TearDown, DidRefreshToken, UploadFinished, a parsed text or
// binary line) that emits a small set of instructions for the host to
// carry out (establish/close the stream, fetch credentials, flush the
// file system, push a status update).
//
// Every line handler does its storage work inside a transaction and
// updates the Engine's in-memory state only after that transaction has
// committed, so a failed or rolled-back attempt leaves the in-memory state
// unchanged.
package syncengine
