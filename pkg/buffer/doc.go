// Package buffer keeps the in-memory system of record for agent runs: one
// status/log/artifact record per session.
//
// Invariants:
//   - Logs and artifacts are append-only; readers get snapshot copies.
//   - Status moves idle -> running -> {completed, failed}; only a new run moves
//     a finished buffer back to running.
//   - Init is destructive; Ensure never resets an existing buffer.
//
// Usage:
//
//	store := buffer.NewStore()
//	store.Ensure("session-1")
//	store.AppendLog("session-1", "hello")
//	snap, ok := store.Get("session-1")
//	_, _ = snap, ok
package buffer
