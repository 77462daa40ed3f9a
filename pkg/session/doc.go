// Package session manages persistent conversation transcripts using JSONL files.
//
// Invariants:
// - Session keys are validated and path-safe.
// - Writes for the same session are serialized.
// - Corrupt transcript lines are skipped on load, never fatal.
// - The Foundry conversation bound to a session lives in a sidecar file
//   and survives restarts.
//
// Usage:
//
//	mgr, _ := session.New("/tmp/sofia/sessions")
//	_ = mgr.Append(ctx, "cli:default", session.SessionEntry{Role: "user", Content: "hello"})
//	entries, _ := mgr.LoadRecent(ctx, "cli:default", 20)
//	_ = entries
package session
