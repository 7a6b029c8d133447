// Package session resolves the durable identity behind a tutoring connection.
//
// Invariants:
// - Identities (userId, sessionId) are validated and path-safe before use.
// - Resolve is get-or-create: the first call for an identity creates it,
//   later calls return the same record with Resumed set.
// - A Handle is immutable once returned.
// - Store operations are observable via tracing and metrics.
//
// Usage:
//
//	store, _ := session.NewSQLiteStore(session.SQLiteConfig{Path: "/tmp/livetutor.db", AppName: "ai-educate"})
//	defer store.Close()
//	h, _ := store.Resolve(ctx, "U1", "S1")
//	_ = h.ContextNote()
package session
