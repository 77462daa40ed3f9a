// Package kb indexes Contoso Pizza knowledge documents and provides hybrid search.
//
// Invariants:
// - Indexed chunks remain consistent with source file content hashes.
// - Search combines keyword and vector retrieval when embeddings are configured,
//   and degrades to whichever side is available.
// - The hosted vector store mirror only re-uploads files whose hash changed.
//
// Usage:
//
//	mgr, _ := kb.NewManager(kb.Config{Dir: "docs/knowledge", DBPath: "/data/kb.db"})
//	defer mgr.Close()
//	_ = mgr.Sync(ctx)
//	results, _ := mgr.Search(ctx, "delivery radius", 5)
//	_ = results
package kb
