// Package memory implements the assistant's long-term memory pipeline.
//
// The pipeline turns an unbounded conversation stream into a bounded,
// semantically-searchable store of durable facts:
//
//   - VectorStore: namespaced add/update/delete/search over MemoryItems,
//     with a capacity bound enforced by least-importance eviction
//   - Extractor: proposes candidate facts from a transcript window, via a
//     structured model call with a deterministic heuristic fallback
//   - Consolidator: reconciles each candidate against existing memory
//     (add / update / delete / noop) with hallucination-safe id validation
//
// Storage backends live under store/ (sqlite for durability, chromem for
// in-memory use); embedders live under embedder/. The file-based notes
// store, a parallel human-editable memory, lives under notes/.
//
// Every model-facing path fails open: a provider error or unparsable
// response degrades to the heuristic extractor or a plain Add, never to a
// lost fact or a failed user turn.
package memory
