// Package conductor is the core of a multi-model AI orchestration server.
//
// It routes chat requests across a family of model adapters (large, light,
// code, multimodal, embedding, reranking), executes tool calls concurrently
// under per-tool limits, enforces a lexical diversity policy on batched
// search queries, runs multi-agent deep research plans as dependency graphs,
// and keeps concurrent token usage under a hard ceiling.
//
// The root package holds the domain: protocol types, the Adapter interface,
// retry and rate-limit decorators, the tool registry and executor, the chat
// core, the research orchestrator, the agent coordinator, and the resource
// monitor. Wire clients live under provider/, concrete adapters under
// model/, concrete tools under tools/, persistence under store/, report
// rendering under render/, and observability under observer/.
package conductor
