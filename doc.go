// Package analyst is an autonomous data-analysis agent runtime.
//
// A client uploads a tabular dataset together with a natural-language
// request; the runtime opens a session, drives an LLM through a reason–act
// loop (one of five interchangeable strategies), executes model-generated
// analysis code in sandboxed child processes, and streams ordered progress
// events to subscribers until a terminal Markdown report is produced.
//
// The root package holds the session machinery: types, task list, event bus,
// tool registry, provider abstraction, the five loop strategies, and the
// session manager. Subpackages supply the concrete edges: provider/openaicompat
// (LLM backend), sandbox (code executors), tools/* (the agent tool surface),
// server (HTTP control surface), observer (OpenTelemetry instrumentation).
package analyst
