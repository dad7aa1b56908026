// Package hma runs one orchestration cycle of the main meta agent: it builds
// the context, selects sub-agents, fans out to them under a concurrency
// bound, aggregates their contributions, asks the synthesis agent for a
// first-person answer with a route directive and hands the result to the
// delivery router.
package hma
