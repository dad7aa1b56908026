// Package agent defines the sub-agent contract used by the orchestration cycle
// and the LLM-backed specialists that fill the default roster. A specialist may
// answer directly or request one tool call through a single-line JSON reply.
package agent
