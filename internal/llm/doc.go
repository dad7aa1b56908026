// Package llm defines the completion-provider contract used by sub-agents and
// the synthesis step. Provider adapters live in subpackages and normalise
// every backend to a single (text, error) result.
package llm
