// Package delivery persists and dispatches the result of one orchestration
// cycle and builds the response envelope returned to the caller.
package delivery
