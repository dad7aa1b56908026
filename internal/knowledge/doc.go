// Package knowledge provides the static capability catalog: keyword buckets
// that steer agent selection and the human-readable description of each
// delivery target that is shown to the synthesis agent.
package knowledge
