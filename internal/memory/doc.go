// Package memory holds the persistent conversation memory shared across
// orchestration cycles. Entries are appended to labelled threads and recalled
// as rendered Markdown context. Backends: JSONL file, SQL (MySQL or SQLite),
// Redis lists and an in-process map.
package memory
