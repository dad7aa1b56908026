// Package route parses, formats and strips the delivery directive that the
// synthesis agent appends to its answer, and maps delivery targets onto
// persistent thread labels.
package route
