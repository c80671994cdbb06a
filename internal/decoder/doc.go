// Package decoder drives the record-by-record decode of a flight recorder log.
// It owns the timestamp wraparound correction, dispatches each header to the
// payload decoder for the active protocol version and renders samples as text lines.
package decoder
