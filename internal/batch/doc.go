// Package batch runs decode jobs over recorder log files and streams.
// It derives output paths, decodes independent files in parallel and keeps
// running totals for the HTTP API.
package batch
