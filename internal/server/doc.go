// Package server implements the HTTP API for the log decoder.
// It accepts raw recorder logs for decoding and exposes health, statistics
// and Prometheus metrics endpoints.
package server
