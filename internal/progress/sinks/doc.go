// Package sinks provides concrete consumers for crawl progress events: a
// zap-backed console log, an in-memory status view for the HTTP surface,
// and Prometheus collectors.
package sinks
