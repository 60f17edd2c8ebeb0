// Package progress implements milestone reporting for running audits. The
// pipeline emits Events for audit and component lifecycle transitions; the Hub
// batches them and fans them out to sinks (logs, Prometheus, persistence,
// server-sent event streams) without ever blocking the pipeline itself.
package progress
