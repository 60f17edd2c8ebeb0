// Package api implements the versioned HTTP surface of the audit service:
// audit submission and retry, status and results retrieval, component run
// history, and a server-sent-events progress stream.
package api
