// Package core is the orchestration layer.  It wires staging, sinks,
// the handoff coordinator and the exporter into a connection handler,
// and serves that handler over HTTP/websocket.
//
// Architecture layers (bottom → top):
//
//	staging  →  sink  →  session  →  handoff / export  →  core  →  cmd (CLI)
//
// Build is the single place where a Config becomes a running Server.
package core

import "context"

// Service is anything with a blocking lifecycle bound to a context.
type Service interface {
	Run(ctx context.Context) error
}
