// Package server wires the gateway's components into runnable transports:
// the ServerContext lifecycle container, the HTTP transport (SSE or
// streamable-http MCP endpoints, shared OAuth callback, health endpoints),
// and the dedicated Prometheus metrics server.
package server
