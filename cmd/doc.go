// Package cmd implements the teamup-mcp CLI: the serve command running the
// MCP gateway over stdio or HTTP transports, and the version command.
package cmd
