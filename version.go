// Package execaction holds build metadata shared by the exec-action binaries.
package execaction

// Version is the release version reported by the CLI and the MCP server.
const Version = "v0.4.0"
