// Package mcp holds the JSON-RPC 2.0 and Model Context Protocol wire types
// mcpd speaks on both of its faces: toward the client on the parent stdio
// and toward each backend child process.
//
// The codec is deliberately loose. Incoming messages decode into a single
// Frame shape that tolerates unknown fields, and tool/resource/prompt
// payloads are carried as json.RawMessage so backend content crosses the
// daemon byte-for-byte. The package also owns the namespacing scheme
// (<backend>__<name>, mcpd://<backend>/<uri>) shared by the server and the
// CLI's validation.
package mcp
