// Package proxy manages backend MCP server child processes.
//
// Each Proxy owns one child spawned lazily on first use, speaks
// newline-delimited JSON-RPC on the child's stdio, and correlates requests
// to responses by numeric id. Calls are serialized per backend: one
// in-flight request at a time, bounded by a wall-clock timeout. A transport
// failure or timeout marks the proxy dead and the next call re-spawns the
// child.
//
// The Manager maps backend names to live proxies for the daemon's lifetime
// and tears down proxies whose registry entries disappear.
package proxy
