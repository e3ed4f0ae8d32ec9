// Package server implements the aggregating MCP server on the parent
// process's standard streams.
//
// Tools are surfaced through two meta-tools (list_tools, use_tool) so the
// client's visible tool schema never changes as backends come and go;
// resources and prompts are proxied natively with namespaced identifiers.
// The registry file is re-read at the start of every request, and a digest
// of the backend set drives list_changed notifications emitted after the
// response that first observed the change.
package server
