package mcp

import "encoding/json"

// ProtocolVersion is the MCP revision mcpd speaks on both sides.
const ProtocolVersion = "2024-11-05"

// MCP method names handled by the aggregator and issued to backends.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"

	NotificationInitialized          = "notifications/initialized"
	NotificationCancelled            = "notifications/cancelled"
	NotificationToolsListChanged     = "notifications/tools/list_changed"
	NotificationResourcesListChanged = "notifications/resources/list_changed"
	NotificationPromptsListChanged   = "notifications/prompts/list_changed"
)

// Info identifies a client or server in the initialize exchange.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is the capability set mcpd announces to backends.
// Empty: the proxy consumes no optional client features.
type ClientCapabilities struct{}

// ListChangedCapability marks a primitive class as supporting
// list_changed notifications.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerCapabilities is the capability set mcpd advertises to its client.
type ServerCapabilities struct {
	Tools     *ListChangedCapability `json:"tools,omitempty"`
	Resources *ListChangedCapability `json:"resources,omitempty"`
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
}

// InitializeParams is the initialize request payload.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult is the initialize response payload.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

// CallToolParams is the tools/call request payload. Arguments stay raw so
// tool input passes through mcpd byte-for-byte.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ReadResourceParams is the resources/read request payload.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// GetPromptParams is the prompts/get request payload.
type GetPromptParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// List results keep their entries as raw JSON: the aggregator rewrites one
// or two identifying fields and must preserve everything else verbatim,
// including fields this code has never heard of.

// ListToolsResult is the tools/list response payload.
type ListToolsResult struct {
	Tools []json.RawMessage `json:"tools"`
}

// ListResourcesResult is the resources/list response payload.
type ListResourcesResult struct {
	Resources []json.RawMessage `json:"resources"`
}

// ListPromptsResult is the prompts/list response payload.
type ListPromptsResult struct {
	Prompts []json.RawMessage `json:"prompts"`
}

// RewriteFields decodes a raw object, applies each rewrite to the named
// string field, and re-encodes. Fields absent from the object are left
// absent; all other fields pass through unmodified.
func RewriteFields(raw json.RawMessage, rewrites map[string]func(string) string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}

	for field, rewrite := range rewrites {
		val, ok := obj[field]
		if !ok {
			continue
		}

		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			return nil, err
		}

		out, err := json.Marshal(rewrite(s))
		if err != nil {
			return nil, err
		}

		obj[field] = out
	}

	return json.Marshal(obj)
}
