package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	mcpderrors "github.com/wagiedev/mcpd/internal/errors"
	"github.com/wagiedev/mcpd/internal/mcp"
	"github.com/wagiedev/mcpd/internal/registry"
)

// The two meta-tools. The client-visible tool surface is exactly these,
// independent of how many backends are registered, so agents consuming the
// schema as prompt context never see churn.
const (
	MetaToolListTools = "list_tools"
	MetaToolUseTool   = "use_tool"
)

var metaTools = []*sdkmcp.Tool{
	{
		Name: MetaToolListTools,
		Description: "List every tool available across the registered MCP backends. " +
			"Tool names come back fully qualified as <backend>__<tool>; pass them to use_tool.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	},
	{
		Name: MetaToolUseTool,
		Description: "Invoke a backend tool by its fully-qualified name. " +
			"The result is the backend's tools/call result, unmodified.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"tool_name": {
					Type:        "string",
					Description: "Fully-qualified tool name: <backend>__<tool>",
				},
				"arguments": {
					Type:        "object",
					Description: "Arguments forwarded verbatim to the backend tool",
				},
			},
			Required: []string{"tool_name", "arguments"},
		},
	},
}

var (
	metaToolsOnce   sync.Once
	metaToolsResult json.RawMessage
	metaToolsErr    error
)

// metaToolListing marshals the meta-tool declarations into a tools/list
// result payload, once.
func metaToolListing() (json.RawMessage, error) {
	metaToolsOnce.Do(func() {
		entries := make([]json.RawMessage, len(metaTools))

		for i, tool := range metaTools {
			raw, err := json.Marshal(tool)
			if err != nil {
				metaToolsErr = fmt.Errorf("marshal meta-tool %s: %w", tool.Name, err)

				return
			}

			entries[i] = raw
		}

		metaToolsResult, metaToolsErr = json.Marshal(mcp.ListToolsResult{Tools: entries})
	})

	return metaToolsResult, metaToolsErr
}

// handleToolsList answers with the two meta-tools. No backend is consulted,
// let alone spawned.
func (s *Server) handleToolsList(frame *mcp.Frame) *mcp.Response {
	listing, err := metaToolListing()
	if err != nil {
		s.log.Error("Failed to build meta-tool listing", "error", err)

		return mcp.NewError(frame.ID, mcp.CodeInternalError, "internal error")
	}

	return s.result(frame.ID, listing)
}

// handleToolsCall accepts only the two meta-tools by name.
func (s *Server) handleToolsCall(ctx context.Context, log *slog.Logger, frame *mcp.Frame, snap []registry.Entry) *mcp.Response {
	var params mcp.CallToolParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return mcp.NewError(frame.ID, mcp.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	switch params.Name {
	case MetaToolListTools:
		return s.handleListTools(ctx, log, frame.ID, snap)

	case MetaToolUseTool:
		return s.handleUseTool(ctx, log, frame.ID, params.Arguments, snap)

	default:
		return s.rpcError(log, frame.ID, fmt.Errorf("%w: %q (expected %s or %s)",
			mcpderrors.ErrUnknownTool, params.Name, MetaToolListTools, MetaToolUseTool))
	}
}

// backendToolList is one backend's contribution to the list_tools payload.
type backendToolList struct {
	Tools []json.RawMessage `json:"tools"`
}

// toolListing is the structured payload of the list_tools meta-tool.
// Failing backends surface as error entries instead of failing the call.
type toolListing struct {
	Backends map[string]backendToolList `json:"backends"`
	Errors   map[string]string          `json:"errors,omitempty"`
}

// handleListTools fans tools/list out to every registered backend in
// parallel, qualifies each tool name, and reports per-backend failures as
// error entries.
func (s *Server) handleListTools(ctx context.Context, log *slog.Logger, id json.RawMessage, snap []registry.Entry) *mcp.Response {
	type outcome struct {
		tools []json.RawMessage
		err   error
	}

	outcomes := make([]outcome, len(snap))

	g := new(errgroup.Group)

	for i, entry := range snap {
		g.Go(func() error {
			raw, err := s.pool.Get(entry).Call(ctx, mcp.MethodToolsList, nil)
			if err != nil {
				outcomes[i] = outcome{err: err}

				return nil
			}

			tools, err := qualifyTools(entry.Name, raw)
			outcomes[i] = outcome{tools: tools, err: err}

			return nil
		})
	}

	_ = g.Wait()

	listing := toolListing{
		Backends: make(map[string]backendToolList, len(snap)),
		Errors:   make(map[string]string),
	}

	for i, entry := range snap {
		if err := outcomes[i].err; err != nil {
			log.Warn("Backend failed to list tools", "backend", entry.Name, "error", err)
			listing.Errors[entry.Name] = err.Error()

			continue
		}

		listing.Backends[entry.Name] = backendToolList{Tools: outcomes[i].tools}
	}

	if len(listing.Errors) == 0 {
		listing.Errors = nil
	}

	payload, err := json.Marshal(listing)
	if err != nil {
		s.log.Error("Failed to marshal tool listing", "error", err)

		return mcp.NewError(id, mcp.CodeInternalError, "internal error")
	}

	return s.toolResult(id, payload)
}

// qualifyTools rewrites each tool entry's name to <backend>__<tool>,
// passing every other field through untouched.
func qualifyTools(backend string, raw json.RawMessage) ([]json.RawMessage, error) {
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}

	tools := make([]json.RawMessage, 0, len(result.Tools))

	for _, tool := range result.Tools {
		rewritten, err := mcp.RewriteFields(tool, map[string]func(string) string{
			"name": func(name string) string { return mcp.QualifyName(backend, name) },
		})
		if err != nil {
			return nil, fmt.Errorf("rewrite tool entry: %w", err)
		}

		tools = append(tools, rewritten)
	}

	return tools, nil
}

// useToolArgs are the required arguments of the use_tool meta-tool.
type useToolArgs struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleUseTool resolves a fully-qualified tool name and forwards the call,
// returning the backend's result verbatim.
func (s *Server) handleUseTool(ctx context.Context, log *slog.Logger, id json.RawMessage, rawArgs json.RawMessage, snap []registry.Entry) *mcp.Response {
	var args useToolArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return mcp.NewError(id, mcp.CodeInvalidParams, fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	if args.ToolName == "" {
		return mcp.NewError(id, mcp.CodeInvalidParams, "missing required argument: tool_name")
	}

	backend, tool, ok := mcp.SplitName(args.ToolName)
	if !ok {
		return s.rpcError(log, id, &mcpderrors.MalformedToolNameError{Name: args.ToolName})
	}

	entry, ok := lookupEntry(snap, backend)
	if !ok {
		return s.rpcError(log, id, &mcpderrors.UnknownBackendError{Backend: backend})
	}

	log.Debug("Forwarding tool call", "backend", backend, "tool", tool)

	raw, err := s.pool.Get(entry).Call(ctx, mcp.MethodToolsCall, mcp.CallToolParams{
		Name:      tool,
		Arguments: args.Arguments,
	})
	if err != nil {
		return s.rpcError(log, id, err)
	}

	return s.result(id, raw)
}

// toolResult wraps a JSON payload as an MCP tool call result with a single
// text content block.
func (s *Server) toolResult(id json.RawMessage, payload []byte) *mcp.Response {
	result := &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{
			&sdkmcp.TextContent{Text: string(payload)},
		},
	}

	return s.result(id, result)
}
