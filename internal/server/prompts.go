package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpderrors "github.com/wagiedev/mcpd/internal/errors"
	"github.com/wagiedev/mcpd/internal/mcp"
	"github.com/wagiedev/mcpd/internal/registry"
)

// handlePromptsList fans prompts/list out across backends, qualifying each
// prompt name with its backend prefix. Same partial-failure policy as
// resources: MethodNotFound drops out silently, other failures are logged
// and dropped.
func (s *Server) handlePromptsList(ctx context.Context, log *slog.Logger, frame *mcp.Frame, snap []registry.Entry) *mcp.Response {
	perBackend := s.fanOutList(ctx, log, snap, mcp.MethodPromptsList, func(entry registry.Entry, raw json.RawMessage) ([]json.RawMessage, error) {
		var result mcp.ListPromptsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("parse prompts/list result: %w", err)
		}

		return rewriteAll(result.Prompts, map[string]func(string) string{
			"name": func(name string) string { return mcp.QualifyName(entry.Name, name) },
		})
	})

	return s.result(frame.ID, mcp.ListPromptsResult{Prompts: concat(perBackend)})
}

// handlePromptsGet resolves a <backend>__<prompt> name and forwards the get
// with the backend's original prompt name, returning its result verbatim.
func (s *Server) handlePromptsGet(ctx context.Context, log *slog.Logger, frame *mcp.Frame, snap []registry.Entry) *mcp.Response {
	var params mcp.GetPromptParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return mcp.NewError(frame.ID, mcp.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	backend, prompt, ok := mcp.SplitName(params.Name)
	if !ok {
		return mcp.NewError(frame.ID, mcp.CodeInvalidParams,
			fmt.Sprintf("malformed prompt name: %q (expected <backend>__<prompt>)", params.Name))
	}

	entry, ok := lookupEntry(snap, backend)
	if !ok {
		return s.rpcError(log, frame.ID, &mcpderrors.UnknownBackendError{Backend: backend})
	}

	raw, err := s.pool.Get(entry).Call(ctx, mcp.MethodPromptsGet, mcp.GetPromptParams{
		Name:      prompt,
		Arguments: params.Arguments,
	})
	if err != nil {
		return s.rpcError(log, frame.ID, err)
	}

	return s.result(frame.ID, raw)
}
