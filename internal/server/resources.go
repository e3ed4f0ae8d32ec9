package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	mcpderrors "github.com/wagiedev/mcpd/internal/errors"
	"github.com/wagiedev/mcpd/internal/mcp"
	"github.com/wagiedev/mcpd/internal/registry"
)

// handleResourcesList fans resources/list out to every backend and
// concatenates the results in registry order. Resource URIs are rewritten
// to mcpd://<backend>/<original> and names qualified with the backend
// prefix. Backends without resource support drop out silently; other
// failures are logged and dropped.
func (s *Server) handleResourcesList(ctx context.Context, log *slog.Logger, frame *mcp.Frame, snap []registry.Entry) *mcp.Response {
	perBackend := s.fanOutList(ctx, log, snap, mcp.MethodResourcesList, func(entry registry.Entry, raw json.RawMessage) ([]json.RawMessage, error) {
		var result mcp.ListResourcesResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("parse resources/list result: %w", err)
		}

		return rewriteAll(result.Resources, map[string]func(string) string{
			"uri":  func(uri string) string { return mcp.QualifyResourceURI(entry.Name, uri) },
			"name": func(name string) string { return mcp.QualifyName(entry.Name, name) },
		})
	})

	return s.result(frame.ID, mcp.ListResourcesResult{Resources: concat(perBackend)})
}

// handleResourcesRead strips the mcpd:// prefix and forwards the read with
// the backend's original URI.
func (s *Server) handleResourcesRead(ctx context.Context, log *slog.Logger, frame *mcp.Frame, snap []registry.Entry) *mcp.Response {
	var params mcp.ReadResourceParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return mcp.NewError(frame.ID, mcp.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	backend, original, ok := mcp.SplitResourceURI(params.URI)
	if !ok {
		return s.rpcError(log, frame.ID, &mcpderrors.InvalidResourceURIError{URI: params.URI})
	}

	entry, ok := lookupEntry(snap, backend)
	if !ok {
		// An unknown backend in the URI is indistinguishable from a stale
		// or fabricated one; both are invalid URIs to this daemon.
		return s.rpcError(log, frame.ID, &mcpderrors.InvalidResourceURIError{URI: params.URI})
	}

	raw, err := s.pool.Get(entry).Call(ctx, mcp.MethodResourcesRead, mcp.ReadResourceParams{URI: original})
	if err != nil {
		return s.rpcError(log, frame.ID, err)
	}

	return s.result(frame.ID, raw)
}

// fanOutList issues the same list method to every backend in parallel and
// returns per-backend rewritten entries, positionally aligned with the
// snapshot. A MethodNotFound reply means the backend does not support the
// primitive and is omitted; other failures are logged and omitted.
func (s *Server) fanOutList(
	ctx context.Context,
	log *slog.Logger,
	snap []registry.Entry,
	method string,
	extract func(registry.Entry, json.RawMessage) ([]json.RawMessage, error),
) [][]json.RawMessage {
	perBackend := make([][]json.RawMessage, len(snap))

	g := new(errgroup.Group)

	for i, entry := range snap {
		g.Go(func() error {
			raw, err := s.pool.Get(entry).Call(ctx, method, nil)
			if err != nil {
				var be *mcpderrors.BackendError
				if errors.As(err, &be) && be.Code == mcp.CodeMethodNotFound {
					log.Debug("Backend does not support method", "backend", entry.Name, "method", method)
				} else {
					log.Warn("Backend fan-out call failed", "backend", entry.Name, "method", method, "error", err)
				}

				return nil
			}

			entries, err := extract(entry, raw)
			if err != nil {
				log.Warn("Discarding malformed backend listing", "backend", entry.Name, "method", method, "error", err)

				return nil
			}

			perBackend[i] = entries

			return nil
		})
	}

	_ = g.Wait()

	return perBackend
}

// rewriteAll applies the same field rewrites to each raw entry.
func rewriteAll(entries []json.RawMessage, rewrites map[string]func(string) string) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(entries))

	for _, entry := range entries {
		rewritten, err := mcp.RewriteFields(entry, rewrites)
		if err != nil {
			return nil, err
		}

		out = append(out, rewritten)
	}

	return out, nil
}

// concat flattens positionally ordered per-backend results, preserving
// registry order.
func concat(perBackend [][]json.RawMessage) []json.RawMessage {
	merged := make([]json.RawMessage, 0)

	for _, entries := range perBackend {
		merged = append(merged, entries...)
	}

	return merged
}
