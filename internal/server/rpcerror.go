package server

import (
	"encoding/json"
	"errors"
	"log/slog"

	mcpderrors "github.com/wagiedev/mcpd/internal/errors"
	"github.com/wagiedev/mcpd/internal/mcp"
)

// rpcError maps a dispatch failure onto a JSON-RPC error response. The main
// loop never exits on per-request errors; everything here is client-visible
// and request-scoped.
func (s *Server) rpcError(log *slog.Logger, id json.RawMessage, err error) *mcp.Response {
	log.Warn("Request failed", "error", err)

	var (
		configErr    *mcpderrors.ConfigError
		unknownErr   *mcpderrors.UnknownBackendError
		malformedErr *mcpderrors.MalformedToolNameError
		uriErr       *mcpderrors.InvalidResourceURIError
		backendErr   *mcpderrors.BackendError
	)

	switch {
	case errors.As(err, &backendErr):
		return backendError(id, backendErr)

	case errors.As(err, &unknownErr),
		errors.As(err, &malformedErr),
		errors.As(err, &uriErr),
		errors.Is(err, mcpderrors.ErrUnknownTool):
		return mcp.NewError(id, mcp.CodeInvalidParams, err.Error())

	case errors.As(err, &configErr):
		return mcp.NewError(id, mcp.CodeInternalError, err.Error())

	default:
		// SpawnFailed, HandshakeFailed, BackendTimeout, TransportError and
		// anything unforeseen: internal, with the cause in the message.
		return mcp.NewError(id, mcp.CodeInternalError, err.Error())
	}
}

// backendError forwards a backend's JSON-RPC error verbatim, annotating the
// error data with the backend name.
func backendError(id json.RawMessage, be *mcpderrors.BackendError) *mcp.Response {
	annotated := map[string]any{"backend": be.Backend}
	if len(be.Data) > 0 {
		annotated["data"] = json.RawMessage(be.Data)
	}

	data, err := json.Marshal(annotated)
	if err != nil {
		data = nil
	}

	return &mcp.Response{
		JSONRPC: mcp.Version,
		ID:      id,
		Error: &mcp.RPCError{
			Code:    be.Code,
			Message: be.Message,
			Data:    data,
		},
	}
}
