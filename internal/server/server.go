package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/mcpd/internal/mcp"
	"github.com/wagiedev/mcpd/internal/proxy"
	"github.com/wagiedev/mcpd/internal/registry"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading client input
	// lines.
	maxScanTokenSize = 1024 * 1024 // 1MB

	// shutdownTimeout bounds the parallel proxy teardown at exit.
	shutdownTimeout = 15 * time.Second
)

// backendCaller is the slice of a proxy the server needs: one correlated
// request/response exchange.
type backendCaller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// backendPool is the slice of the proxy manager the server needs. Tests
// substitute a scripted pool.
type backendPool interface {
	Get(entry registry.Entry) backendCaller
	Prune(ctx context.Context, active map[string]struct{})
	ShutdownAll(ctx context.Context)
}

// managerPool adapts *proxy.Manager to the backendPool interface.
type managerPool struct {
	m *proxy.Manager
}

func (p managerPool) Get(entry registry.Entry) backendCaller {
	return p.m.Get(entry)
}

func (p managerPool) Prune(ctx context.Context, active map[string]struct{}) {
	p.m.Prune(ctx, active)
}

func (p managerPool) ShutdownAll(ctx context.Context) {
	p.m.ShutdownAll(ctx)
}

// Config holds construction parameters for the aggregating server.
type Config struct {
	// RegistryPath is the backend catalogue consulted on every request.
	RegistryPath string

	// Version is reported in initialize results and to backends.
	Version string

	// CallTimeout overrides the per-backend-call deadline when non-zero.
	CallTimeout time.Duration

	// Logger receives all diagnostics. Required; stdout is protocol-only.
	Logger *slog.Logger
}

// Server is the aggregating MCP server. It reads JSON-RPC from the parent's
// stdin, multiplexes across the registered backends, and writes replies on
// stdout. The registry file is re-read at the start of every request so CLI
// edits take effect without a restart.
type Server struct {
	log          *slog.Logger
	registryPath string
	version      string
	pool         backendPool
	out          *syncWriter

	// Request handling is single-threaded in the dispatch loop, so these
	// need no locking; fan-out within one request is parallel.
	clientProtocol string
	lastDigest     []string
}

// New creates a server backed by a real proxy manager.
func New(cfg Config) *Server {
	log := cfg.Logger.With("component", "server")

	return &Server{
		log:          log,
		registryPath: cfg.RegistryPath,
		version:      cfg.Version,
		pool:         managerPool{proxy.NewManager(cfg.Logger, cfg.Version, cfg.CallTimeout)},
	}
}

// Run serves until stdin reaches EOF or the context is cancelled, then
// shuts down every backend in parallel. A malformed registry file at the
// initial load aborts startup with a ConfigError; a read error on stdin ends
// serving like EOF and is returned after teardown. Per-request failures are
// never returned.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	s.out = newSyncWriter(stdout)

	reg, err := registry.Load(s.registryPath)
	if err != nil {
		return err
	}

	s.lastDigest = digest(reg.Names())
	s.log.Info("Serving MCP on stdio", "registry", s.registryPath, "backends", reg.Len())

	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(stdin)
		buf := make([]byte, maxScanTokenSize)
		scanner.Buffer(buf, maxScanTokenSize)

		for scanner.Scan() {
			// The scanner reuses its buffer; hand off a copy.
			line := bytes.Clone(scanner.Bytes())

			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}

		readErr <- scanner.Err()
	}()

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				s.log.Info("EOF on stdin, shutting down")

				break loop
			}

			s.handleLine(ctx, line)

		case <-ctx.Done():
			s.log.Info("Shutdown signal received")

			break loop
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.pool.ShutdownAll(shCtx)

	select {
	case err := <-readErr:
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	default:
	}

	return nil
}

// handleLine decodes and dispatches one input line.
func (s *Server) handleLine(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	frame, err := mcp.DecodeFrame(line)
	if err != nil {
		s.log.Warn("Unparseable input line", "error", err)
		s.writeMessage(mcp.NewError(nil, mcp.CodeParseError, "parse error"))

		return
	}

	switch frame.Kind() {
	case mcp.KindRequest:
		s.handleRequest(ctx, frame)

	case mcp.KindNotification:
		s.handleNotification(frame)

	default:
		s.log.Warn("Discarding unexpected client message")
	}
}

// handleRequest refreshes the registry snapshot, dispatches, writes the
// response, and then emits list_changed notifications if the registered
// backend set differs from the last observed one.
func (s *Server) handleRequest(ctx context.Context, frame *mcp.Frame) {
	log := s.log.With("request", ulid.Make().String(), "method", frame.Method)
	log.Debug("Handling request")

	snap, cfgErr := s.snapshot()

	var changed bool
	if cfgErr == nil {
		names := make([]string, len(snap))
		for i, e := range snap {
			names[i] = e.Name
		}

		d := digest(names)
		changed = !slices.Equal(d, s.lastDigest)

		if changed {
			s.lastDigest = d
		}
	}

	resp := s.dispatch(ctx, log, frame, snap, cfgErr)
	s.writeMessage(resp)

	if changed {
		log.Info("Registry changed, notifying client")
		s.notifyListChanged()

		active := make(map[string]struct{}, len(snap))
		for _, e := range snap {
			active[e.Name] = struct{}{}
		}

		s.pool.Prune(ctx, active)
	}
}

// dispatch routes one request to its handler.
func (s *Server) dispatch(ctx context.Context, log *slog.Logger, frame *mcp.Frame, snap []registry.Entry, cfgErr error) *mcp.Response {
	switch frame.Method {
	case mcp.MethodInitialize:
		return s.handleInitialize(log, frame)

	case mcp.MethodPing:
		return s.result(frame.ID, struct{}{})
	}

	// Everything below consults the registry snapshot.
	if cfgErr != nil {
		return s.rpcError(log, frame.ID, cfgErr)
	}

	switch frame.Method {
	case mcp.MethodToolsList:
		return s.handleToolsList(frame)

	case mcp.MethodToolsCall:
		return s.handleToolsCall(ctx, log, frame, snap)

	case mcp.MethodResourcesList:
		return s.handleResourcesList(ctx, log, frame, snap)

	case mcp.MethodResourcesRead:
		return s.handleResourcesRead(ctx, log, frame, snap)

	case mcp.MethodPromptsList:
		return s.handlePromptsList(ctx, log, frame, snap)

	case mcp.MethodPromptsGet:
		return s.handlePromptsGet(ctx, log, frame, snap)

	default:
		return mcp.NewError(frame.ID, mcp.CodeMethodNotFound, fmt.Sprintf("unknown method: %s", frame.Method))
	}
}

// handleInitialize performs the server side of the MCP handshake and
// remembers the client's protocol version.
func (s *Server) handleInitialize(log *slog.Logger, frame *mcp.Frame) *mcp.Response {
	var params mcp.InitializeParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return mcp.NewError(frame.ID, mcp.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}

	s.clientProtocol = params.ProtocolVersion
	log.Info("Client initializing",
		"client", params.ClientInfo.Name,
		"protocol", params.ProtocolVersion,
	)

	supported := &mcp.ListChangedCapability{ListChanged: true}

	return s.result(frame.ID, mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools:     supported,
			Resources: supported,
			Prompts:   supported,
		},
		ServerInfo: mcp.Info{Name: "mcpd", Version: s.version},
	})
}

// handleNotification consumes a client notification.
func (s *Server) handleNotification(frame *mcp.Frame) {
	switch frame.Method {
	case mcp.NotificationInitialized:
		s.log.Info("Client initialized")

	case mcp.NotificationCancelled:
		// No client-initiated cancellation at this layer.
		s.log.Debug("Ignoring cancellation notification")

	default:
		s.log.Debug("Unknown client notification", "method", frame.Method)
	}
}

// notifyListChanged emits the three list_changed notifications, in order,
// strictly after the current response has been written.
func (s *Server) notifyListChanged() {
	for _, method := range []string{
		mcp.NotificationToolsListChanged,
		mcp.NotificationResourcesListChanged,
		mcp.NotificationPromptsListChanged,
	} {
		note, err := mcp.NewNotification(method, nil)
		if err != nil {
			s.log.Error("Failed to build notification", "method", method, "error", err)

			continue
		}

		s.writeMessage(note)
	}
}

// snapshot re-reads the registry. On failure the request proceeds with an
// empty snapshot and the error is surfaced to the client.
func (s *Server) snapshot() ([]registry.Entry, error) {
	reg, err := registry.Load(s.registryPath)
	if err != nil {
		s.log.Error("Registry refresh failed", "error", err)

		return nil, err
	}

	return reg.Entries(), nil
}

// result builds a success response, downgrading marshal failures to
// internal errors.
func (s *Server) result(id json.RawMessage, v any) *mcp.Response {
	resp, err := mcp.NewResult(id, v)
	if err != nil {
		s.log.Error("Failed to marshal result", "error", err)

		return mcp.NewError(id, mcp.CodeInternalError, "internal error")
	}

	return resp
}

// writeMessage emits one protocol message on stdout.
func (s *Server) writeMessage(msg any) {
	if err := s.out.writeMessage(msg); err != nil {
		s.log.Error("Failed to write to stdout", "error", err)
	}
}

// lookupEntry finds a backend by name in the current snapshot.
func lookupEntry(snap []registry.Entry, name string) (registry.Entry, bool) {
	for _, e := range snap {
		if e.Name == name {
			return e, true
		}
	}

	return registry.Entry{}, false
}

// digest is the stable change-detection key for a backend set: the sorted
// name list.
func digest(names []string) []string {
	d := slices.Clone(names)
	slices.Sort(d)

	return d
}
