package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	mcpderrors "github.com/wagiedev/mcpd/internal/errors"
	"github.com/wagiedev/mcpd/internal/mcp"
	"github.com/wagiedev/mcpd/internal/registry"
)

const (
	// DefaultCallTimeout bounds how long a single backend call may take,
	// handshake requests included.
	DefaultCallTimeout = 30 * time.Second

	// shutdownGrace is how long Shutdown waits for a child to exit on its
	// own after stdin closes before killing it.
	shutdownGrace = 5 * time.Second

	// maxScanTokenSize is the maximum buffer size for reading backend
	// output lines.
	maxScanTokenSize = 1024 * 1024 // 1MB
)

// Config holds construction parameters for a Proxy.
type Config struct {
	// Entry describes the backend to spawn.
	Entry registry.Entry

	// ClientVersion is reported to the backend in the initialize handshake.
	ClientVersion string

	// CallTimeout overrides DefaultCallTimeout when non-zero.
	CallTimeout time.Duration

	// Logger receives debug and warn messages. Required.
	Logger *slog.Logger
}

// Proxy mediates one backend MCP server child process.
//
// The child is spawned lazily on first Call and initialized with the MCP
// handshake before any request returns. At most one request is outstanding
// at a time: Call takes an exclusive lease on the proxy's I/O and holds it
// until the matching response is read or the call fails. The pending-id
// table therefore degenerates to a single slot, but the correlation
// machinery is kept general so a pipelined reader can be slotted in later.
//
// A transport failure or timeout marks the proxy dead; the next Call
// re-spawns the child from scratch.
type Proxy struct {
	log     *slog.Logger
	entry   registry.Entry
	version string
	timeout time.Duration

	nextID atomic.Int64

	// callMu is the I/O lease serializing requests to this backend.
	callMu sync.Mutex

	// mu guards the process state below. Never held across I/O.
	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	pending     map[int64]chan *mcp.Frame
	procDone    chan struct{} // closed once the reader and process have exited
	initialized bool
	dead        bool
	closed      bool
}

// New creates a proxy for the given backend. No process is spawned until
// the first Call.
func New(cfg Config) *Proxy {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Proxy{
		log:     cfg.Logger.With("backend", cfg.Entry.Name),
		entry:   cfg.Entry,
		version: cfg.ClientVersion,
		timeout: timeout,
	}
}

// Name returns the backend name this proxy serves.
func (p *Proxy) Name() string {
	return p.entry.Name
}

// Call ensures the backend is running and initialized, then issues a
// JSON-RPC request and waits for the matching response. It returns the raw
// result, or a BackendError when the backend replies with a JSON-RPC error.
func (p *Proxy) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return nil, mcpderrors.ErrProxyClosed
	}

	if err := p.ensureStarted(ctx); err != nil {
		return nil, err
	}

	return p.roundTrip(ctx, method, params)
}

// Shutdown closes the child's stdin, waits briefly for it to exit on its
// own, then kills it. The proxy cannot be used afterwards. Safe to call
// more than once.
func (p *Proxy) Shutdown(ctx context.Context) error {
	// Taking the lease waits out any in-flight call (bounded by its timeout).
	p.callMu.Lock()
	defer p.callMu.Unlock()

	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	cmd := p.cmd
	stdin := p.stdin
	procDone := p.procDone
	p.stdin = nil
	p.mu.Unlock()

	if cmd == nil {
		// Never spawned.
		return nil
	}

	p.log.Debug("Shutting down backend")

	if stdin != nil {
		_ = stdin.Close()
	}

	grace := time.NewTimer(shutdownGrace)
	defer grace.Stop()

	select {
	case <-procDone:
		p.log.Debug("Backend exited on stdin close")

		return nil
	case <-ctx.Done():
	case <-grace.C:
	}

	p.log.Debug("Killing backend", "pid", cmd.Process.Pid)

	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill backend %s (pid %d): %w", p.entry.Name, cmd.Process.Pid, err)
	}

	<-procDone

	return nil
}

// ensureStarted spawns and initializes the child if needed. Idempotent; must
// be called with the lease held.
func (p *Proxy) ensureStarted(ctx context.Context) error {
	p.mu.Lock()
	running := p.cmd != nil && !p.dead
	ready := running && p.initialized
	p.mu.Unlock()

	if ready {
		return nil
	}

	if !running {
		p.reap()

		if err := p.spawn(); err != nil {
			return err
		}
	}

	return p.handshake(ctx)
}

// spawn starts the child process with its stdin/stdout piped to the proxy
// and stderr inherited so its diagnostics reach the user.
func (p *Proxy) spawn() error {
	cmd := exec.Command(p.entry.Command, p.entry.Args...)

	// Later duplicates win, so the backend's env overlays the daemon's.
	env := os.Environ()
	for k, v := range p.entry.Env {
		env = append(env, k+"="+v)
	}

	cmd.Env = env
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &mcpderrors.SpawnError{Backend: p.entry.Name, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &mcpderrors.SpawnError{Backend: p.entry.Name, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return &mcpderrors.SpawnError{Backend: p.entry.Name, Err: err}
	}

	p.log.Info("Backend started", "command", p.entry.Command, "pid", cmd.Process.Pid)

	pending := make(map[int64]chan *mcp.Frame, 1)
	procDone := make(chan struct{})

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	p.pending = pending
	p.procDone = procDone
	p.dead = false
	p.initialized = false
	p.mu.Unlock()

	go p.readLoop(cmd, stdout, procDone)

	return nil
}

// handshake performs MCP initialization: an initialize request followed by
// the initialized notification.
func (p *Proxy) handshake(ctx context.Context) error {
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		ClientInfo:      mcp.Info{Name: "mcpd", Version: p.version},
	}

	raw, err := p.roundTrip(ctx, mcp.MethodInitialize, params)
	if err != nil {
		p.markDead()

		return &mcpderrors.HandshakeError{Backend: p.entry.Name, Err: err}
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		p.markDead()

		return &mcpderrors.HandshakeError{Backend: p.entry.Name, Err: fmt.Errorf("parse initialize result: %w", err)}
	}

	note, err := mcp.NewNotification(mcp.NotificationInitialized, nil)
	if err != nil {
		return &mcpderrors.HandshakeError{Backend: p.entry.Name, Err: err}
	}

	if err := p.writeMessage(note); err != nil {
		p.markDead()

		return &mcpderrors.HandshakeError{Backend: p.entry.Name, Err: err}
	}

	p.log.Info("Backend initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
	)

	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()

	return nil
}

// roundTrip issues one correlated request and waits for its response. Must
// be called with the lease held.
func (p *Proxy) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := p.nextID.Add(1)
	ch := make(chan *mcp.Frame, 1)

	p.mu.Lock()

	if p.dead || p.stdin == nil {
		p.mu.Unlock()

		return nil, &mcpderrors.TransportError{Backend: p.entry.Name, Err: fmt.Errorf("backend not running")}
	}

	p.pending[id] = ch
	procDone := p.procDone
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	req, err := mcp.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	p.log.Debug("Sending request", "id", id, "method", method)

	if err := p.writeMessage(req); err != nil {
		p.markDead()

		return nil, &mcpderrors.TransportError{Backend: p.entry.Name, Err: err}
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case frame := <-ch:
		return p.unpackResponse(frame)

	case <-procDone:
		// The reader may have delivered the response just before exiting.
		select {
		case frame := <-ch:
			return p.unpackResponse(frame)
		default:
		}

		return nil, &mcpderrors.TransportError{Backend: p.entry.Name, Err: fmt.Errorf("backend exited")}

	case <-timer.C:
		// The stream position is now ambiguous; the next Call re-spawns.
		p.markDead()
		p.log.Warn("Backend call timed out", "id", id, "method", method, "timeout", p.timeout)

		return nil, fmt.Errorf("backend %s: %s: no response after %s: %w",
			p.entry.Name, method, p.timeout, mcpderrors.ErrBackendTimeout)

	case <-ctx.Done():
		p.markDead()

		return nil, ctx.Err()
	}
}

func (p *Proxy) unpackResponse(frame *mcp.Frame) (json.RawMessage, error) {
	if frame == nil {
		return nil, &mcpderrors.TransportError{Backend: p.entry.Name, Err: fmt.Errorf("backend stream closed")}
	}

	if frame.Error != nil {
		return nil, &mcpderrors.BackendError{
			Backend: p.entry.Name,
			Code:    frame.Error.Code,
			Message: frame.Error.Message,
			Data:    frame.Error.Data,
		}
	}

	return frame.Result, nil
}

// writeMessage marshals a message and writes it as one newline-terminated
// line on the child's stdin.
func (p *Proxy) writeMessage(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()

	if stdin == nil {
		return fmt.Errorf("backend not running")
	}

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to backend: %w", err)
	}

	return nil
}

// readLoop reads framed JSON from the child's stdout and dispatches
// responses to their pending channels. Notifications from the child are
// logged and discarded; this daemon does not propagate backend-originated
// notifications upstream. The loop exits on EOF, read error, or a malformed
// frame, marking the proxy dead.
func (p *Proxy) readLoop(cmd *exec.Cmd, stdout io.Reader, procDone chan struct{}) {
	defer close(procDone)

	scanner := newLineScanner(stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		frame, err := mcp.DecodeFrame(line)
		if err != nil {
			p.log.Warn("Malformed frame from backend", "error", err)

			break
		}

		switch frame.Kind() {
		case mcp.KindResponse:
			p.dispatch(frame)

		case mcp.KindNotification:
			p.log.Debug("Discarding backend notification", "method", frame.Method)

		default:
			p.log.Warn("Discarding unexpected backend message", "method", frame.Method)
		}
	}

	if err := scanner.Err(); err != nil {
		p.log.Warn("Backend read error", "error", err)
	}

	p.markDead()
	p.failPending()

	err := cmd.Wait()
	p.log.Debug("Backend exited", "error", err)
}

// failPending wakes every waiting call with a transport failure. Invariant:
// a pending id is fulfilled by a response, cancelled by shutdown, or fails
// here; it never leaks.
func (p *Proxy) failPending() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, ch := range p.pending {
		delete(p.pending, id)

		// Buffered; a nil frame signals transport failure to the waiter.
		select {
		case ch <- nil:
		default:
		}
	}
}

// dispatch delivers a response frame to the call waiting on its id.
func (p *Proxy) dispatch(frame *mcp.Frame) {
	id, ok := frame.IDInt64()
	if !ok {
		p.log.Warn("Response with non-numeric id from backend", "id", string(frame.ID))

		return
	}

	p.mu.Lock()

	ch, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}

	p.mu.Unlock()

	if !ok {
		p.log.Debug("Response for unknown request id", "id", id)

		return
	}

	// Buffered; the owning call may already have timed out and gone away.
	ch <- frame
}

// markDead flags the proxy for re-spawn on next use.
func (p *Proxy) markDead() {
	p.mu.Lock()
	p.dead = true
	p.initialized = false
	p.mu.Unlock()
}

// reap cleans up a dead child before a re-spawn.
func (p *Proxy) reap() {
	p.mu.Lock()
	cmd := p.cmd
	stdin := p.stdin
	procDone := p.procDone
	p.cmd = nil
	p.stdin = nil
	p.mu.Unlock()

	if cmd == nil {
		return
	}

	p.log.Debug("Reaping dead backend", "pid", cmd.Process.Pid)

	if stdin != nil {
		_ = stdin.Close()
	}

	_ = cmd.Process.Kill()
	<-procDone
}
