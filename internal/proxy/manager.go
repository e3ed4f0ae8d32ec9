package proxy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/mcpd/internal/registry"
)

// replaceGrace bounds the background shutdown of a proxy displaced by a
// changed registry entry.
const replaceGrace = 2 * shutdownGrace

// Manager is the process-wide proxy registry: one Proxy per backend name,
// created on first demand and kept for the daemon's lifetime. Proxies whose
// registry entry has disappeared or changed are torn down.
type Manager struct {
	log     *slog.Logger
	version string
	timeout time.Duration

	mu      sync.Mutex
	proxies map[string]*Proxy
	entries map[string]registry.Entry
}

// NewManager creates an empty proxy registry.
func NewManager(log *slog.Logger, version string, callTimeout time.Duration) *Manager {
	return &Manager{
		log:     log,
		version: version,
		timeout: callTimeout,
		proxies: make(map[string]*Proxy, 8),
		entries: make(map[string]registry.Entry, 8),
	}
}

// Get returns the proxy for an entry, creating it lazily. A proxy whose
// entry changed on disk (different command, args, or env) is replaced; the
// old child is shut down in the background.
func (m *Manager) Get(entry registry.Entry) *Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.proxies[entry.Name]; ok {
		if m.entries[entry.Name].Equal(entry) {
			return p
		}

		m.log.Info("Backend definition changed, replacing proxy", "backend", entry.Name)

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), replaceGrace)
			defer cancel()

			_ = p.Shutdown(ctx)
		}()
	}

	p := New(Config{
		Entry:         entry,
		ClientVersion: m.version,
		CallTimeout:   m.timeout,
		Logger:        m.log,
	})
	m.proxies[entry.Name] = p
	m.entries[entry.Name] = entry

	return p
}

// Prune shuts down and removes proxies for backends no longer present in
// the active set.
func (m *Manager) Prune(ctx context.Context, active map[string]struct{}) {
	m.mu.Lock()

	var stale []*Proxy

	for name, p := range m.proxies {
		if _, ok := active[name]; !ok {
			stale = append(stale, p)
			delete(m.proxies, name)
			delete(m.entries, name)
		}
	}

	m.mu.Unlock()

	if len(stale) == 0 {
		return
	}

	g := new(errgroup.Group)

	for _, p := range stale {
		g.Go(func() error {
			m.log.Info("Backend unregistered, shutting down proxy", "backend", p.Name())

			return p.Shutdown(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		m.log.Warn("Error shutting down stale proxy", "error", err)
	}
}

// ShutdownAll terminates every proxy in parallel. Called once at daemon
// teardown.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Proxy, 0, len(m.proxies))

	for _, p := range m.proxies {
		all = append(all, p)
	}

	m.proxies = make(map[string]*Proxy)
	m.entries = make(map[string]registry.Entry)
	m.mu.Unlock()

	g := new(errgroup.Group)

	for _, p := range all {
		g.Go(func() error {
			return p.Shutdown(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		m.log.Warn("Error shutting down proxy", "error", err)
	}
}
