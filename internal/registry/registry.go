package registry

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	mcpderrors "github.com/wagiedev/mcpd/internal/errors"
	"github.com/wagiedev/mcpd/internal/mcp"
)

// Entry is one registered backend MCP server.
type Entry struct {
	// Name is the namespace prefix for everything this backend exposes.
	// It is unique within the registry and never contains "__".
	Name string `json:"name"`

	// Command is the absolute path to the executable, resolved at
	// registration time.
	Command string `json:"command"`

	// Args are passed to the executable in order.
	Args []string `json:"args,omitempty"`

	// Env is overlaid on the daemon's own environment; backend values win.
	Env map[string]string `json:"env,omitempty"`
}

// Equal reports whether two entries would spawn an identical child process.
func (e Entry) Equal(other Entry) bool {
	return e.Name == other.Name &&
		e.Command == other.Command &&
		slices.Equal(e.Args, other.Args) &&
		maps.Equal(e.Env, other.Env)
}

// Registry is the on-disk backend catalogue. It is re-loaded from disk at
// the start of every client request; there is no in-process mutation shared
// between the CLI and the daemon, the file is the only coordination channel.
type Registry struct {
	path    string
	servers []Entry
	extra   map[string]json.RawMessage // unknown top-level fields, kept on save
}

// Load reads the registry file. A missing file yields an empty registry; a
// file that exists but cannot be parsed yields a ConfigError naming the path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Registry{path: path}, nil
	}

	if err != nil {
		return nil, &mcpderrors.ConfigError{Path: path, Err: err}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &mcpderrors.ConfigError{Path: path, Err: err}
	}

	r := &Registry{path: path, extra: doc}

	if raw, ok := doc["servers"]; ok {
		if err := json.Unmarshal(raw, &r.servers); err != nil {
			return nil, &mcpderrors.ConfigError{Path: path, Err: err}
		}

		delete(doc, "servers")
	}

	return r, nil
}

// Save writes the registry atomically: marshal to a temp file in the target
// directory, then rename over the destination so a crash mid-write cannot
// leave a corrupt file.
func (r *Registry) Save() error {
	doc := make(map[string]json.RawMessage, len(r.extra)+1)
	maps.Copy(doc, r.extra)

	servers, err := json.Marshal(r.servers)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	doc["servers"] = servers

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("write temp registry: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close temp registry: %w", err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("replace registry: %w", err)
	}

	return nil
}

// Add appends an entry. Fails with ErrDuplicateName if the name exists and
// ErrInvalidName if the name breaks the namespace rule.
func (r *Registry) Add(entry Entry) error {
	if err := ValidateName(entry.Name); err != nil {
		return err
	}

	if _, ok := r.Lookup(entry.Name); ok {
		return fmt.Errorf("%q: %w", entry.Name, mcpderrors.ErrDuplicateName)
	}

	r.servers = append(r.servers, entry)

	return nil
}

// Remove deletes the entry with the given name, failing with ErrUnknownName
// if absent.
func (r *Registry) Remove(name string) error {
	for i, e := range r.servers {
		if e.Name == name {
			r.servers = slices.Delete(r.servers, i, i+1)

			return nil
		}
	}

	return fmt.Errorf("%q: %w", name, mcpderrors.ErrUnknownName)
}

// Lookup finds an entry by name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	for _, e := range r.servers {
		if e.Name == name {
			return e, true
		}
	}

	return Entry{}, false
}

// Entries returns the registered backends in insertion order.
func (r *Registry) Entries() []Entry {
	return slices.Clone(r.servers)
}

// Names returns the backend names in insertion order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.servers))
	for i, e := range r.servers {
		names[i] = e.Name
	}

	return names
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	return len(r.servers)
}

// Path returns the file this registry was loaded from.
func (r *Registry) Path() string {
	return r.path
}

// ValidateName enforces the backend name rule: non-empty and free of the
// "__" separator, "/", whitespace and control characters.
func ValidateName(name string) error {
	if !mcp.ValidBackendName(name) {
		return fmt.Errorf("%q: %w", name, mcpderrors.ErrInvalidName)
	}

	return nil
}
