package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrors_MatchWithErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", &SpawnError{
		Backend: "fs",
		Err:     errors.New("no such file"),
	})

	var spawnErr *SpawnError
	require.ErrorAs(t, wrapped, &spawnErr)
	assert.Equal(t, "fs", spawnErr.Backend)
}

func TestTypedErrors_UnwrapCause(t *testing.T) {
	cause := errors.New("broken pipe")

	tests := []struct {
		name string
		err  error
	}{
		{name: "config", err: &ConfigError{Path: "/tmp/registry.json", Err: cause}},
		{name: "spawn", err: &SpawnError{Backend: "fs", Err: cause}},
		{name: "handshake", err: &HandshakeError{Backend: "fs", Err: cause}},
		{name: "transport", err: &TransportError{Backend: "fs", Err: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, cause)
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ConfigError{Path: "/p/registry.json", Err: errors.New("bad json")}).Error(), "/p/registry.json")
	assert.Equal(t, "unknown backend: ghost", (&UnknownBackendError{Backend: "ghost"}).Error())
	assert.Contains(t, (&MalformedToolNameError{Name: "x"}).Error(), "<backend>__<tool>")
	assert.Contains(t, (&InvalidResourceURIError{URI: "file:///x"}).Error(), "file:///x")

	be := &BackendError{Backend: "fs", Code: -32601, Message: "Method not found", Data: json.RawMessage(`{}`)}
	assert.Contains(t, be.Error(), "fs")
	assert.Contains(t, be.Error(), "-32601")
}

func TestSentinels_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrDuplicateName,
		ErrUnknownName,
		ErrInvalidName,
		ErrUnknownTool,
		ErrProxyClosed,
		ErrBackendTimeout,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.NotErrorIs(t, a, b)
			}
		}
	}
}
