package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcpd/internal/registry"
)

func TestParseEnvVars(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "none", pairs: nil, want: nil},
		{name: "simple", pairs: []string{"KEY=VALUE"}, want: map[string]string{"KEY": "VALUE"}},
		{name: "equals in value", pairs: []string{"KEY=VAL=UE"}, want: map[string]string{"KEY": "VAL=UE"}},
		{name: "empty value", pairs: []string{"KEY="}, want: map[string]string{"KEY": ""}},
		{name: "multiple", pairs: []string{"A=1", "B=2"}, want: map[string]string{"A": "1", "B": "2"}},
		{name: "missing equals", pairs: []string{"KEYVALUE"}, wantErr: true},
		{name: "empty key", pairs: []string{"=VALUE"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEnvVars(tt.pairs)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveCommand_PathWithSeparatorKeptAsIs(t *testing.T) {
	got, err := resolveCommand("/no/such/place/tool")
	require.NoError(t, err)
	assert.Equal(t, "/no/such/place/tool", got)
}

func TestResolveCommand_BareNameGoesThroughPATH(t *testing.T) {
	_, err := resolveCommand("definitely-not-a-real-command-name")
	require.Error(t, err)
}

func TestRegisterUnregisterList_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	runCLI := func(args ...string) error {
		t.Helper()

		registerEnv = nil

		// Flags before positionals: register stops flag parsing at the
		// first positional so backend args pass through.
		rootCmd.SetArgs(append([]string{args[0], "--registry", path}, args[1:]...))

		return rootCmd.Execute()
	}

	require.NoError(t, runCLI("register", "fs", "/bin/sh", "-c", "true"))

	reg, err := registry.Load(path)
	require.NoError(t, err)

	entry, ok := reg.Lookup("fs")
	require.True(t, ok)
	assert.Equal(t, "/bin/sh", entry.Command)
	assert.Equal(t, []string{"-c", "true"}, entry.Args)

	// Duplicate registration fails.
	require.Error(t, runCLI("register", "fs", "/bin/sh"))

	// Names with the reserved separator are rejected.
	require.Error(t, runCLI("register", "a__b", "/bin/sh"))

	require.NoError(t, runCLI("list"))

	require.NoError(t, runCLI("unregister", "fs"))

	reg, err = registry.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())

	// Unregistering a missing backend fails.
	require.Error(t, runCLI("unregister", "fs"))
}
