package server

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcpd/internal/mcp"
	"github.com/wagiedev/mcpd/internal/mcptest"
	"github.com/wagiedev/mcpd/internal/registry"
)

// These tests run the full stack: server, real proxy manager, and a mock
// MCP backend spawned as a child process (this test binary re-exec'd).

func mockBackendEntry(t *testing.T, name string, extraEnv map[string]string) registry.Entry {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	env := map[string]string{mcptest.EnvRun: "1"}
	for k, v := range extraEnv {
		env[k] = v
	}

	return registry.Entry{Name: name, Command: exe, Env: env}
}

func TestEndToEnd_ListAndCallTools(t *testing.T) {
	path := regPath(t)
	writeRegistry(t, path, mockBackendEntry(t, "fs", nil))

	client := startServer(t, path, nil)

	resp := client.call(mcp.MethodInitialize, mcp.InitializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		ClientInfo:      mcp.Info{Name: "e2e", Version: "0"},
	})
	require.Nil(t, resp.Error)

	resp = client.call(mcp.MethodToolsCall, map[string]any{"name": MetaToolListTools, "arguments": map[string]any{}})
	require.Nil(t, resp.Error)

	var listing struct {
		Backends map[string]struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"backends"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, resp.Result)), &listing))
	require.Contains(t, listing.Backends, "fs")

	names := make([]string, 0, 3)
	for _, tool := range listing.Backends["fs"].Tools {
		names = append(names, tool.Name)
	}

	assert.Contains(t, names, "fs__echo")
	assert.Contains(t, names, "fs__fail")

	resp = client.call(mcp.MethodToolsCall, map[string]any{
		"name":      MetaToolUseTool,
		"arguments": map[string]any{"tool_name": "fs__echo", "arguments": map[string]any{"x": 1}},
	})
	require.Nil(t, resp.Error)

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	assert.JSONEq(t, `{"x":1}`, result.Content[0].Text)
}

func TestEndToEnd_ResourcesAndPrompts(t *testing.T) {
	path := regPath(t)
	writeRegistry(t, path,
		mockBackendEntry(t, "a", nil),
		mockBackendEntry(t, "b", map[string]string{mcptest.EnvNoResources: "1", mcptest.EnvNoPrompts: "1"}),
	)

	client := startServer(t, path, nil)

	resp := client.call(mcp.MethodResourcesList, nil)
	require.Nil(t, resp.Error)

	var resources struct {
		Resources []struct {
			URI  string `json:"uri"`
			Name string `json:"name"`
		} `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &resources))

	// Backend b lacks resource support and silently drops out.
	require.Len(t, resources.Resources, 1)
	assert.Equal(t, "mcpd://a/file:///test.txt", resources.Resources[0].URI)
	assert.Equal(t, "a__test_file", resources.Resources[0].Name)

	resp = client.call(mcp.MethodResourcesRead, map[string]any{"uri": "mcpd://a/file:///test.txt"})
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "hello world")

	resp = client.call(mcp.MethodPromptsList, nil)
	require.Nil(t, resp.Error)

	var prompts struct {
		Prompts []struct {
			Name string `json:"name"`
		} `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &prompts))
	require.Len(t, prompts.Prompts, 1)
	assert.Equal(t, "a__greet", prompts.Prompts[0].Name)

	resp = client.call(mcp.MethodPromptsGet, map[string]any{
		"name":      "a__greet",
		"arguments": map[string]any{"name": "World"},
	})
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "Hello!")
}

func TestEndToEnd_SpawnFailureIsPartial(t *testing.T) {
	path := regPath(t)
	writeRegistry(t, path,
		mockBackendEntry(t, "good", nil),
		registry.Entry{Name: "broken", Command: "/definitely/not/a/real/binary"},
	)

	client := startServer(t, path, nil)

	resp := client.call(mcp.MethodToolsCall, map[string]any{"name": MetaToolListTools, "arguments": map[string]any{}})
	require.Nil(t, resp.Error)

	var listing struct {
		Backends map[string]json.RawMessage `json:"backends"`
		Errors   map[string]string          `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, resp.Result)), &listing))
	assert.Contains(t, listing.Backends, "good")
	require.Contains(t, listing.Errors, "broken")
	assert.Contains(t, listing.Errors["broken"], "spawn")
}
