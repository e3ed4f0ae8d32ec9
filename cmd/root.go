package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wagiedev/mcpd/internal/registry"
)

var (
	registryPath string
	debugMode    bool

	version = "dev"
)

// SetVersionInfo sets version information from ldflags.
func SetVersionInfo(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "mcpd",
	Short: "Aggregate multiple MCP servers behind a single stdio endpoint",
	Long: `mcpd presents itself to an MCP client as one server while multiplexing
requests across a dynamic set of registered backend MCP servers, each
spawned as a child process on demand.

Backends are registered in <config-dir>/mcpd/registry.json. The serving
daemon re-reads that file on every request, so registering or removing a
backend takes effect immediately, without restarting the client.`,
	Example: `  mcpd register fs /usr/local/bin/mcp-fs --root /data
  mcpd register --env GITHUB_TOKEN=... gh mcp-github
  mcpd list
  mcpd serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "Registry file path (default <config-dir>/mcpd/registry.json)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging on stderr")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// resolveRegistryPath applies the --registry override.
func resolveRegistryPath() (string, error) {
	if registryPath != "" {
		return registryPath, nil
	}

	return registry.DefaultPath()
}

// Execute runs the root command.
func Execute() error {
	rootCmd.Version = version

	return rootCmd.Execute()
}
