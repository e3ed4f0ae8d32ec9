package cmd

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wagiedev/mcpd/internal/registry"
)

var registerEnv []string

var registerCmd = &cobra.Command{
	Use:   "register <name> <command> [args...]",
	Short: "Register a backend MCP server",
	Long: `Adds a backend to the registry. The name becomes the namespace prefix for
everything the backend exposes and may not contain "__".

A bare command name is resolved against PATH at registration time; a
command containing a path separator is taken as-is and made absolute.`,
	Example: `  mcpd register fs /usr/local/bin/mcp-fs --root /data
  mcpd register --env GITHUB_TOKEN=ghp_abc123 gh mcp-github`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringArrayVarP(&registerEnv, "env", "e", nil, "Environment variable for the backend (KEY=VALUE, repeatable)")

	// Flags stop at the first positional argument so the backend's own
	// flags pass through untouched: mcpd register fs mcp-fs --root /data
	registerCmd.Flags().SetInterspersed(false)

	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := registry.ValidateName(name); err != nil {
		return err
	}

	command, err := resolveCommand(args[1])
	if err != nil {
		return err
	}

	env, err := parseEnvVars(registerEnv)
	if err != nil {
		return err
	}

	path, err := resolveRegistryPath()
	if err != nil {
		return err
	}

	reg, err := registry.Load(path)
	if err != nil {
		return err
	}

	entry := registry.Entry{
		Name:    name,
		Command: command,
		Args:    args[2:],
		Env:     env,
	}

	if err := reg.Add(entry); err != nil {
		return err
	}

	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("Registered backend %q: %s\n", name, strings.Join(append([]string{command}, entry.Args...), " "))

	return nil
}

// resolveCommand turns the command argument into an absolute path. Bare
// names go through PATH; anything with a separator is made absolute as-is.
func resolveCommand(command string) (string, error) {
	if !strings.ContainsRune(command, filepath.Separator) {
		resolved, err := exec.LookPath(command)
		if err != nil {
			return "", fmt.Errorf("resolve command %q: %w", command, err)
		}

		command = resolved
	}

	abs, err := filepath.Abs(command)
	if err != nil {
		return "", fmt.Errorf("resolve command %q: %w", command, err)
	}

	return abs, nil
}

// parseEnvVars parses repeated KEY=VALUE flags. The first '=' splits;
// values may contain further '=' characters.
func parseEnvVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid KEY=VALUE format: %q", pair)
		}

		env[key] = value
	}

	return env, nil
}
