package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wagiedev/mcpd/internal/registry"
)

var unregisterCmd = &cobra.Command{
	Use:   "unregister <name>",
	Short: "Remove a registered backend",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnregister,
}

func init() {
	rootCmd.AddCommand(unregisterCmd)
}

func runUnregister(cmd *cobra.Command, args []string) error {
	name := args[0]

	path, err := resolveRegistryPath()
	if err != nil {
		return err
	}

	reg, err := registry.Load(path)
	if err != nil {
		return err
	}

	if err := reg.Remove(name); err != nil {
		return err
	}

	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("Unregistered backend %q\n", name)

	return nil
}
