package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wagiedev/mcpd/internal/registry"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered backends",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	path, err := resolveRegistryPath()
	if err != nil {
		return err
	}

	reg, err := registry.Load(path)
	if err != nil {
		return err
	}

	if reg.Len() == 0 {
		fmt.Println("No backends registered")

		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	fmt.Printf("Registered backends (%d):\n", reg.Len())

	for _, entry := range reg.Entries() {
		fmt.Printf("  %s  %s", cyan.Sprint(entry.Name), entry.Command)

		if len(entry.Args) > 0 {
			fmt.Printf(" %s", strings.Join(entry.Args, " "))
		}

		fmt.Println()

		for _, key := range slices.Sorted(maps.Keys(entry.Env)) {
			fmt.Printf("    %s\n", gray.Sprintf("%s=%s", key, entry.Env[key]))
		}
	}

	return nil
}
