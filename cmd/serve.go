package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wagiedev/mcpd/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the aggregating MCP server on stdio",
	Long: `Serves MCP over this process's standard streams until stdin reaches EOF
or a termination signal arrives. All logging goes to stderr; stdout
carries protocol messages only.

Exits 0 on clean EOF and non-zero on a fatal configuration error, such as
a registry file that exists but cannot be parsed.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	path, err := resolveRegistryPath()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		RegistryPath: path,
		Version:      version,
		Logger:       log,
	})

	return srv.Run(ctx, os.Stdin, os.Stdout)
}
