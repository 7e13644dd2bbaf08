package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the sandboxed tools over MCP (stdio)",
	Long: `Serve list_files, read_file, write_file and run_file to an MCP client over
stdin/stdout. The client picks tools and relative paths; the sandbox root is
fixed by --root or the config and cannot be changed by the client.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		c, err := initShared(cfg)
		if err != nil {
			return err
		}
		defer c.Cleanup()

		s, err := mcpserver.New(c.Dispatcher, version, c.Logger)
		if err != nil {
			return fmt.Errorf("building MCP server: %w", err)
		}
		c.Logger.Info("serving MCP over stdio", slog.String("root", c.Registry.Root().Path()))
		return mcpserver.Serve(s)
	},
}
