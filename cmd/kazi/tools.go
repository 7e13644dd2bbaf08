package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var flagToolNames bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool schema offered to the oracle as JSON",
	Args:  cobra.NoArgs,
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

		if flagToolNames {
			for _, name := range c.Registry.List() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}
		data, err := json.MarshalIndent(c.Registry.Definitions(), "", "  ")
		if err != nil {
			return fmt.Errorf("encoding tool schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&flagToolNames, "names", false, "print only the tool names, one per line")
}
