// Kazi: a sandbox-confined coding agent.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess   = 0
	ExitFailure   = 1
	ExitExhausted = 2
)

var rootCmd = &cobra.Command{
	Use:   "kazi [prompt]",
	Short: "Kazi: a coding agent confined to one working directory.",
	Long: `Kazi sends a free-form request to a language model and lets it list, read,
write and run files, but only inside a single working directory.

Examples:
  kazi "how does the calculator render results to the console?"
  kazi --root ./calculator --verbose "fix the bug: 3 + 7 * 2 should not be 20"
  kazi mcp --root ./calculator
  kazi audit <correlation-id>

Exit codes:
  0  the agent produced a final answer
  1  failure (configuration, oracle or dispatch error)
  2  the agent did not converge within the iteration ceiling`,
	Args:          cobra.ArbitraryArgs,
	RunE:          runPrompt,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (JSON or YAML); env KAZI_CONFIG")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "sandbox root directory; env KAZI_ROOT (default \".\")")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log prompts, token usage and tool results")
	addRunFlags(rootCmd)

	rootCmd.AddCommand(runCmd, toolsCmd, mcpCmd, auditCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := ExitFailure
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		fmt.Fprintf(os.Stderr, "kazi: %v\n", err)
		os.Exit(code)
	}
}
