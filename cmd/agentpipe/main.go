// Command agentpipe runs a Claude Code agent over its stream-json stdio
// protocol, either for a single prompt (ask) or as a chat (chat).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var flags rootFlags
	rootCmd := &cobra.Command{
		Use:           "agentpipe",
		Short:         "Drive an agent CLI over line-delimited JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(rootCmd)

	rootCmd.AddCommand(askCmd(&flags), chatCmd(&flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if code, ok := exitCode(err); ok {
			os.Exit(code)
		}
		os.Exit(1)
	}
}
