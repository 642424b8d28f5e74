// Command amid runs the ami daemon: a local HTTP service that decomposes a
// task prompt into subtasks, drives each through an LLM agent loop with a
// tool-calling protocol, and streams progress back over SSE (spec.md §1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "amid",
	Short: "amid is the local daemon behind the ami task-execution UI",
	Long: `amid orchestrates long-running AI tasks: a planner decomposes a
prompt into subtasks, an executor drives each through an agent loop against
an LLM provider and a tool-calling protocol (file I/O, shell, browser
automation, MCP-backed services, memory queries), and an Orchestrator
session supervises the whole task end to end, streaming progress as
events over SSE.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("amid version %s\n", Version))
	rootCmd.PersistentFlags().String("config", "", "config file search path (defaults to ./ and ~/.ami/)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "amid: %v\n", err)
		os.Exit(1)
	}
}
