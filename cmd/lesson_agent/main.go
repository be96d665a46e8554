// Package main provides the lesson_agent CLI: pipeline runs, re-renders of
// existing run folders, the HTTP API server and ledger inspection.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lesson_agent",
	Short: "Narrated lesson video pipeline",
	Long: `lesson_agent turns a topic into a narrated lesson video: script -> run folder -> animation code -> render (video and narration) -> merge -> save -> upload.

Configuration can be loaded from a JSON file using --config. Command-line flags override config file values; environment variables fill whatever is still empty.`,
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
