package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentrelay",
		Short:         "Message relay between chat clients and agent runtimes",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(
		newServeCommand(),
		newDeliverCommand(),
		newVersionCommand(),
	)
	return cmd
}

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
