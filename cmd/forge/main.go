// forge is the NarrativeForge authoring CLI.
//
// Usage:
//
//	forge validate FILE...
//	forge export FILE [--graphs DIR | --db PATH] [-o OUT]
//	forge import FILE --title T [-o OUT] [--db PATH]
//	forge play FILE [--graphs DIR | --db PATH] [--batch] [--flag k=v]
//	forge graphs list|put --db PATH
//	forge serve [--config PATH]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/NarrativeForge/internal/logging"
	"github.com/AaronLay10/NarrativeForge/internal/version"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "forge",
		Short:         "Validate, convert and play narrative graphs",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Init(logging.ParseLevel(logLevel), "text", cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newImportCmd())
	root.AddCommand(newPlayCmd())
	root.AddCommand(newGraphsCmd())
	root.AddCommand(newServeCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
