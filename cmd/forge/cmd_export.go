package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/NarrativeForge/internal/logging"
	"github.com/AaronLay10/NarrativeForge/internal/yarn"
)

func newExportCmd() *cobra.Command {
	var (
		src    sourceFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Write a graph as Yarn text, inlining detoured graphs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, cleanup, err := src.resolver(args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			g, err := loadGraph(cmd.Context(), args[0], resolver, src.dbPath != "")
			if err != nil {
				return err
			}
			conv := yarn.New(resolver, yarn.WithLogger(logging.New("yarn")))
			res, err := conv.Export(cmd.Context(), g)
			if err != nil {
				return err
			}
			for _, is := range res.Issues {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", is)
			}
			return writeOutput(cmd.OutOrStdout(), output, []byte(res.Text))
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}
