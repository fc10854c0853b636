package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/NarrativeForge/internal/logging"
	"github.com/AaronLay10/NarrativeForge/internal/storage/sqlite"
	"github.com/AaronLay10/NarrativeForge/internal/yarn"
)

func newImportCmd() *cobra.Command {
	var (
		title  string
		output string
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Read Yarn text into a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			conv := yarn.New(nil, yarn.WithLogger(logging.New("yarn")))
			res, err := conv.Import(string(text), title)
			if err != nil {
				return err
			}
			for _, is := range res.Issues {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", is)
			}

			if dbPath != "" {
				store, err := sqlite.Open(dbPath)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.PutGraph(cmd.Context(), res.Graph); err != nil {
					return err
				}
				for _, g := range res.Inlined {
					if err := store.PutGraph(cmd.Context(), g); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "stored %s (+%d inlined)\n", res.Graph.ID, len(res.Inlined))
			}

			data, err := json.MarshalIndent(res.Graph, "", "  ")
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, append(data, '\n'))
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "id and title of the imported graph (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&dbPath, "db", "", "also store the graph and its inlined graphs in this SQLite file")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}
