package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/storage/sqlite"
	"github.com/AaronLay10/NarrativeForge/internal/validate"
)

func newGraphsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "graphs",
		Short: "Manage the local SQLite graph store",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "forge.db", "SQLite graph store")

	var markdown bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := sqlite.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			infos, err := store.ListGraphs(cmd.Context())
			if err != nil {
				return err
			}
			t := newTable(markdown)
			t.AppendHeader([]any{"ID", "Title", "Updated"})
			for _, info := range infos {
				t.AppendRow([]any{info.ID, info.Title, info.UpdatedAt.Format(time.DateTime)})
			}
			render(cmd.OutOrStdout(), t, markdown)
			return nil
		},
	}
	list.Flags().BoolVar(&markdown, "markdown", false, "render as Markdown")

	var force bool
	put := &cobra.Command{
		Use:   "put FILE...",
		Short: "Validate and store graph files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			for _, file := range args {
				g, err := forge.LoadGraph(file)
				if err != nil {
					return err
				}
				if res := validate.Graph(g); !res.Valid && !force {
					return fmt.Errorf("%s: %d validation error(s), use --force to store anyway", file, len(res.Errors))
				}
				if err := store.PutGraph(cmd.Context(), g); err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", g.ID)
			}
			return nil
		},
	}
	put.Flags().BoolVar(&force, "force", false, "store graphs that fail validation")

	rm := &cobra.Command{
		Use:   "rm ID...",
		Short: "Delete stored graphs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			for _, id := range args {
				if err := store.DeleteGraph(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(list, put, rm)
	return cmd
}
