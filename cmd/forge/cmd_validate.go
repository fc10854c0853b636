package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/validate"
)

type fileResult struct {
	file   string
	result *validate.Result
	err    error
}

func newValidateCmd() *cobra.Command {
	var (
		markdown bool
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check graph files for structural errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1, got %d", parallel)
			}
			results := make([]fileResult, len(args))
			g, _ := errgroup.WithContext(cmd.Context())
			g.SetLimit(parallel)
			for i, file := range args {
				g.Go(func() error {
					results[i].file = file
					graph, err := forge.LoadGraph(file)
					if err != nil {
						results[i].err = err
						return nil
					}
					results[i].result = validate.Graph(graph)
					return nil
				})
			}
			_ = g.Wait()
			return reportValidation(cmd, results, markdown)
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the issue table as Markdown")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "files validated concurrently")
	return cmd
}

func reportValidation(cmd *cobra.Command, results []fileResult, markdown bool) error {
	out := cmd.OutOrStdout()
	t := newTable(markdown)
	t.AppendHeader([]any{"File", "Severity", "Type", "Subject", "Message"})

	invalid, rows := 0, 0
	for _, r := range results {
		if r.err != nil {
			invalid++
			rows++
			t.AppendRow([]any{r.file, "error", "load", "", r.err.Error()})
			continue
		}
		if !r.result.Valid {
			invalid++
		}
		for _, list := range [][]validate.Issue{r.result.Errors, r.result.Warnings} {
			for _, is := range list {
				rows++
				t.AppendRow([]any{r.file, is.Severity, is.Type, is.SubjectID, is.Message})
			}
		}
	}

	if rows > 0 {
		render(out, t, markdown)
	}
	fmt.Fprintf(out, "%d of %d graphs valid\n", len(results)-invalid, len(results))
	if invalid > 0 {
		return fmt.Errorf("%d invalid graph(s)", invalid)
	}
	return nil
}
