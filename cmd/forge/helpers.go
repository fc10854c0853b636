package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
	"github.com/AaronLay10/NarrativeForge/internal/storage/sqlite"
)

// sourceFlags pick where referenced graphs are resolved from.
type sourceFlags struct {
	graphsDir string
	dbPath    string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.graphsDir, "graphs", "", "directory of referenced graphs (default: the file's directory)")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite graph store to resolve references from")
	cmd.MarkFlagsMutuallyExclusive("graphs", "db")
}

// resolver returns the resolver for file and a cleanup func.
func (f *sourceFlags) resolver(file string) (orchestrator.GraphResolver, func(), error) {
	if f.dbPath != "" {
		store, err := sqlite.Open(f.dbPath)
		if err != nil {
			return nil, nil, err
		}
		return orchestrator.NewCachedResolver(store), func() { store.Close() }, nil
	}
	dir := f.graphsDir
	if dir == "" {
		dir = filepath.Dir(file)
	}
	return orchestrator.NewCachedResolver(orchestrator.DirResolver{Dir: dir}), func() {}, nil
}

// loadGraph reads a graph file, or a stored graph when the argument has
// no extension and a store is open.
func loadGraph(ctx context.Context, arg string, r orchestrator.GraphResolver, fromStore bool) (*forge.Graph, error) {
	if fromStore && filepath.Ext(arg) == "" {
		return r.ResolveGraph(ctx, arg)
	}
	return forge.LoadGraph(arg)
}

// parseFlagValue reads bools and numbers, keeping anything else as text.
func parseFlagValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func parseFlags(pairs []string) (map[string]any, error) {
	flags := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid flag %q, want key=value", p)
		}
		flags[k] = parseFlagValue(v)
	}
	return flags, nil
}

func newTable(markdown bool) table.Writer {
	t := table.NewWriter()
	if !markdown {
		t.SetStyle(table.StyleLight)
	}
	return t
}

func render(w io.Writer, t table.Writer, markdown bool) {
	if markdown {
		fmt.Fprintln(w, t.RenderMarkdown())
		return
	}
	fmt.Fprintln(w, t.Render())
}

// writeOutput writes data to path, or to w when path is empty or "-".
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
