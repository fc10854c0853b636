package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/logging"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
)

func newPlayCmd() *cobra.Command {
	var (
		src      sourceFlags
		batch    bool
		flagArgs []string
		maxSteps int
	)
	cmd := &cobra.Command{
		Use:   "play FILE",
		Short: "Play a graph in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := parseFlags(flagArgs)
			if err != nil {
				return err
			}
			resolver, cleanup, err := src.resolver(args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			g, err := loadGraph(cmd.Context(), args[0], resolver, src.dbPath != "")
			if err != nil {
				return err
			}
			mode := orchestrator.ModeInteractive
			if batch {
				mode = orchestrator.ModeBatch
			}
			eng := orchestrator.NewEngine(resolver,
				orchestrator.WithLogger(logging.New("engine")),
				orchestrator.WithMaxSteps(maxSteps))

			state := forge.GameState{Flags: flags}
			res, err := eng.Execute(cmd.Context(), g, state, orchestrator.Options{Mode: mode})
			if err != nil {
				return err
			}
			return playLoop(cmd, eng, res)
		},
	}
	src.register(cmd)
	cmd.Flags().BoolVar(&batch, "batch", false, "take the first visible choice at every prompt")
	cmd.Flags().StringArrayVar(&flagArgs, "flag", nil, "initial flag as key=value (repeatable)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", orchestrator.DefaultMaxSteps, "node visits allowed per step")
	return cmd
}

// playLoop prints frames and prompts for choices until the run ends or
// input runs out.
func playLoop(cmd *cobra.Command, eng *orchestrator.Engine, res *orchestrator.Result) error {
	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	seen := 0
	for {
		printFrames(out, res.Frames[seen:])
		seen = len(res.Frames)
		if res.Status != orchestrator.StatusAwaitingChoice {
			break
		}

		choices := res.PendingChoice.Choices
		for i, c := range choices {
			fmt.Fprintf(out, "  %d) %s\n", i+1, c.Text)
		}
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		id := pickChoice(strings.TrimSpace(in.Text()), choices)
		next, err := eng.SelectChoice(cmd.Context(), res, id)
		if errors.Is(err, orchestrator.ErrChoiceUnavailable) {
			fmt.Fprintln(out, "no such choice")
			continue
		}
		if err != nil {
			return err
		}
		res = next
	}

	fmt.Fprintf(out, "[%s]\n", res.Status)
	if res.Status == orchestrator.StatusError {
		return errors.New(res.Error)
	}
	return nil
}

// pickChoice accepts a 1-based number or a choice id.
func pickChoice(input string, choices []orchestrator.RuntimeChoice) string {
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(choices) {
		return choices[n-1].ID
	}
	return input
}

func printFrames(w io.Writer, frames []forge.Frame) {
	for _, f := range frames {
		switch {
		case f.Kind == forge.FrameDiagnostic:
			fmt.Fprintf(w, "! %s\n", f.Content)
		case f.Kind == forge.FrameChoice:
			fmt.Fprintf(w, "> %s\n", f.Content)
		case f.Speaker != "":
			fmt.Fprintf(w, "%s: %s\n", f.Speaker, f.Content)
		default:
			fmt.Fprintln(w, f.Content)
		}
	}
}
