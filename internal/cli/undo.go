package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/store"
)

// HistoryResult is the output of undo and redo. Step is nil at either end
// of history.
type HistoryResult struct {
	Direction string          `json:"direction"`
	Step      *ir.HistoryStep `json:"step"`
}

// NewUndoCommand creates the undo command.
func NewUndoCommand(rootOpts *RootOptions) *cobra.Command {
	return historyCommand(rootOpts, "undo", "Revert the most recent batch of changes",
		func(ctx context.Context, st *store.Store) (*ir.HistoryStep, error) { return st.Undo(ctx) })
}

// NewRedoCommand creates the redo command.
func NewRedoCommand(rootOpts *RootOptions) *cobra.Command {
	return historyCommand(rootOpts, "redo", "Re-apply the most recently undone batch",
		func(ctx context.Context, st *store.Store) (*ir.HistoryStep, error) { return st.Redo(ctx) })
}

func historyCommand(rootOpts *RootOptions, name, short string, step func(context.Context, *store.Store) (*ir.HistoryStep, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				s, err := step(cmd.Context(), st)
				if err != nil {
					return WrapOpError(name+" failed", err)
				}
				res := HistoryResult{Direction: name, Step: s}
				return rootOpts.output(cmd).Render(res, func(w io.Writer) {
					if s == nil {
						fmt.Fprintf(w, "Nothing to %s.\n", name)
						return
					}
					fmt.Fprintf(w, "%s batch %s (%d action(s)), position %d\n", name, s.BatchID, s.Actions, s.Position)
				})
			})
		},
	}
}
