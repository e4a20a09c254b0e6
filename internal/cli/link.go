package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/store"
)

// LinkOptions holds flags for the link subcommands.
type LinkOptions struct {
	*RootOptions
	Scope    string
	Doc      string
	Statuses []string
	Limit    int
	Reason   string
	Note     string
	ToScope  string
}

// LinkChange is the output of a status transition. BatchID is set when
// several links moved together as one undo step.
type LinkChange struct {
	BatchID string    `json:"batch_id,omitempty"`
	Links   []ir.Link `json:"links"`
}

// NewLinkCommand creates the link command group.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LinkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "link",
		Short: "List links and change their status",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List committed links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := ir.LinkFilter{ScopeID: opts.Scope, DocID: opts.Doc, Limit: opts.Limit}
			for _, s := range opts.Statuses {
				st := ir.LinkStatus(s)
				if !st.Valid() {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", s))
				}
				f.Statuses = append(f.Statuses, st)
			}
			return withStore(rootOpts, func(st *store.Store) error {
				links, err := st.ListLinks(cmd.Context(), f)
				if err != nil {
					return WrapOpError("failed to list links", err)
				}
				return renderLinks(opts.output(cmd), LinkChange{Links: links})
			})
		},
	}
	list.Flags().StringVar(&opts.Scope, "scope", "", "only links on this scope (alias aware)")
	list.Flags().StringVar(&opts.Doc, "doc", "", "only links in this document")
	list.Flags().StringSliceVar(&opts.Statuses, "status", nil, "only links with these statuses")
	list.Flags().IntVar(&opts.Limit, "limit", 0, "maximum links to list (0 = all)")

	unlink := &cobra.Command{
		Use:   "unlink <link-id>...",
		Short: "Unlink one or more links",
		Long: `Unlink one or more links. Several ids are unlinked together as a single
undo step; if any one cannot be unlinked none are.

Example:
  famlink link unlink 0192... --reason wrong_scope --note "belongs to liens"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(opts, cmd, args, "failed to unlink",
				func(st *store.Store, id string) (ir.Link, error) {
					return st.Unlink(cmd.Context(), id, opts.Reason, opts.Note)
				},
				func(st *store.Store, ids []string) (string, []ir.Link, error) {
					return st.UnlinkBatch(cmd.Context(), ids, opts.Reason, opts.Note)
				})
		},
	}
	unlink.Flags().StringVar(&opts.Reason, "reason", "", "why the link is wrong")
	unlink.Flags().StringVar(&opts.Note, "note", "", "free text note")

	relink := &cobra.Command{
		Use:   "relink <link-id>...",
		Short: "Restore unlinked links to active",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(opts, cmd, args, "failed to relink",
				func(st *store.Store, id string) (ir.Link, error) {
					return st.Relink(cmd.Context(), id)
				},
				func(st *store.Store, ids []string) (string, []ir.Link, error) {
					return st.RelinkBatch(cmd.Context(), ids)
				})
		},
	}

	reassign := &cobra.Command{
		Use:   "reassign <link-id>...",
		Short: "Move links to another scope",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(opts, cmd, args, "failed to reassign",
				func(st *store.Store, id string) (ir.Link, error) {
					return st.Reassign(cmd.Context(), id, opts.ToScope)
				},
				func(st *store.Store, ids []string) (string, []ir.Link, error) {
					return st.ReassignBatch(cmd.Context(), ids, opts.ToScope)
				})
		},
	}
	reassign.Flags().StringVar(&opts.ToScope, "to", "", "target scope id (required)")
	_ = reassign.MarkFlagRequired("to")

	cmd.AddCommand(list, unlink, relink, reassign)
	return cmd
}

func transition(
	opts *LinkOptions,
	cmd *cobra.Command,
	ids []string,
	failure string,
	one func(st *store.Store, id string) (ir.Link, error),
	batch func(st *store.Store, ids []string) (string, []ir.Link, error),
) error {
	return withStore(opts.RootOptions, func(st *store.Store) error {
		var change LinkChange
		if len(ids) == 1 {
			l, err := one(st, ids[0])
			if err != nil {
				return WrapOpError(failure, err)
			}
			change.Links = []ir.Link{l}
		} else {
			batchID, links, err := batch(st, ids)
			if err != nil {
				return WrapOpError(failure, err)
			}
			change = LinkChange{BatchID: batchID, Links: links}
		}
		return renderLinks(opts.output(cmd), change)
	})
}

func renderLinks(out *OutputFormatter, change LinkChange) error {
	if change.Links == nil {
		change.Links = []ir.Link{}
	}
	return out.Render(change, func(w io.Writer) {
		if len(change.Links) == 0 {
			fmt.Fprintln(w, "No links.")
			return
		}
		for _, l := range change.Links {
			fmt.Fprintf(w, "%s %s %s %s %.2f (%s)\n",
				l.ID, Status(string(l.Status)), l.ScopeID, l.Key(), l.Confidence, l.Tier)
			if l.UnlinkedReason != "" {
				fmt.Fprintf(w, "  reason: %s\n", l.UnlinkedReason)
			}
		}
		if change.BatchID != "" {
			fmt.Fprintf(w, "batch %s\n", change.BatchID)
		}
	})
}
