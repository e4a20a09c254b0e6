package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/store"
)

// PreviewOptions holds flags for the preview subcommands.
type PreviewOptions struct {
	*RootOptions
	Scope   string
	Tier    string
	Verdict string
	Tiers   []string
	Limit   int
}

// PreviewDetail is the output of preview show.
type PreviewDetail struct {
	Preview    ir.Preview     `json:"preview"`
	Candidates []ir.Candidate `json:"candidates"`
}

// VerdictResult is the output of preview accept and preview verdict.
type VerdictResult struct {
	PreviewID string `json:"preview_id"`
	Updated   int    `json:"updated"`
}

// NewPreviewCommand creates the preview command group.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Inspect previews and record review verdicts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List previews, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				previews, err := st.ListPreviews(cmd.Context(), opts.Scope, opts.Limit)
				if err != nil {
					return WrapOpError("failed to list previews", err)
				}
				return opts.output(cmd).Render(previews, func(w io.Writer) {
					if len(previews) == 0 {
						fmt.Fprintln(w, "No previews.")
						return
					}
					for _, p := range previews {
						writePreviewLine(w, p)
					}
				})
			})
		},
	}
	list.Flags().StringVar(&opts.Scope, "scope", "", "only previews on this scope")
	list.Flags().IntVar(&opts.Limit, "limit", 20, "maximum previews to list")

	show := &cobra.Command{
		Use:   "show <preview-id>",
		Short: "Show a preview and its candidates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := store.CandidateQuery{Tier: ir.Tier(opts.Tier), Verdict: ir.Verdict(opts.Verdict), Limit: opts.Limit}
			if q.Tier != "" && !q.Tier.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid tier %q", opts.Tier))
			}
			if q.Verdict != "" && !q.Verdict.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid verdict %q", opts.Verdict))
			}
			return withStore(rootOpts, func(st *store.Store) error {
				pv, err := st.GetPreview(cmd.Context(), args[0])
				if err != nil {
					return WrapOpError("failed to read preview", err)
				}
				cands, err := st.ListCandidates(cmd.Context(), pv.ID, q)
				if err != nil {
					return WrapOpError("failed to list candidates", err)
				}
				if cands == nil {
					cands = []ir.Candidate{}
				}
				return renderPreview(opts.output(cmd), PreviewDetail{Preview: pv, Candidates: cands})
			})
		},
	}
	show.Flags().StringVar(&opts.Tier, "tier", "", "only candidates in this tier")
	show.Flags().StringVar(&opts.Verdict, "verdict", "", "only candidates with this verdict")
	show.Flags().IntVar(&opts.Limit, "limit", 100, "maximum candidates to show")

	accept := &cobra.Command{
		Use:   "accept <preview-id>",
		Short: "Accept every candidate in the given tiers",
		Long: `Accept every candidate of a preview whose confidence tier is listed.

Example:
  famlink preview accept 0192... --tier high --tier medium`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tiers := make([]ir.Tier, len(opts.Tiers))
			for i, t := range opts.Tiers {
				tiers[i] = ir.Tier(t)
			}
			return withStore(rootOpts, func(st *store.Store) error {
				n, err := rootOpts.reviewProtocol(st).AcceptTiers(cmd.Context(), args[0], tiers)
				if err != nil {
					return WrapOpError("failed to accept candidates", err)
				}
				return renderVerdict(opts.output(cmd), VerdictResult{PreviewID: args[0], Updated: n})
			})
		},
	}
	accept.Flags().StringSliceVar(&opts.Tiers, "tier", []string{string(ir.TierHigh)}, "tiers to accept")

	verdict := &cobra.Command{
		Use:   "verdict <preview-id> <pending|accepted|rejected> <doc/section[/clause]>...",
		Short: "Record a verdict on individual candidates",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]ir.TargetKey, 0, len(args)-2)
			for _, a := range args[2:] {
				k, err := ir.ParseTargetKey(a)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid candidate key", err)
				}
				keys = append(keys, k)
			}
			return withStore(rootOpts, func(st *store.Store) error {
				n, err := rootOpts.reviewProtocol(st).SetVerdicts(cmd.Context(), args[0], keys, ir.Verdict(args[1]))
				if err != nil {
					return WrapOpError("failed to record verdict", err)
				}
				return renderVerdict(opts.output(cmd), VerdictResult{PreviewID: args[0], Updated: n})
			})
		},
	}

	cmd.AddCommand(list, show, accept, verdict)
	return cmd
}

func writePreviewLine(w io.Writer, p ir.Preview) {
	state := "open"
	if p.AppliedAt != nil {
		state = "applied"
	}
	fmt.Fprintf(w, "%s %s scope=%s candidates=%d high=%d medium=%d low=%d\n",
		p.ID, state, p.ScopeID, p.CandidateCount,
		p.ByTier[ir.TierHigh], p.ByTier[ir.TierMedium], p.ByTier[ir.TierLow])
}

func renderPreview(out *OutputFormatter, d PreviewDetail) error {
	return out.Render(d, func(w io.Writer) {
		writePreviewLine(w, d.Preview)
		fmt.Fprintf(w, "  hash: %s\n", d.Preview.CandidateSetHash)
		fmt.Fprintf(w, "  expires: %s\n", d.Preview.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
		for _, c := range d.Candidates {
			fmt.Fprintf(w, "  %s %q %.2f (%s) %s\n",
				c.Key(), c.Heading, c.Confidence, c.Tier, Status(string(c.Verdict)))
		}
	})
}

func renderVerdict(out *OutputFormatter, r VerdictResult) error {
	return out.Render(r, func(w io.Writer) {
		fmt.Fprintf(w, "%d candidate(s) updated on %s\n", r.Updated, r.PreviewID)
	})
}
