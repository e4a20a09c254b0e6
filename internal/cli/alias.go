package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/famlink/internal/store"
)

// AliasResolution is the output of alias add and alias resolve.
type AliasResolution struct {
	ScopeID   string   `json:"scope_id"`
	Canonical string   `json:"canonical_id"`
	Closure   []string `json:"closure"`
	Cycle     bool     `json:"cycle,omitempty"`
}

// NewAliasCommand creates the alias command group.
func NewAliasCommand(rootOpts *RootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Manage scope aliases",
	}

	add := &cobra.Command{
		Use:   "add <legacy-id> <canonical-id>",
		Short: "Map a legacy scope id to its canonical id",
		Long: `Map a legacy scope id to its canonical id. Adding an edge that closes a
cycle keeps the new edge and flags the cycle for review.

Example:
  famlink alias add debt fam-debt --source ontology-12`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				ctx := cmd.Context()
				cycle, err := st.AddAlias(ctx, args[0], args[1], source)
				if err != nil {
					return WrapOpError("failed to add alias", err)
				}
				res, err := resolveAlias(cmd, st, args[0])
				if err != nil {
					return err
				}
				res.Cycle = cycle
				return renderAlias(rootOpts.output(cmd), res)
			})
		},
	}
	add.Flags().StringVar(&source, "source", "", "where the alias came from")

	resolve := &cobra.Command{
		Use:   "resolve <scope-id>",
		Short: "Show the canonical id and alias closure of a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				res, err := resolveAlias(cmd, st, args[0])
				if err != nil {
					return err
				}
				return renderAlias(rootOpts.output(cmd), res)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every alias edge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				aliases, err := st.ListAliases(cmd.Context())
				if err != nil {
					return WrapOpError("failed to list aliases", err)
				}
				return rootOpts.output(cmd).Render(aliases, func(w io.Writer) {
					if len(aliases) == 0 {
						fmt.Fprintln(w, "No aliases.")
						return
					}
					for _, a := range aliases {
						fmt.Fprintf(w, "%s -> %s", a.LegacyID, a.CanonicalID)
						if a.Source != "" {
							fmt.Fprintf(w, " (%s)", a.Source)
						}
						fmt.Fprintln(w)
					}
				})
			})
		},
	}

	cmd.AddCommand(add, resolve, list)
	return cmd
}

func resolveAlias(cmd *cobra.Command, st *store.Store, id string) (AliasResolution, error) {
	ctx := cmd.Context()
	canonical, err := st.ResolveCanonicalScope(ctx, id)
	if err != nil {
		return AliasResolution{}, WrapOpError("failed to resolve scope", err)
	}
	closure, err := st.ResolveAliasClosure(ctx, id)
	if err != nil {
		return AliasResolution{}, WrapOpError("failed to resolve alias closure", err)
	}
	return AliasResolution{ScopeID: id, Canonical: canonical, Closure: closure}, nil
}

func renderAlias(out *OutputFormatter, res AliasResolution) error {
	return out.Render(res, func(w io.Writer) {
		fmt.Fprintf(w, "%s -> %s\n", res.ScopeID, res.Canonical)
		fmt.Fprintf(w, "  closure: %s\n", strings.Join(res.Closure, ", "))
		if res.Cycle {
			fmt.Fprintf(w, "  %s\n", colorBad.Sprint("alias cycle flagged for review"))
		}
	})
}
