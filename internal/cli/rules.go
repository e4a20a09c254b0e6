package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/store"
)

// RulesOptions holds flags shared by the rules subcommands.
type RulesOptions struct {
	*RootOptions
	Editor string
	Force  bool
	Scope  string
	Status string
}

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RulesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Load, list, lock and publish heading rules",
	}
	cmd.PersistentFlags().StringVar(&opts.Editor, "editor", "", "editor identity for locks and saves")

	load := &cobra.Command{
		Use:   "load <rules-dir>",
		Short: "Save every rule defined in a directory of CUE files",
		Long: `Save every rule defined under the top-level "rule" struct of the CUE
files in a directory. Each save bumps the rule version.

Example:
  famlink rules load ./rules --editor alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesLoad(cmd.Context(), opts, args[0], cmd)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesList(cmd.Context(), opts, cmd)
		},
	}
	list.Flags().StringVar(&opts.Scope, "scope", "", "only rules on this scope (alias aware)")
	list.Flags().StringVar(&opts.Status, "status", "", "only rules with this status (draft|published)")

	lock := &cobra.Command{
		Use:   "lock <rule-id>",
		Short: "Take the edit lock on a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts.RootOptions, func(st *store.Store) error {
				r, err := st.LockRule(cmd.Context(), args[0], opts.Editor)
				if err != nil {
					return WrapOpError("failed to lock rule", err)
				}
				return renderRules(opts.output(cmd), []ir.Rule{r})
			})
		},
	}

	unlock := &cobra.Command{
		Use:   "unlock <rule-id>",
		Short: "Release the edit lock on a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts.RootOptions, func(st *store.Store) error {
				if err := st.UnlockRule(cmd.Context(), args[0], opts.Editor, opts.Force); err != nil {
					return WrapOpError("failed to unlock rule", err)
				}
				r, err := st.GetRule(cmd.Context(), args[0])
				if err != nil {
					return WrapOpError("failed to read rule", err)
				}
				return renderRules(opts.output(cmd), []ir.Rule{r})
			})
		},
	}
	unlock.Flags().BoolVar(&opts.Force, "force", false, "release a lock held by another editor")

	publish := &cobra.Command{
		Use:   "publish <rule-id>",
		Short: "Publish a draft rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts.RootOptions, func(st *store.Store) error {
				r, err := st.PublishRule(cmd.Context(), args[0], opts.Editor)
				if err != nil {
					return WrapOpError("failed to publish rule", err)
				}
				return renderRules(opts.output(cmd), []ir.Rule{r})
			})
		},
	}

	cmd.AddCommand(load, list, lock, unlock, publish)
	return cmd
}

func runRulesLoad(ctx context.Context, opts *RulesOptions, dir string, cmd *cobra.Command) error {
	out := opts.output(cmd)
	result, errs := LoadRules(dir, LoadModeCollectAll)
	if len(errs) > 0 {
		details := make([]string, len(errs))
		for i, e := range errs {
			details[i] = e.Error()
		}
		code := ErrCodeRuleField
		if le, ok := errs[0].(*LoadError); ok && len(errs) == 1 {
			code = le.Code
		}
		if err := out.Error(code, fmt.Sprintf("%d rule definition error(s) in %s", len(errs), dir), details); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, "rule definitions invalid")
	}
	out.VerboseLog("loaded %d rule(s) from %d file(s)", len(result.Rules), result.FileCount)

	return withStore(opts.RootOptions, func(st *store.Store) error {
		saved := make([]ir.Rule, 0, len(result.Rules))
		for _, r := range result.Rules {
			s, err := st.SaveRule(ctx, r, opts.Editor)
			if err != nil {
				msg := fmt.Sprintf("failed to save rule %s", r.ID)
				if oerr := out.Error(ErrCodeRuleSave, msg, err.Error()); oerr != nil {
					return oerr
				}
				return WrapOpError(msg, err)
			}
			saved = append(saved, s)
		}
		return renderRules(out, saved)
	})
}

func runRulesList(ctx context.Context, opts *RulesOptions, cmd *cobra.Command) error {
	status := ir.RuleStatus(opts.Status)
	if status != "" && !status.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q: must be draft or published", opts.Status))
	}
	return withStore(opts.RootOptions, func(st *store.Store) error {
		rules, err := st.ListRules(ctx, store.RuleFilter{ScopeID: opts.Scope, Status: status})
		if err != nil {
			return WrapOpError("failed to list rules", err)
		}
		return renderRules(opts.output(cmd), rules)
	})
}

func renderRules(out *OutputFormatter, rules []ir.Rule) error {
	return out.Render(rules, func(w io.Writer) {
		if len(rules) == 0 {
			fmt.Fprintln(w, "No rules.")
			return
		}
		for _, r := range rules {
			lock := ""
			if r.LockedBy != "" {
				lock = " locked by " + r.LockedBy
			}
			fmt.Fprintf(w, "%s v%d %s scope=%s%s\n", r.ID, r.Version, Status(string(r.Status)), r.ScopeID, lock)
			fmt.Fprintf(w, "  filter: %s\n", r.FilterDSL)
			if len(r.ArticleConcepts) > 0 {
				fmt.Fprintf(w, "  article concepts: %s\n", strings.Join(r.ArticleConcepts, ", "))
			}
		}
	})
}

// withStore opens the configured database for the duration of fn.
func withStore(opts *RootOptions, fn func(st *store.Store) error) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}
