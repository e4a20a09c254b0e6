package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/famlink/internal/corpus"
)

// CorpusImport is the output of corpus import.
type CorpusImport struct {
	Path      string `json:"path"`
	Version   string `json:"version"`
	Documents int    `json:"documents"`
	Sections  int    `json:"sections"`
}

// NewCorpusCommand creates the corpus command group.
func NewCorpusCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Manage the read-only corpus index",
	}

	importCmd := &cobra.Command{
		Use:   "import <fixture.json>",
		Short: "Write a JSON corpus fixture into the SQLite corpus index",
		Long: `Write a JSON corpus fixture into the SQLite corpus index at corpus.path
(or --out). Existing rows for the same documents are replaced.

Example:
  famlink corpus import ./corpus.json --out ./corpus.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := corpus.LoadFixture(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read fixture", err)
			}
			path := out
			if path == "" {
				path = rootOpts.Config.Corpus.Path
			}
			if err := corpus.WriteSQLite(cmd.Context(), path, f); err != nil {
				return WrapExitError(ExitCommandError, "failed to write corpus index", err)
			}
			res := CorpusImport{Path: path, Version: f.Version, Documents: len(f.Documents)}
			for _, d := range f.Documents {
				res.Sections += len(d.Sections)
			}
			return rootOpts.output(cmd).Render(res, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %d document(s), %d section(s) into %s (version %s)\n",
					res.Documents, res.Sections, res.Path, res.Version)
			})
		},
	}
	importCmd.Flags().StringVar(&out, "out", "", "corpus index path (default corpus.path)")

	cmd.AddCommand(importCmd)
	return cmd
}
