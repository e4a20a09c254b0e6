package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/famlink/internal/commit"
	"github.com/roach88/famlink/internal/config"
	"github.com/roach88/famlink/internal/store"
)

// RootOptions holds global flags for all commands, plus the configuration
// they resolve to.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DBPath     string

	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the famlink CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "famlink",
		Short: "famlink - family link commit and job worker",
		Long: `Annotate corpus sections with ontology families.

Rules are previewed into reviewable candidate sets, applied under a
content hash, and committed as versioned, undoable links. Long running
work runs as durable jobs drained by a single worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file (default $"+config.EnvConfigPath+")")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to SQLite database (overrides db.path)")

	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewJobCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewAliasCommand(opts))
	cmd.AddCommand(NewLinkCommand(opts))
	cmd.AddCommand(NewPreviewCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))
	cmd.AddCommand(NewRedoCommand(opts))
	cmd.AddCommand(NewCorpusCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load resolves configuration and installs the process logger.
func (o *RootOptions) load(logOut io.Writer) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.DBPath != "" {
		cfg.DB.Path = o.DBPath
	}
	o.Config = cfg

	level := cfg.Log.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(logOut, handlerOpts)
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(logOut, handlerOpts)
	}
	o.Logger = slog.New(handler)
	slog.SetDefault(o.Logger)
	return nil
}

func (o *RootOptions) openStore() (*store.Store, error) {
	st, err := store.Open(o.Config.DB.Path, store.WithMaxPending(o.Config.Queue.MaxPending))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// reviewProtocol returns a protocol for verdict commands, which never scan
// the corpus.
func (o *RootOptions) reviewProtocol(st *store.Store) *commit.Protocol {
	return commit.New(st, nil, nil,
		commit.WithTTL(o.Config.Preview.TTL),
		commit.WithLineageDefaults(o.Config.Lineage),
		commit.WithLogger(o.Logger),
	)
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
