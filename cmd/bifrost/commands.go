package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rafaeljc/bifrost/internal/app"
	"github.com/rafaeljc/bifrost/internal/builder"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/datafile"
	"github.com/rafaeljc/bifrost/internal/definitions"
	"github.com/rafaeljc/bifrost/internal/logger"
)

// cli carries the loaded configuration and flag values between commands.
type cli struct {
	cfg *config.Config
	log *slog.Logger

	definitionsDir string
	outputDir      string
	stateDir       string
	stateBackend   string
	environments   []string
	tags           []string
	concurrency    int
	publish        bool

	only    []string
	asJSON  bool
	envName string
	tagName string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "bifrost",
		Short:         "Compile feature definitions into traffic-allocated datafiles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.definitionsDir, "definitions", "", "definitions directory (BIFROST_BUILD_DEFINITIONS_DIR)")
	flags.StringVar(&c.outputDir, "output", "", "datafile output directory (BIFROST_BUILD_OUTPUT_DIR)")
	flags.StringVar(&c.stateDir, "state-dir", "", "state directory for the file backend (BIFROST_BUILD_STATE_DIR)")
	flags.StringVar(&c.stateBackend, "state-backend", "", "state backend: file, postgres or redis (BIFROST_BUILD_STATE_BACKEND)")
	flags.StringSliceVar(&c.environments, "environments", nil, "known environments (BIFROST_BUILD_ENVIRONMENTS)")
	flags.StringSliceVar(&c.tags, "tags", nil, "datafile tags (BIFROST_BUILD_TAGS)")
	flags.IntVar(&c.concurrency, "concurrency", 0, "features compiled in parallel (BIFROST_BUILD_CONCURRENCY)")
	flags.BoolVar(&c.publish, "publish", false, "publish datafiles to Redis (BIFROST_BUILD_PUBLISH)")

	root.AddCommand(c.buildCmd(), c.lintCmd(), c.explainCmd())
	return root
}

// load reads the environment, applies explicitly set flags and validates the result.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("definitions") {
		cfg.Build.DefinitionsDir = c.definitionsDir
	}
	if flags.Changed("output") {
		cfg.Build.OutputDir = c.outputDir
	}
	if flags.Changed("state-dir") {
		cfg.Build.StateDir = c.stateDir
	}
	if flags.Changed("state-backend") {
		cfg.Build.StateBackend = c.stateBackend
	}
	if flags.Changed("environments") {
		cfg.Build.Environments = c.environments
	}
	if flags.Changed("tags") {
		cfg.Build.Tags = c.tags
	}
	if flags.Changed("concurrency") {
		cfg.Build.Concurrency = c.concurrency
	}
	if flags.Changed("publish") {
		cfg.Build.Publish = c.publish
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	c.cfg = cfg
	c.log = logger.New(&cfg.App)
	return nil
}

func (c *cli) buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile definitions, save state and write datafiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			infra, err := app.Open(ctx, c.cfg, c.log, false)
			if err != nil {
				return err
			}
			defer infra.Close()

			res, err := infra.Builder().Build(ctx, builder.Options{Environments: c.only})
			if err != nil {
				printLintProblems(cmd.ErrOrStderr(), err)
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return printBuild(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringSliceVar(&c.only, "env", nil, "build only these environments")
	cmd.Flags().BoolVar(&c.asJSON, "json", false, "print the full build result as JSON")
	return cmd
}

func (c *cli) lintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Check definitions without compiling them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := definitions.NewLoader(c.cfg.Build.DefinitionsDir, c.log).Load(cmd.Context())
			if err != nil {
				return err
			}
			if err := definitions.Lint(project, c.cfg.Build.Environments); err != nil {
				printLintProblems(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d features, %d groups, %d segments\n",
				len(project.Features), len(project.Groups), len(project.Segments))
			return nil
		},
	}
}

func (c *cli) explainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <feature> <bucket-key>",
		Short: "Show where a bucket key lands in a written datafile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			df, err := datafile.Read(c.cfg.Build.OutputDir, c.envName, c.tagName)
			if err != nil {
				return err
			}
			explanation, err := df.Explain(args[0], args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), explanation)
		},
	}
	cmd.Flags().StringVar(&c.envName, "env", "production", "environment of the datafile")
	cmd.Flags().StringVar(&c.tagName, "tag", definitions.TagAll, "tag of the datafile")
	return cmd
}

// printBuild renders one line per environment.
func printBuild(w io.Writer, res *builder.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "build %s (source %s) in %s\n", res.BuildID, res.Source, res.Duration)
	fmt.Fprintln(tw, "ENVIRONMENT\tREVISION\tCHANGED\tRULES\tREBUCKETED\tDATAFILES")
	for _, env := range res.Environments {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%d\t%d\t%d\n",
			env.Environment, env.Revision, env.Changed, len(env.Decisions), env.Rebucketed(), len(env.Datafiles))
	}
	return tw.Flush()
}

// printLintProblems lists every lint problem on its own line.
func printLintProblems(w io.Writer, err error) {
	var lintErr *definitions.LintError
	if !errors.As(err, &lintErr) {
		fmt.Fprintln(w, "error:", err)
		return
	}
	for _, p := range lintErr.Problems() {
		fmt.Fprintln(w, "  -", p)
	}
	fmt.Fprintf(w, "%d problem(s) found\n", len(lintErr.Problems()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
