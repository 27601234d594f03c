// Package cli is the thin external driver spec.md places out of core
// scope: it only parses flags and calls into the core packages
// (workspace, actiongraph, pipeline, query). Grounded in the teacher's
// cmd/turbo + internal/cmdutil.Helper (cobra root command, pflag-bound
// verbosity/color flags, an hclog.Logger built once and threaded down),
// generalised to this module's `.stratum/workspace.yml` + `stratum.yml`
// config instead of turbo.json, and layered with viper/envconfig instead
// of the teacher's hand-rolled env var lookups.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/kelseyhightower/envconfig"
	climod "github.com/mitchellh/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stratum-build/stratum/internal/colorcache"
	"github.com/stratum-build/stratum/internal/ui"
	"github.com/stratum-build/stratum/internal/util"
	"github.com/stratum-build/stratum/internal/workspace"
)

// envOverrides is the shape of STRATUM_-prefixed environment overrides
// layered under explicit flags, per SPEC_FULL.md's ambient-stack
// configuration section.
type envOverrides struct {
	Cwd         string `envconfig:"cwd"`
	Verbosity   int    `envconfig:"verbosity"`
	Concurrency int    `envconfig:"concurrency"`
}

// rootOptions carries the flags every subcommand shares.
type rootOptions struct {
	cwd         string
	verbosity   int
	concurrency int
	failFast    bool
	jsonOutput  bool

	logger hclog.Logger
	out    io.Writer
	ui     climod.Ui
	colors *colorcache.ColorCache
}

// NewRootCommand builds the stratum cobra command tree.
func NewRootCommand() *cobra.Command {
	util.InitPrintf()
	opts := &rootOptions{out: os.Stdout, ui: ui.Default(), colors: colorcache.New()}

	root := &cobra.Command{
		Use:           "stratum",
		Short:         "A content-addressed, dependency-aware task runner",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cwd, "cwd", "", "directory to treat as the workspace root (default: current directory)")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity (-v, -vv)")
	opts.concurrency = 10
	flags.Var(&util.ConcurrencyValue{Value: &opts.concurrency}, "concurrency", "maximum concurrent actions per batch: a positive integer, or a percentage of CPU cores (e.g. 50%)")
	flags.BoolVar(&opts.failFast, "fail-fast", false, "abort remaining batches on first failure")
	flags.BoolVar(&opts.jsonOutput, "json", false, "emit machine-readable JSON output")

	root.AddCommand(newQueryCommand(opts))
	root.AddCommand(newRunCommand(opts))

	return root
}

// resolve layers STRATUM_* environment overrides (read via envconfig)
// under whatever the user passed on the command line: an env value is
// applied only where the matching flag was left unset, so flags always
// win. The cwd fallback is read through a viper instance local to this
// call (nothing is stored for subcommands to read back), and the run's
// single hclog.Logger is built last.
func (o *rootOptions) resolve(cmd *cobra.Command) error {
	var env envOverrides
	if err := envconfig.Process("stratum", &env); err != nil {
		return fmt.Errorf("reading STRATUM_* environment overrides: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("STRATUM")
	v.AutomaticEnv()
	v.SetDefault("cwd", env.Cwd)
	v.SetDefault("concurrency", firstNonZero(env.Concurrency, 10))

	if o.cwd == "" {
		o.cwd = v.GetString("cwd")
	}
	if o.cwd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		o.cwd = cwd
	}
	if o.verbosity == 0 && env.Verbosity > 0 {
		o.verbosity = env.Verbosity
	}
	if !cmd.Flags().Changed("concurrency") && env.Concurrency > 0 {
		o.concurrency = env.Concurrency
	}

	o.logger = buildLogger(o.verbosity)
	return nil
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func buildLogger(verbosity int) hclog.Logger {
	level := hclog.NoLevel
	switch {
	case verbosity >= 3:
		level = hclog.Trace
	case verbosity == 2:
		level = hclog.Debug
	case verbosity == 1:
		level = hclog.Info
	}
	output := io.Discard
	color := hclog.ColorOff
	if level != hclog.NoLevel {
		output = os.Stderr
		color = hclog.AutoColor
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "stratum",
		Level:  level,
		Color:  color,
		Output: output,
	})
}

func (o *rootOptions) loadWorkspace() (*workspace.Workspace, error) {
	return workspace.Load(o.cwd)
}
