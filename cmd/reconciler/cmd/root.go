package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"commission-reconciliation-service/cmd/reconciler/config"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// cli holds the state shared by one command tree
type cli struct {
	cfgFile  string
	verbose  bool
	viper    *viper.Viper
	settings *config.Settings
}

// newRootCmd builds the command tree
func newRootCmd() *cobra.Command {
	c := &cli{viper: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Commission statement to bank cash reconciliation",
		Long: `Reconciler matches carrier commission statement lines against bank
deposits, tracks the exceptions left for review, and produces the accruals,
producer payouts and journal entries of the month-end close.

All state lives in one SQLite file (--db or store.path). Settings are read
from --config, then RECONCILER_* environment variables, then flags.

Examples:
  reconciler ingest --statements statement_lines.csv --bank bank_feed.csv --expected expected.csv
  reconciler run
  reconciler exceptions list --status open
  reconciler exceptions resolve L-0002 --action manual_link
  reconciler export journal.csv --file journal.csv
  reconciler reconcile --statements s.csv --bank b.csv --expected e.csv --auto-resolve --progress
  reconciler serve --addr :8080`,
		Version:           getVersionString(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initSettings,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.String("db", "", "path to the SQLite record store")
	flags.StringP("output", "o", "", "output format: table, json")
	flags.String("actor", "", "actor recorded on audit events")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	c.viper.BindPFlag("store.path", flags.Lookup("db"))
	c.viper.BindPFlag("output.format", flags.Lookup("output"))
	c.viper.BindPFlag("actor", flags.Lookup("actor"))
	c.viper.BindPFlag("log.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(
		newIngestCmd(c),
		newRunCmd(c),
		newRunsCmd(c),
		newResultsCmd(c),
		newCompareCmd(c),
		newExceptionsCmd(c),
		newRulesCmd(c),
		newSplitsCmd(c),
		newAdjustmentsCmd(c),
		newNettingCmd(c),
		newAccrualsCmd(c),
		newJournalCmd(c),
		newAuditCmd(c),
		newExportCmd(c),
		newAgingCmd(c),
		newScorecardCmd(c),
		newRevenueCmd(c),
		newBankCmd(c),
		newCloseStatusCmd(c),
		newLineCmd(c),
		newReconcileCmd(c),
		newServeCmd(c),
		newVersionCmd(),
	)
	return rootCmd
}

// initSettings reads the config file, loads the settings and configures logging
func (c *cli) initSettings(cmd *cobra.Command, args []string) error {
	if c.cfgFile != "" {
		c.viper.SetConfigFile(c.cfgFile)
		if err := c.viper.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", c.cfgFile, err).
				WithSuggestion("Check the config file path and syntax")
		}
	}
	if c.verbose {
		c.viper.Set("log.level", string(logger.DebugLevel))
	}

	settings, err := config.Load(c.viper)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "settings", err.Error(), err)
	}
	if err := logger.Configure(settings.LoggerConfig()); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", settings.Log.Level, err)
	}
	c.settings = settings

	if c.cfgFile != "" {
		logger.GetGlobalLogger().WithField("config", c.viper.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	return NewCLIErrorHandler(stderr, rootCmd.Flag("verbose").Changed).HandleError(err)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// version needs no settings or store
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "reconciler %s\n", getVersionString())
			return nil
		},
	}
}
