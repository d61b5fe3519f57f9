package cmd

import (
	"context"
	"io"

	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
)

// app is the service stack one command runs against
type app struct {
	cli     *cli
	store   *store.Store
	service *reconciler.Service
	output  *reporter.SafeReportGenerator
	stdout  io.Writer
	stderr  io.Writer
	logger  logger.Logger
}

// openApp opens the record store and builds the service from the loaded settings
func (c *cli) openApp(cmd *cobra.Command) (*app, error) {
	if c.settings == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "settings", nil, nil)
	}
	log := logger.GetGlobalLogger().WithComponent("cli")

	matching, err := c.settings.MatchingConfig()
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", nil, err)
	}
	engine, err := matcher.NewEngine(matching)
	if err != nil {
		return nil, err
	}
	serviceConfig, err := c.settings.ReconcilerConfig()
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}
	output, err := reporter.NewSafeReportGenerator(c.settings.ReportConfig(), log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(c.settings.StoreConfig())
	if err != nil {
		return nil, err
	}
	service, err := reconciler.NewService(st, engine, serviceConfig)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cli:     c,
		store:   st,
		service: service,
		output:  output,
		stdout:  cmd.OutOrStdout(),
		stderr:  cmd.ErrOrStderr(),
		logger:  log,
	}, nil
}

// Close releases the record store
func (a *app) Close() error {
	return a.store.Close()
}

// render prints value in the configured output format
func (a *app) render(value interface{}) error {
	return a.output.RenderSafely(value, a.stdout)
}

// jsonOutput reports whether structured output was requested
func (a *app) jsonOutput() bool {
	return a.output.Format() == reporter.FormatJSON
}

// actor returns the actor for audit events: the flag or setting, else the service default
func (a *app) actor() string {
	return a.cli.settings.Actor
}

// withApp adapts fn into a cobra RunE that opens and closes the service stack
func (c *cli) withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := c.openApp(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := a.Close(); closeErr != nil {
				a.logger.WithError(closeErr).Warn("Failed to close record store")
			}
		}()
		return fn(cmd.Context(), a, args)
	}
}
