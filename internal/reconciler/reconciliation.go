// Package reconciler is the application service of the commission
// reconciliation system. It exposes one method per externally triggered
// operation: ingesting inputs, creating match runs, working the exception
// queue, maintaining policy and split rules, adjustments and the derived
// accounting read models.
//
// Every write runs as one store transaction: the full effect of an operation,
// including its audit events, commits together or not at all. Match runs are
// computed entirely in memory before the transaction that records them opens.
//
// Example usage:
//
//	st, _ := store.Open(store.DefaultConfig())
//	engine, _ := matcher.NewEngine(matcher.DefaultConfig())
//	service, _ := reconciler.NewService(st, engine, reconciler.DefaultConfig())
//
//	_, err := service.Ingest(ctx, reconciler.IngestRequest{Statements: "statements.csv", Bank: "bank.csv", Expected: "expected.csv"})
//	run, err := service.CreateRun(ctx, reconciler.RunRequest{Actor: "ops"})
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"commission-reconciliation-service/internal/audit"
	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/parsers"
	"commission-reconciliation-service/internal/recon"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Config holds configuration options for the reconciliation service
type Config struct {
	// Actor is recorded on audit events when a request names none
	Actor string `json:"actor"`

	// BackgroundResolveLimit is how many exceptions one auto-resolve handles by default
	BackgroundResolveLimit int `json:"background_resolve_limit"`

	// MaxBackgroundResolve caps the limit a caller may request
	MaxBackgroundResolve int `json:"max_background_resolve"`

	// RunListLimit bounds run listings when the caller passes no limit
	RunListLimit int `json:"run_list_limit"`

	Parse         *parsers.ParseConfig `json:"parse"`
	Preprocessing *PreprocessingConfig `json:"preprocessing"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Actor:                  audit.DefaultActor,
		BackgroundResolveLimit: 10,
		MaxBackgroundResolve:   500,
		RunListLimit:           50,
		Parse:                  parsers.DefaultParseConfig(),
		Preprocessing:          DefaultPreprocessingConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Actor) == "" {
		return fmt.Errorf("actor cannot be empty")
	}
	if c.BackgroundResolveLimit <= 0 {
		return fmt.Errorf("background resolve limit must be positive, got %d", c.BackgroundResolveLimit)
	}
	if c.MaxBackgroundResolve < c.BackgroundResolveLimit {
		return fmt.Errorf("max background resolve (%d) cannot be below the default limit (%d)",
			c.MaxBackgroundResolve, c.BackgroundResolveLimit)
	}
	if c.RunListLimit < 0 {
		return fmt.Errorf("run list limit cannot be negative, got %d", c.RunListLimit)
	}
	if c.Parse != nil {
		if err := c.Parse.Validate(); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

// Service runs every reconciliation operation against one store
type Service struct {
	store        *store.Store
	engine       *matcher.Engine
	loader       *parsers.Loader
	preprocessor *DataPreprocessor
	validate     *validator.Validate
	config       *Config
	logger       logger.Logger
	now          func() time.Time
}

// NewService creates a service over st using engine for match runs
func NewService(st *store.Store, engine *matcher.Engine, config *Config) (*Service, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil).
			WithSuggestion("Open the record store before creating the service")
	}
	if engine == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "matching_engine", nil, nil).
			WithSuggestion("Provide a matching engine built from a valid matching config")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config, err)
	}

	log := logger.GetGlobalLogger().WithComponent("reconciler")
	log.WithFields(logger.Fields{
		"store":  st.Path(),
		"actor":  config.Actor,
		"config": engine.Config().String(),
	}).Debug("Reconciliation service created")

	return &Service{
		store:        st,
		engine:       engine,
		loader:       parsers.NewLoader(config.Parse),
		preprocessor: NewDataPreprocessor(config.Preprocessing),
		validate:     validator.New(),
		config:       config,
		logger:       log,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock replaces the service clock
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// MatchingConfig returns the configuration of the matching engine
func (s *Service) MatchingConfig() matcher.Config {
	return s.engine.Config()
}

// recorder returns an audit recorder for actor, falling back to the configured actor
func (s *Service) recorder(actor string) audit.Recorder {
	return audit.Recorder{Actor: s.config.Actor, Now: s.now}.As(strings.TrimSpace(actor))
}

// appendEvent builds one event and appends it inside tx
func appendEvent(tx *store.Tx, rec audit.Recorder, eventType, entityType, entityID, action string, before, after interface{}) error {
	event, err := rec.Event(eventType, entityType, entityID, action, before, after)
	if err != nil {
		return err
	}
	return tx.AppendAudit(event)
}

// runOrLatest returns the named run, or the most recent one when runID is empty
func runOrLatest(tx *store.Tx, runID string) (*models.MatchRun, error) {
	if strings.TrimSpace(runID) == "" {
		return tx.LatestRun()
	}
	return tx.Run(runID)
}

// loadView builds the reconciled line view of a run inside tx
func loadView(tx *store.Tx, runID string) (*recon.View, error) {
	run, err := runOrLatest(tx, runID)
	if err != nil {
		return nil, err
	}
	lines, err := tx.StatementLines()
	if err != nil {
		return nil, err
	}
	txns, err := tx.BankTransactions()
	if err != nil {
		return nil, err
	}
	expected, err := tx.Expected()
	if err != nil {
		return nil, err
	}
	results, err := tx.Results(run.RunID, models.ResultFilter{})
	if err != nil {
		return nil, err
	}
	exceptions, err := tx.Exceptions(models.ExceptionFilter{RunID: run.RunID})
	if err != nil {
		return nil, err
	}
	return recon.Build(recon.Input{
		Run:        *run,
		Lines:      lines,
		BankTxns:   txns,
		Expected:   expected,
		Results:    results,
		Exceptions: exceptions,
	}), nil
}

// View returns the reconciled line view of a run; an empty runID selects the latest run
func (s *Service) View(ctx context.Context, runID string) (*recon.View, error) {
	var view *recon.View
	err := s.store.Read(ctx, "load reconciled view", func(tx *store.Tx) error {
		var err error
		view, err = loadView(tx, runID)
		return err
	})
	return view, err
}

// newID returns a short unique identifier with prefix, such as SR-1A2B3C4D
func newID(prefix string) string {
	hex := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return fmt.Sprintf("%s-%s", prefix, hex[:8])
}
