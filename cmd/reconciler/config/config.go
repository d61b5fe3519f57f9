// Package config turns viper settings into the configuration of each component.
//
// Settings come from defaults, an optional config file and RECONCILER_ env
// variables, in increasing precedence. Nested keys map to env names with
// underscores, so store.path is read from RECONCILER_STORE_PATH.
package config

import (
	"fmt"
	"strings"

	"commission-reconciliation-service/internal/api"
	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the CLI
const EnvPrefix = "RECONCILER"

// Settings is the full set of CLI settings
type Settings struct {
	Actor      string             `mapstructure:"actor"`
	Data       DataSettings       `mapstructure:"data"`
	Store      store.Config       `mapstructure:"store"`
	Log        logger.Config      `mapstructure:"log"`
	Server     api.Config         `mapstructure:"server"`
	Matching   MatchingSettings   `mapstructure:"matching"`
	Reconciler ReconcilerSettings `mapstructure:"reconciler"`
	Output     OutputSettings     `mapstructure:"output"`
}

// DataSettings names the three input files read by ingest
type DataSettings struct {
	Statements string `mapstructure:"statements"`
	Bank       string `mapstructure:"bank"`
	Expected   string `mapstructure:"expected"`
}

// MatchingSettings mirrors matcher.Config with amounts kept as decimal strings
type MatchingSettings struct {
	Weights                      matcher.Weights `mapstructure:"weights"`
	ExactAmountTolerance         string          `mapstructure:"exact_amount_tolerance"`
	NearAmountTolerance          string          `mapstructure:"near_amount_tolerance"`
	NearDateDays                 int             `mapstructure:"near_date_days"`
	SoftDateDays                 int             `mapstructure:"soft_date_days"`
	DeterministicAmountTolerance string          `mapstructure:"deterministic_amount_tolerance"`
	DeterministicWindowDays      int             `mapstructure:"deterministic_window_days"`
	DeterministicBaseScore       float64         `mapstructure:"deterministic_base_score"`
	NameSimilarityMin            float64         `mapstructure:"name_similarity_min"`
	AutoMatchThreshold           float64         `mapstructure:"auto_match_threshold"`
	ReviewThreshold              float64         `mapstructure:"review_threshold"`
	PolicyPattern                string          `mapstructure:"policy_pattern"`
}

// ReconcilerSettings holds the service limits and CSV options
type ReconcilerSettings struct {
	BackgroundResolveLimit int    `mapstructure:"background_resolve_limit"`
	MaxBackgroundResolve   int    `mapstructure:"max_background_resolve"`
	RunListLimit           int    `mapstructure:"run_list_limit"`
	Delimiter              string `mapstructure:"delimiter"`
	MaxFieldSize           int    `mapstructure:"max_field_size"`
	MaxErrors              int    `mapstructure:"max_errors"`
	ValidateEncoding       bool   `mapstructure:"validate_encoding"`
}

// OutputSettings controls how command results are printed
type OutputSettings struct {
	Format      string `mapstructure:"format"`
	MaxItems    int    `mapstructure:"max_items"`
	ShowFactors bool   `mapstructure:"show_factors"`
}

// SetDefaults registers the default of every setting on v. Env variables are
// only consulted for keys viper knows about, so every key gets a default.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("actor", reconciler.DefaultConfig().Actor)

	v.SetDefault("data.statements", "")
	v.SetDefault("data.bank", "")
	v.SetDefault("data.expected", "")

	st := store.DefaultConfig()
	v.SetDefault("store.path", st.Path)
	v.SetDefault("store.busy_timeout", st.BusyTimeout)
	v.SetDefault("store.slow_threshold", st.SlowThreshold)
	v.SetDefault("store.log_queries", st.LogQueries)

	log := logger.DefaultConfig()
	v.SetDefault("log.level", string(log.Level))
	v.SetDefault("log.format", string(log.Format))
	v.SetDefault("log.output", string(log.Output))
	v.SetDefault("log.file", "")
	v.SetDefault("log.disable_timestamp", false)
	v.SetDefault("log.caller_info", false)

	srv := api.DefaultConfig()
	v.SetDefault("server.addr", srv.Addr)
	v.SetDefault("server.allowed_origins", srv.AllowedOrigins)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.request_timeout", srv.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", srv.MaxBodyBytes)

	m := matcher.DefaultConfig()
	v.SetDefault("matching.weights.policy_in_memo", m.Weights.PolicyInMemo)
	v.SetDefault("matching.weights.exact_amount", m.Weights.ExactAmount)
	v.SetDefault("matching.weights.near_amount", m.Weights.NearAmount)
	v.SetDefault("matching.weights.near_date", m.Weights.NearDate)
	v.SetDefault("matching.weights.soft_date", m.Weights.SoftDate)
	v.SetDefault("matching.weights.carrier_match", m.Weights.CarrierMatch)
	v.SetDefault("matching.weights.name_hint", m.Weights.NameHint)
	v.SetDefault("matching.weights.policy_rule_override", m.Weights.PolicyRuleOverride)
	v.SetDefault("matching.exact_amount_tolerance", m.ExactAmountTolerance.String())
	v.SetDefault("matching.near_amount_tolerance", m.NearAmountTolerance.String())
	v.SetDefault("matching.near_date_days", m.NearDateDays)
	v.SetDefault("matching.soft_date_days", m.SoftDateDays)
	v.SetDefault("matching.deterministic_amount_tolerance", m.DeterministicAmountTolerance.String())
	v.SetDefault("matching.deterministic_window_days", m.DeterministicWindowDays)
	v.SetDefault("matching.deterministic_base_score", m.DeterministicBaseScore)
	v.SetDefault("matching.name_similarity_min", m.NameSimilarityMin)
	v.SetDefault("matching.auto_match_threshold", m.AutoMatchThreshold)
	v.SetDefault("matching.review_threshold", m.ReviewThreshold)
	v.SetDefault("matching.policy_pattern", m.PolicyPattern)

	rc := reconciler.DefaultConfig()
	v.SetDefault("reconciler.background_resolve_limit", rc.BackgroundResolveLimit)
	v.SetDefault("reconciler.max_background_resolve", rc.MaxBackgroundResolve)
	v.SetDefault("reconciler.run_list_limit", rc.RunListLimit)
	v.SetDefault("reconciler.delimiter", string(rc.Parse.Delimiter))
	v.SetDefault("reconciler.max_field_size", rc.Parse.MaxFieldSize)
	v.SetDefault("reconciler.max_errors", rc.Parse.MaxErrors)
	v.SetDefault("reconciler.validate_encoding", rc.Parse.ValidateEncoding)

	out := reporter.DefaultReportConfig()
	v.SetDefault("output.format", string(out.Format))
	v.SetDefault("output.max_items", out.MaxItems)
	v.SetDefault("output.show_factors", out.ShowFactors)
}

// NewViper returns a viper instance with defaults and env binding in place
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load decodes and validates the settings held by v
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every component configuration derived from the settings
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Actor) == "" {
		return fmt.Errorf("actor cannot be empty")
	}
	if err := s.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := s.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := s.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	m, err := s.MatchingConfig()
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	rc, err := s.ReconcilerConfig()
	if err != nil {
		return err
	}
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}
	if err := s.ReportConfig().Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// MatchingConfig builds the engine configuration
func (s *Settings) MatchingConfig() (matcher.Config, error) {
	m := s.Matching
	config := matcher.Config{
		Weights:                 m.Weights,
		NearDateDays:            m.NearDateDays,
		SoftDateDays:            m.SoftDateDays,
		DeterministicWindowDays: m.DeterministicWindowDays,
		DeterministicBaseScore:  m.DeterministicBaseScore,
		NameSimilarityMin:       m.NameSimilarityMin,
		AutoMatchThreshold:      m.AutoMatchThreshold,
		ReviewThreshold:         m.ReviewThreshold,
		PolicyPattern:           m.PolicyPattern,
	}

	amounts := []struct {
		key   string
		value string
		dst   *decimal.Decimal
	}{
		{"matching.exact_amount_tolerance", m.ExactAmountTolerance, &config.ExactAmountTolerance},
		{"matching.near_amount_tolerance", m.NearAmountTolerance, &config.NearAmountTolerance},
		{"matching.deterministic_amount_tolerance", m.DeterministicAmountTolerance, &config.DeterministicAmountTolerance},
	}
	for _, a := range amounts {
		d, err := decimal.NewFromString(strings.TrimSpace(a.value))
		if err != nil {
			return config, fmt.Errorf("%s: invalid amount %q: %w", a.key, a.value, err)
		}
		*a.dst = d
	}
	return config, nil
}

// StoreConfig returns the record store configuration
func (s *Settings) StoreConfig() store.Config {
	return s.Store
}

// LoggerConfig returns the logger configuration
func (s *Settings) LoggerConfig() *logger.Config {
	config := s.Log
	return &config
}

// ServerConfig returns the HTTP server configuration
func (s *Settings) ServerConfig() *api.Config {
	config := s.Server
	return &config
}

// ReconcilerConfig builds the service configuration
func (s *Settings) ReconcilerConfig() (*reconciler.Config, error) {
	config := reconciler.DefaultConfig()
	config.Actor = s.Actor
	config.BackgroundResolveLimit = s.Reconciler.BackgroundResolveLimit
	config.MaxBackgroundResolve = s.Reconciler.MaxBackgroundResolve
	config.RunListLimit = s.Reconciler.RunListLimit

	delimiter := []rune(s.Reconciler.Delimiter)
	if len(delimiter) != 1 {
		return nil, fmt.Errorf("reconciler.delimiter must be a single character, got %q", s.Reconciler.Delimiter)
	}
	config.Parse.Delimiter = delimiter[0]
	config.Parse.MaxFieldSize = s.Reconciler.MaxFieldSize
	config.Parse.MaxErrors = s.Reconciler.MaxErrors
	config.Parse.ValidateEncoding = s.Reconciler.ValidateEncoding
	return config, nil
}

// ReportConfig returns the output configuration
func (s *Settings) ReportConfig() *reporter.ReportConfig {
	return &reporter.ReportConfig{
		Format:      reporter.OutputFormat(s.Output.Format),
		MaxItems:    s.Output.MaxItems,
		ShowFactors: s.Output.ShowFactors,
	}
}
