package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if settings.Actor != "system" {
		t.Errorf("expected default actor 'system', got '%s'", settings.Actor)
	}
	if settings.Store.Path != "reconciler.db" {
		t.Errorf("expected default store path, got '%s'", settings.Store.Path)
	}
	if settings.Store.BusyTimeout != 5*time.Second {
		t.Errorf("expected busy timeout 5s, got %s", settings.Store.BusyTimeout)
	}
	if settings.Log.Level != logger.InfoLevel || settings.Log.Output != logger.StderrOutput {
		t.Errorf("unexpected log config %+v", settings.Log)
	}
	if settings.Server.Addr != ":8080" || len(settings.Server.AllowedOrigins) != 1 {
		t.Errorf("unexpected server config %+v", settings.Server)
	}

	m, err := settings.MatchingConfig()
	if err != nil {
		t.Fatalf("MatchingConfig() error = %v", err)
	}
	def := matcher.DefaultConfig()
	if m.Weights != def.Weights {
		t.Errorf("expected default weights %+v, got %+v", def.Weights, m.Weights)
	}
	if !m.NearAmountTolerance.Equal(def.NearAmountTolerance) || !m.ExactAmountTolerance.Equal(def.ExactAmountTolerance) {
		t.Errorf("unexpected amount tolerances %s / %s", m.ExactAmountTolerance, m.NearAmountTolerance)
	}
	if m.AutoMatchThreshold != def.AutoMatchThreshold || m.ReviewThreshold != def.ReviewThreshold {
		t.Errorf("unexpected thresholds %f / %f", m.AutoMatchThreshold, m.ReviewThreshold)
	}

	rc, err := settings.ReconcilerConfig()
	if err != nil {
		t.Fatalf("ReconcilerConfig() error = %v", err)
	}
	if rc.Parse.Delimiter != ',' || rc.BackgroundResolveLimit != 10 {
		t.Errorf("unexpected reconciler config %+v", rc)
	}
	if settings.ReportConfig().Format != reporter.FormatTable {
		t.Errorf("expected table output, got %s", settings.ReportConfig().Format)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciler.yaml")
	content := `actor: month-end
data:
  statements: in/statement_lines.csv
store:
  path: /var/lib/reconciler/close.db
  busy_timeout: 10s
matching:
  near_amount_tolerance: "5.00"
  auto_match_threshold: 0.85
  weights:
    name_hint: 0.2
server:
  addr: 127.0.0.1:9090
  allowed_origins: ["https://ops.example.com"]
output:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	settings, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if settings.Actor != "month-end" || settings.Data.Statements != "in/statement_lines.csv" {
		t.Errorf("unexpected settings %+v", settings)
	}
	if settings.Store.Path != "/var/lib/reconciler/close.db" || settings.Store.BusyTimeout != 10*time.Second {
		t.Errorf("unexpected store config %+v", settings.Store)
	}
	if settings.Server.Addr != "127.0.0.1:9090" || settings.Server.AllowedOrigins[0] != "https://ops.example.com" {
		t.Errorf("unexpected server config %+v", settings.Server)
	}

	m, err := settings.MatchingConfig()
	if err != nil {
		t.Fatalf("MatchingConfig() error = %v", err)
	}
	if !m.NearAmountTolerance.Equal(decimal.RequireFromString("5")) {
		t.Errorf("expected near tolerance 5, got %s", m.NearAmountTolerance)
	}
	if m.AutoMatchThreshold != 0.85 || m.Weights.NameHint != 0.2 {
		t.Errorf("unexpected matching overrides %+v", m)
	}
	if m.Weights.PolicyInMemo != matcher.DefaultConfig().Weights.PolicyInMemo {
		t.Errorf("weights not named in the file should keep their defaults, got %f", m.Weights.PolicyInMemo)
	}
	if settings.ReportConfig().Format != reporter.FormatJSON {
		t.Errorf("expected json output, got %s", settings.ReportConfig().Format)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("RECONCILER_STORE_PATH", "/tmp/env.db")
	t.Setenv("RECONCILER_MATCHING_REVIEW_THRESHOLD", "0.5")
	t.Setenv("RECONCILER_ACTOR", "cron")

	settings, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if settings.Store.Path != "/tmp/env.db" {
		t.Errorf("expected store path from env, got '%s'", settings.Store.Path)
	}
	if settings.Matching.ReviewThreshold != 0.5 {
		t.Errorf("expected review threshold from env, got %f", settings.Matching.ReviewThreshold)
	}
	if settings.Actor != "cron" {
		t.Errorf("expected actor from env, got '%s'", settings.Actor)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
	}{
		{"empty actor", "actor", " "},
		{"empty store path", "store.path", ""},
		{"in-memory store", "store.path", ":memory:"},
		{"bad log level", "log.level", "verbose"},
		{"file output without file", "log.output", "file"},
		{"bad amount tolerance", "matching.near_amount_tolerance", "lots"},
		{"review above auto", "matching.review_threshold", 0.95},
		{"weight above one", "matching.weights.name_hint", 1.5},
		{"bad policy pattern", "matching.policy_pattern", "([A-Z"},
		{"multi-character delimiter", "reconciler.delimiter", ";;"},
		{"resolve limit above max", "reconciler.background_resolve_limit", 1000},
		{"bad output format", "output.format", "xml"},
		{"empty server address", "server.addr", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewViper()
			v.Set(tt.key, tt.val)
			if _, err := Load(v); err == nil {
				t.Errorf("expected %s=%v to be rejected", tt.key, tt.val)
			}
		})
	}
}
