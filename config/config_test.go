package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Setenv("DIALPAD_API_TOKEN", "dp-secret-1234")
	t.Setenv("LOANPASS_API_TOKEN", "lp-secret-5678")
	t.Setenv("LOANPASS_PRICING_PROFILE_ID", "profile-1")

	config, err := Load("config.example.yaml")
	if err != nil {
		t.Fatal(err)
	}

	if got, want := config.DatabasePath, "./syncer.db"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if got, want := config.Dialpad.Lookback, 2*time.Hour; got != want {
		t.Errorf("lookback got %v want %v", got, want)
	}
	if got, want := config.Dialpad.TranscriptLookback, 20*time.Minute; got != want {
		t.Errorf("transcript lookback got %v want %v", got, want)
	}
	if got, want := config.RateLimit.Window, time.Minute; got != want {
		t.Errorf("rate limit window got %v want %v", got, want)
	}
	if config.Dialpad.Token == nil || config.Dialpad.Token.Token.AccessToken != "dp-secret-1234" {
		t.Errorf("dialpad token not expanded from the environment")
	}
	if got, want := config.LoanPASS.PricingProfileID, "profile-1"; got != want {
		t.Errorf("pricing profile got %s want %s", got, want)
	}
	if got, want := config.Archive.Options().Dir, "./archive"; got != want {
		t.Errorf("archive dir got %s want %s", got, want)
	}
}

func TestConfigMissingTokens(t *testing.T) {
	t.Setenv("DIALPAD_API_TOKEN", "")
	t.Setenv("LOANPASS_API_TOKEN", "")

	config, err := Load("config.example.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if config.Dialpad.Token != nil || config.LoanPASS.Token != nil {
		t.Error("unset tokens should be nil")
	}
}

func TestConfigValidation(t *testing.T) {
	base := `
database_path: ./x.db
dialpad:
  base_url: https://dialpad.example
loanpass:
  base_url: https://loanpass.example
`
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "defaults", yaml: base},
		{name: "no database", yaml: "dialpad:\n  base_url: x\n", wantErr: "database_path is missing"},
		{name: "bad window", yaml: base + "rate_limit:\n  window: soon\n", wantErr: "rate_limit.window"},
		{name: "negative window", yaml: base + "rate_limit:\n  window: -1s\n", wantErr: "must be positive"},
		{name: "bad archive", yaml: base + "archive:\n  kind: s3\n", wantErr: "archive.kind"},
		{name: "gcs without bucket", yaml: base + "archive:\n  kind: gcs\n", wantErr: "archive.bucket"},
		{name: "negative max pages", yaml: strings.Replace(base, "  base_url: https://dialpad.example", "  base_url: https://dialpad.example\n  max_pages: -1", 1), wantErr: "max_pages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatal(err)
				}
				if cfg.RateLimit.MaxPerWindow != 1000 || cfg.Dialpad.TranscriptBatchSize != 100 {
					t.Errorf("defaults not applied: %+v", cfg)
				}
				if cfg.Web.ListenAddress == "" || cfg.Redis.LockTTL != time.Hour {
					t.Errorf("defaults not applied: %+v", cfg)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got error %v, want one containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load("doesNotExist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
