package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VISION_PROVIDER", "")
	t.Setenv("SCAN_QUOTA_USER_DAILY", "")
	t.Setenv("SCAN_QUOTA_PROPERTY_DAILY", "")

	cfg := Load()
	if cfg.VisionProvider != ProviderStub {
		t.Fatalf("expected stub provider, got %q", cfg.VisionProvider)
	}
	if cfg.QuotaUserDaily != 6 || cfg.QuotaPropertyDaily != 20 {
		t.Fatalf("unexpected quota defaults: %d/%d", cfg.QuotaUserDaily, cfg.QuotaPropertyDaily)
	}
	if cfg.RetryBaseDelay != 500*time.Millisecond || cfg.RetryMaxDelay != 8*time.Second {
		t.Fatalf("unexpected retry defaults: %s/%s", cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	if !cfg.DuplicateMatchEnabled {
		t.Fatal("expected duplicate matching enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadInvalidNumberFallsBack(t *testing.T) {
	t.Setenv("SCAN_QUOTA_USER_DAILY", "lots")
	if got := Load().QuotaUserDaily; got != 6 {
		t.Fatalf("expected fallback to 6, got %d", got)
	}
}

func TestModelCandidatesOverrideFirst(t *testing.T) {
	cfg := &Config{
		VisionModelOverride:  "forced",
		VisionFallbackModels: []string{"a", "forced", "b"},
	}
	got := cfg.ModelCandidates()
	want := []string{"forced", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestValidateRequiresAPIKeyForOpenAI(t *testing.T) {
	cfg := Load()
	cfg.VisionProvider = ProviderOpenAI
	cfg.VisionAPIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing api key to fail validation")
	}
	cfg.VisionProvider = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown provider to fail validation")
	}
}

func TestApplyTOMLOverlay(t *testing.T) {
	cfg := Load()
	doc := []byte(`
[vision]
model_override = "vision-large"
fallback_models = ["vision-small"]

[quota]
user_daily = 2
bypass = true

[retry]
attempts = 5
max_delay_ms = 1000
`)
	if err := cfg.ApplyTOML(doc); err != nil {
		t.Fatalf("ApplyTOML returned error: %v", err)
	}
	if cfg.VisionModelOverride != "vision-large" {
		t.Fatalf("override not applied: %q", cfg.VisionModelOverride)
	}
	if cfg.QuotaUserDaily != 2 || !cfg.QuotaBypass {
		t.Fatalf("quota overlay not applied: %d %v", cfg.QuotaUserDaily, cfg.QuotaBypass)
	}
	if cfg.QuotaPropertyDaily != 20 {
		t.Fatalf("unset key should keep env value, got %d", cfg.QuotaPropertyDaily)
	}
	if cfg.RetryMaxAttempts != 5 || cfg.RetryMaxDelay != time.Second {
		t.Fatalf("retry overlay not applied: %d %s", cfg.RetryMaxAttempts, cfg.RetryMaxDelay)
	}
}
