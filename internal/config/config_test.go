package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TICK_INTERVAL_SECONDS", "")
	t.Setenv("LOCK_TTL_SECONDS", "")

	LoadConfig()

	if AppConfig.TickIntervalSeconds != 3600 {
		t.Errorf("TickIntervalSeconds = %d, want 3600", AppConfig.TickIntervalSeconds)
	}
	if AppConfig.DefaultBackfillDays != 0 {
		t.Errorf("DefaultBackfillDays = %d, want 0", AppConfig.DefaultBackfillDays)
	}
	if AppConfig.MaintenanceMaxChannels != 50 {
		t.Errorf("MaintenanceMaxChannels = %d, want 50", AppConfig.MaintenanceMaxChannels)
	}
	if !AppConfig.MaintenanceEnabled {
		t.Error("MaintenanceEnabled = false, want true")
	}
	if AppConfig.OpsListenAddr != ":9090" {
		t.Errorf("OpsListenAddr = %q, want :9090", AppConfig.OpsListenAddr)
	}

	// Hourly interval: floor of 55 minutes loses to interval+slack.
	if AppConfig.LockTTLSeconds != 3900 {
		t.Errorf("LockTTLSeconds = %d, want 3900", AppConfig.LockTTLSeconds)
	}
}

func TestLockTTLFloor(t *testing.T) {
	t.Setenv("TICK_INTERVAL_SECONDS", "600")
	t.Setenv("LOCK_TTL_SECONDS", "")

	LoadConfig()

	// Short intervals still get the 55 minute floor.
	if AppConfig.LockTTLSeconds != 55*60 {
		t.Errorf("LockTTLSeconds = %d, want %d", AppConfig.LockTTLSeconds, 55*60)
	}
	if AppConfig.LockTTL() != 55*time.Minute {
		t.Errorf("LockTTL() = %v, want 55m", AppConfig.LockTTL())
	}
}

func TestLockTTLExplicitOverride(t *testing.T) {
	t.Setenv("TICK_INTERVAL_SECONDS", "600")
	t.Setenv("LOCK_TTL_SECONDS", "1200")

	LoadConfig()

	if AppConfig.LockTTLSeconds != 1200 {
		t.Errorf("LockTTLSeconds = %d, want 1200", AppConfig.LockTTLSeconds)
	}
}

func TestLoadConfigFilePolicyOverrides(t *testing.T) {
	yamlConfig := `
policy:
  attempt_cap: 4
  error_retry_minutes: 10
`

	cfg := &Config{}
	if err := LoadConfigFile(strings.NewReader(yamlConfig), cfg); err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}

	p := cfg.HarvestPolicy()
	if p.AttemptCap != 4 {
		t.Errorf("AttemptCap = %d, want 4", p.AttemptCap)
	}
	if p.ErrorRetry != 10*time.Minute {
		t.Errorf("ErrorRetry = %v, want 10m", p.ErrorRetry)
	}
	// A field the file does not mention keeps its default.
	if p.DialogPageLimit != 200 {
		t.Errorf("DialogPageLimit = %d, want 200", p.DialogPageLimit)
	}
}

func TestLoadConfigReadsPolicyFileEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	yamlConfig := []byte("policy:\n  attempt_cap: 3\n")
	if err := os.WriteFile(path, yamlConfig, 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	t.Setenv("POLICY_FILE", path)

	LoadConfig()

	if got := AppConfig.HarvestPolicy().AttemptCap; got != 3 {
		t.Errorf("AttemptCap = %d, want 3 from policy file", got)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT64", "9000000000")
	t.Setenv("TEST_BAD_INT", "not-a-number")
	t.Setenv("TEST_DURATION", "45s")

	if got := getEnvOrDefault("TEST_STR", "fallback"); got != "value" {
		t.Errorf("getEnvOrDefault = %q, want value", got)
	}
	if got := getEnvOrDefault("TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnvOrDefault = %q, want fallback", got)
	}
	if got := getEnvAsInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvAsInt = %d, want 42", got)
	}
	if got := getEnvAsInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvAsInt on garbage = %d, want default 7", got)
	}
	if got := getEnvAsInt64("TEST_INT64", 1); got != 9000000000 {
		t.Errorf("getEnvAsInt64 = %d, want 9000000000", got)
	}
	if got := getEnvAsDuration("TEST_DURATION", time.Second); got != 45*time.Second {
		t.Errorf("getEnvAsDuration = %v, want 45s", got)
	}
}
