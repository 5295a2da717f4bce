package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func TestLoadDispatcherConfigDefaults(t *testing.T) {
	for _, key := range []string{"WEBHOOK_PORT", "WEBHOOK_HOST", "DEPLOYMENT_TIMEOUT", "ALLOWED_BRANCHES", "BRANCH_ENVIRONMENTS", "WEBHOOK_SECRET"} {
		t.Setenv(key, "")
	}
	// t.Setenv registers the restore; the keys are then removed for the test body.
	unset(t, "WEBHOOK_PORT", "WEBHOOK_HOST", "DEPLOYMENT_TIMEOUT", "ALLOWED_BRANCHES", "BRANCH_ENVIRONMENTS", "WEBHOOK_SECRET")

	cfg := LoadDispatcherConfig()
	if cfg.Port != 3333 {
		t.Fatalf("expected default port 3333, got %d", cfg.Port)
	}
	if cfg.Addr() != "0.0.0.0:3333" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
	if cfg.DeploymentTimeout != 600*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.DeploymentTimeout)
	}
	if len(cfg.AllowedBranches) != 3 {
		t.Fatalf("expected three default branches, got %v", cfg.AllowedBranches)
	}
	if cfg.BranchEnvironments["main"] != "production" {
		t.Fatalf("expected main to map to production, got %q", cfg.BranchEnvironments["main"])
	}
	if cfg.WebhookSecret != "" {
		t.Fatalf("expected empty secret by default")
	}
}

func TestLoadDispatcherConfigOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_PORT", "8080")
	t.Setenv("WEBHOOK_HOST", "127.0.0.1")
	t.Setenv("DEPLOYMENT_TIMEOUT", "5")
	t.Setenv("ALLOWED_BRANCHES", " main , release ,, ")
	t.Setenv("BRANCH_ENVIRONMENTS", "main=prod,release=rc,broken")
	t.Setenv("WEBHOOK_SECRET", "  s3cret  ")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.7")

	cfg := LoadDispatcherConfig()
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
	if cfg.DeploymentTimeout != 5*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.DeploymentTimeout)
	}
	if len(cfg.AllowedBranches) != 2 || cfg.AllowedBranches[1] != "release" {
		t.Fatalf("unexpected branches %v", cfg.AllowedBranches)
	}
	if len(cfg.BranchEnvironments) != 2 || cfg.BranchEnvironments["release"] != "rc" {
		t.Fatalf("unexpected environments %v", cfg.BranchEnvironments)
	}
	if cfg.WebhookSecret != "  s3cret  " {
		t.Fatalf("secret must be kept byte for byte, got %q", cfg.WebhookSecret)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "192.0.2.7" {
		t.Fatalf("unexpected trusted proxies %v", cfg.TrustedProxies)
	}
}

func TestGetIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("IGNIS_TEST_INT", "twelve")
	if got := GetInt("IGNIS_TEST_INT", 12); got != 12 {
		t.Fatalf("expected fallback 12, got %d", got)
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := DispatcherConfig{WebhookSecret: "hunter2", Host: "0.0.0.0", Port: 1}
	attrs := cfg.Redacted()
	for i := 0; i < len(attrs); i += 2 {
		if attrs[i] == "webhook_secret" && attrs[i+1] != "<redacted>" {
			t.Fatalf("secret leaked: %v", attrs[i+1])
		}
		if v, ok := attrs[i+1].(string); ok && v == "hunter2" {
			t.Fatalf("secret value present in redacted attrs")
		}
	}
}
