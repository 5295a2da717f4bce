package config

import (
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// DispatcherConfig holds runtime configuration for the webhook dispatcher.
type DispatcherConfig struct {
	Environment        string
	LogLevel           slog.Level
	Host               string
	Port               int
	WebhookSecret      string
	DeployScript       string
	DeployBackend      string
	DockerHost         string
	LogDir             string
	LogFilePrefix      string
	DeploymentTimeout  time.Duration
	LockFile           string
	RunLockRedisAddr   string
	RunLockRedisPass   string
	RunLockRedisDB     int
	RunLockTTL         time.Duration
	AllowedBranches    []string
	BranchEnvironments map[string]string
	HaltingComponents  []string
	RulesFile          string
	RateLimitPerMinute int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	TrustedProxies     []string
	AuditStreamSecret  string
	RunCallbackURL     string
	RunCallbackTimeout time.Duration
}

// LoadDispatcherConfig constructs a DispatcherConfig from environment variables.
func LoadDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Environment:        GetString("APP_ENV", "production"),
		LogLevel:           parseLevel(GetString("LOG_LEVEL", "info")),
		Host:               GetString("WEBHOOK_HOST", "0.0.0.0"),
		Port:               GetInt("WEBHOOK_PORT", 3333),
		WebhookSecret:      GetString("WEBHOOK_SECRET", ""),
		DeployScript:       GetString("DEPLOY_SCRIPT", "/opt/ignis/scripts/deploy.sh"),
		DeployBackend:      strings.ToLower(GetString("DEPLOY_BACKEND", "script")),
		DockerHost:         GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		LogDir:             GetString("LOG_DIR", "/var/log/ignis"),
		LogFilePrefix:      GetString("LOG_FILE_PREFIX", "webhook"),
		DeploymentTimeout:  time.Duration(GetInt("DEPLOYMENT_TIMEOUT", 600)) * time.Second,
		LockFile:           GetString("LOCK_FILE", "/tmp/ignis-webhook.lock"),
		RunLockRedisAddr:   GetString("RUN_LOCK_REDIS_ADDR", ""),
		RunLockRedisPass:   GetString("RUN_LOCK_REDIS_PASSWORD", ""),
		RunLockRedisDB:     GetInt("RUN_LOCK_REDIS_DB", 0),
		RunLockTTL:         time.Duration(GetInt("RUN_LOCK_TTL_SECONDS", 30)) * time.Second,
		AllowedBranches:    GetList("ALLOWED_BRANCHES", []string{"main", "dev", "staging"}),
		BranchEnvironments: GetMap("BRANCH_ENVIRONMENTS", map[string]string{"main": "production", "staging": "staging", "dev": "development"}),
		HaltingComponents:  GetList("HALTING_COMPONENTS", []string{"infrastructure"}),
		RulesFile:          GetString("RULES_FILE", ""),
		RateLimitPerMinute: GetInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		TrustedProxies:     GetList("TRUSTED_PROXIES", nil),
		AuditStreamSecret:  strings.TrimSpace(GetString("AUDIT_STREAM_SECRET", "")),
		RunCallbackURL:     strings.TrimSpace(GetString("RUN_CALLBACK_URL", "")),
		RunCallbackTimeout: time.Duration(GetInt("RUN_CALLBACK_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

// Addr returns the listen address in host:port form.
func (c DispatcherConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Redacted returns the configuration as log attributes with secrets masked.
func (c DispatcherConfig) Redacted() []any {
	return []any{
		"environment", c.Environment,
		"addr", c.Addr(),
		"webhook_secret", mask(c.WebhookSecret),
		"deploy_backend", c.DeployBackend,
		"deploy_script", c.DeployScript,
		"log_dir", c.LogDir,
		"deployment_timeout", c.DeploymentTimeout.String(),
		"lock_file", c.LockFile,
		"distributed_lock", c.RunLockRedisAddr != "",
		"allowed_branches", strings.Join(c.AllowedBranches, ","),
		"halting_components", strings.Join(c.HaltingComponents, ","),
		"rules_file", c.RulesFile,
		"rate_limit_per_minute", c.RateLimitPerMinute,
		"trusted_proxies", strings.Join(c.TrustedProxies, ","),
		"audit_stream", c.AuditStreamSecret != "",
		"run_callback", c.RunCallbackURL != "",
	}
}

func mask(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return "<unset>"
	}
	return "<redacted>"
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
