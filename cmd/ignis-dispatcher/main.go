package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/ivan-cavero/Ignis/internal/audit"
	"github.com/ivan-cavero/Ignis/internal/docker"
	"github.com/ivan-cavero/Ignis/internal/domain"
	httpx "github.com/ivan-cavero/Ignis/internal/http"
	"github.com/ivan-cavero/Ignis/internal/notify"
	"github.com/ivan-cavero/Ignis/internal/runlock"
	"github.com/ivan-cavero/Ignis/internal/service/changes"
	"github.com/ivan-cavero/Ignis/internal/service/deploy"
	"github.com/ivan-cavero/Ignis/internal/service/resolve"
	"github.com/ivan-cavero/Ignis/internal/service/webhook"
	"github.com/ivan-cavero/Ignis/internal/ws"
	"github.com/ivan-cavero/Ignis/pkg/config"
	"github.com/ivan-cavero/Ignis/pkg/logger"
)

// shutdownTimeout bounds how long an active run may continue after SIGTERM
// before it is cancelled.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ignis-dispatcher: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadDispatcherConfig()
	log := logger.New("ignis-dispatcher", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()
	defer hub.Close()

	auditLog := audit.New(audit.Options{
		Dir:         cfg.LogDir,
		Prefix:      cfg.LogFilePrefix,
		Color:       term.IsTerminal(int(os.Stdout.Fd())),
		Broadcaster: hub,
	}, log)
	defer auditLog.Close()

	lock, err := acquireRunLock(ctx, cfg, log, auditLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Error("release run lock", "error", err)
		}
	}()

	rules := resolve.DefaultRules()
	if path := strings.TrimSpace(cfg.RulesFile); path != "" {
		rules, err = resolve.LoadRules(path)
		if err != nil {
			auditLog.Error("invalid rule table", "path", path, "error", err)
			return err
		}
	}
	resolver := resolve.New(rules, cfg.HaltingComponents...)

	action, closeAction, err := buildAction(ctx, cfg, log)
	if err != nil {
		auditLog.Error("deployment backend unavailable", "backend", cfg.DeployBackend, "error", err)
		return err
	}
	defer closeAction()

	executor := deploy.NewExecutor(action, cfg.DeploymentTimeout, log)
	opts := []deploy.Option{deploy.WithMetrics(deploy.NewMetrics(prometheus.DefaultRegisterer))}
	if cfg.RunCallbackURL != "" {
		callback, err := notify.NewCallback(cfg.RunCallbackURL, cfg.RunCallbackTimeout, nil, log)
		if err != nil {
			return fmt.Errorf("configure run callback: %w", err)
		}
		opts = append(opts, deploy.WithNotifier(callback))
	}
	coordinator := deploy.NewCoordinator(executor, auditLog, log, opts...)
	// Runs before the lock is released so no deploy outlives it.
	defer stopCoordinator(coordinator, log)

	var limiter httpx.RateLimiter = httpx.NewMemoryRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, cfg.RateLimitPerMinute, time.Minute, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	proxies, err := httpx.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		log.Error("WEBHOOK_SECRET is not set; every webhook will be rejected")
		auditLog.Warning("webhook secret not configured")
	}

	router := httpx.NewRouter(log, httpx.Deps{
		Audit:          auditLog,
		Webhook:        webhook.New(cfg.WebhookSecret, webhook.NewDeliveryTracker(webhook.DefaultDeliveryWindow)),
		Extractor:      changes.New(cfg.AllowedBranches, cfg.BranchEnvironments),
		Resolver:       resolver,
		Coordinator:    coordinator,
		Hub:            hub,
		Limiter:        limiter,
		TrustedProxies: proxies,
		StreamSecret:   cfg.AuditStreamSecret,
	})
	defer router.Close()

	announce(cfg, auditLog, resolver)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("dispatcher starting", "addr", srv.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		auditLog.Info("shutting down")
		stopCoordinator(coordinator, log)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("dispatcher stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			auditLog.Error("server error", "error", err)
			return err
		}
		return nil
	}
}

// stopCoordinator lets the active run finish within shutdownTimeout, then
// cancels it and waits for its deploy process to exit. Safe to call twice.
func stopCoordinator(coordinator *deploy.Coordinator, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coordinator.Shutdown(ctx); err != nil {
		log.Error("deployment run did not finish before shutdown", "error", err)
	}
}

func acquireRunLock(ctx context.Context, cfg config.DispatcherConfig, log *slog.Logger, auditLog *audit.Logger) (runlock.Locker, error) {
	file := runlock.NewFile(cfg.LockFile)
	chain := runlock.Chain{file}

	if addr := strings.TrimSpace(cfg.RunLockRedisAddr); addr != "" {
		lease, err := runlock.NewRedisFromAddr(ctx, addr, cfg.RunLockRedisPass, cfg.RunLockRedisDB, cfg.RunLockTTL, log)
		if err != nil {
			auditLog.Error("distributed run lock unavailable", "addr", addr, "error", err)
			return nil, err
		}
		chain = append(chain, lease)
		go func() {
			select {
			case <-lease.Lost():
				auditLog.Error("distributed run lock lease lost", "key", runlock.DefaultRedisKey)
			case <-ctx.Done():
			}
		}()
	}

	if err := chain.Acquire(ctx); err != nil {
		if errors.Is(err, domain.ErrLockContention) {
			auditLog.Error("another dispatcher instance is running", "lock_file", file.Path(), "error", err)
		}
		return nil, err
	}
	if pid := file.Reclaimed(); pid != 0 {
		auditLog.Warning("reclaimed stale lock file", "lock_file", file.Path(), "pid", pid)
	}
	return chain, nil
}

func buildAction(ctx context.Context, cfg config.DispatcherConfig, log *slog.Logger) (deploy.Action, func(), error) {
	switch cfg.DeployBackend {
	case "", "script":
		return deploy.NewScriptAction(cfg.DeployScript), func() {}, nil
	case "docker":
		cli, err := docker.New(cfg.DockerHost)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := cli.Ping(pingCtx); err != nil {
			_ = cli.Close()
			return nil, nil, err
		}
		return docker.NewRestartAction(cli, 0, log), func() { _ = cli.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown deploy backend %q", cfg.DeployBackend)
	}
}

func announce(cfg config.DispatcherConfig, auditLog *audit.Logger, resolver *resolve.Resolver) {
	auditLog.Info("dispatcher started", cfg.Redacted()...)
	for _, rule := range resolver.Rules() {
		kv := []any{"pattern", rule.Pattern, "component", rule.Component, "priority", rule.Priority}
		if len(rule.Dependencies) > 0 {
			kv = append(kv, "dependencies", strings.Join(rule.Dependencies, ","))
		}
		if rule.Halts || resolver.IsHalting(rule.Component) {
			kv = append(kv, "halts", true)
		}
		auditLog.Info("rule", kv...)
	}
}
