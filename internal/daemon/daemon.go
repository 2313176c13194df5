// Package daemon assembles the humansign service from configuration:
// storage, keys, the session manager and the HTTP API.
package daemon

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"humansign/internal/api"
	"humansign/internal/config"
	"humansign/internal/health"
	"humansign/internal/logging"
	"humansign/internal/metrics"
	"humansign/internal/ratelimit"
	"humansign/internal/session"
	"humansign/internal/signer"
	"humansign/internal/store"
	"humansign/internal/verify"
)

// limiterIdle is how long a client's bucket is kept after its last request.
const limiterIdle = 10 * time.Minute

// Daemon owns every long-lived component of a running service.
type Daemon struct {
	cfg     *config.Config
	version string

	logger  *logging.Logger
	audit   *logging.AuditLogger
	store   store.Store
	manager *session.Manager
	metrics *metrics.Metrics
	health  *health.Checker
	limiter *ratelimit.KeyedLimiter
	server  *http.Server
}

// LoggingConfig converts the file configuration into a logger configuration.
func LoggingConfig(c config.LoggingConfig) (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     logging.ParseFormat(c.Format),
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSizeMB,
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
		Component:  "humansignd",
	}, nil
}

// Policy converts the chain configuration into a sealing policy.
func Policy(c *config.Config) session.Policy {
	return session.Policy{
		BlockSize:     c.Chain.BlockSize,
		BlockInterval: c.BlockInterval(),
	}
}

// New builds a daemon from cfg. A missing private key starts the daemon in
// verify-only mode when a public key is available.
func New(ctx context.Context, cfg *config.Config, version string) (d *Daemon, err error) {
	d = &Daemon{cfg: cfg, version: version}
	defer func() {
		if err != nil {
			d.closeAll()
		}
	}()

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logCfg, err := LoggingConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if d.logger, err = logging.New(logCfg); err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	if cfg.Logging.AuditPath != "" {
		auditCfg := logging.DefaultAuditConfig()
		auditCfg.FilePath = cfg.Logging.AuditPath
		if d.audit, err = logging.NewAuditLogger(auditCfg); err != nil {
			return nil, err
		}
	}

	if d.store, err = store.Open(cfg.Storage.Type, cfg.Storage.Path); err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Type, err)
	}

	d.metrics = metrics.New()
	d.health = health.NewChecker()
	d.health.RegisterFunc("store", true, health.DatabaseCheck(func(ctx context.Context) error {
		_, err := d.store.ListSessions(ctx)
		return err
	}))

	key, pub, err := loadKeys(cfg.Signing)
	if err != nil {
		return nil, err
	}

	opts := api.Options{
		Verify:         cfg.Verify,
		MetricsPath:    cfg.Server.MetricsPath,
		DefaultSubject: cfg.Signing.Subject,
		Logger:         d.logger,
		Metrics:        d.metrics,
		Health:         d.health,
	}

	if n := cfg.Server.RateLimitPerMinute; n > 0 {
		d.limiter = ratelimit.NewKeyed(float64(n)/60, cfg.Server.RateLimitBurst, limiterIdle)
		opts.RateLimit = d.limiter
	}

	if key != nil {
		d.manager, err = session.NewManager(d.store, key,
			session.WithPolicy(Policy(cfg)),
			session.WithLogger(d.logger),
			session.WithAudit(d.audit),
			session.WithMetrics(d.metrics),
		)
		if err != nil {
			return nil, err
		}
		n, err := d.manager.ResumeAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("resume sessions: %w", err)
		}
		if n > 0 {
			d.logger.Info("resumed sessions", "count", n)
		}

		opts.Sessions = d.manager
		opts.Verifier = d.manager
		d.health.RegisterFunc("signing_key", true, health.SigningKeyCheck(key))
		d.health.RegisterFunc("sessions", false, health.GaugeCheck("live", func() int {
			return len(d.manager.Sessions())
		}))
	} else {
		d.logger.Warn("no signing key, serving verification only", "public_key", cfg.Signing.PublicKeyPath)
		d.health.RegisterFunc("public_key", true, health.FileExistsCheck(cfg.Signing.PublicKeyPath))
		v := verify.New(pub, verify.WithLogger(d.logger))
		opts.Verifier = session.NewRecordingVerifier(v, d.audit, d.metrics)
	}

	d.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewServer(opts).Router(),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}
	return d, nil
}

// loadKeys loads the private key, or failing that the public key alone.
func loadKeys(c config.SigningConfig) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	if c.PrivateKeyPath != "" {
		key, err := signer.LoadPrivateKey(c.PrivateKeyPath)
		switch {
		case err == nil:
			return key, &key.PublicKey, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, nil, fmt.Errorf("load signing key: %w", err)
		}
	}
	if c.PublicKeyPath == "" {
		return nil, nil, errors.New("no signing or public key configured")
	}
	pub, err := signer.LoadPublicKey(c.PublicKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load public key: %w", err)
	}
	return nil, pub, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler
}

// Logger returns the daemon logger.
func (d *Daemon) Logger() *logging.Logger {
	return d.logger
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.server.Addr)
	if err != nil {
		d.closeAll()
		return fmt.Errorf("listen %s: %w", d.server.Addr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	_ = d.audit.LogStartup(ctx, d.version, map[string]any{
		"addr":    ln.Addr().String(),
		"storage": d.cfg.Storage.Type,
	})
	d.logger.Info("humansignd listening", "addr", ln.Addr().String(), "version", d.version)
	d.health.SetReady(true)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.Serve(ln)
	}()

	var serveErr error
	reason := "context cancelled"
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
			reason = err.Error()
		}
	}

	d.health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout())
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("graceful shutdown failed", "error", err)
	}

	_ = d.audit.LogShutdown(context.Background(), reason)
	d.logger.Info("humansignd stopped", "reason", reason)
	d.closeAll()
	return serveErr
}

// ApplyConfig takes a reloaded configuration. The log level and sealing
// policy change immediately; storage, keys and the listener need a restart.
func (d *Daemon) ApplyConfig(cfg *config.Config, path string) {
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		d.logger.SetLevel(level)
	}
	if d.manager != nil {
		d.manager.SetPolicy(Policy(cfg))
	}
	if cfg.Storage != d.cfg.Storage || cfg.Server.Addr != d.cfg.Server.Addr || cfg.Signing != d.cfg.Signing {
		d.logger.Warn("storage, signing and listen address changes take effect after restart")
	}
	_ = d.audit.LogConfigChange(context.Background(), path)
	d.logger.Info("configuration reloaded", "path", path)
}

func (d *Daemon) closeAll() {
	if d.limiter != nil {
		d.limiter.Close()
	}
	if d.manager != nil {
		_ = d.manager.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil && d.logger != nil {
			d.logger.Warn("close store", "error", err)
		}
	}
	_ = d.audit.Close()
	if d.logger != nil {
		_ = d.logger.Close()
	}
}
