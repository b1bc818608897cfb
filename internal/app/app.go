// Package app wires every steward component from configuration and owns the
// process lifecycle: Build, Start, Close.
package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"steward/internal/access"
	"steward/internal/governance"
	"steward/internal/hotp"
	"steward/internal/hotp/counter"
	hotpmetrics "steward/internal/hotp/metrics"
	"steward/internal/ledger/coordinator"
	"steward/internal/ledger/eventlog"
	ledgermetrics "steward/internal/ledger/metrics"
	"steward/internal/ledger/mirror"
	"steward/internal/ledger/tamper"
	"steward/internal/platform/config"
	platformredis "steward/internal/platform/redis"
	"steward/internal/session"
	httptransport "steward/internal/transport/http"
	"steward/internal/vault"
	"steward/internal/vault/blob"
	vaultmetrics "steward/internal/vault/metrics"
	"steward/internal/vault/sink"
	"steward/pkg/platform/audit"
	"steward/pkg/platform/audit/publisher"
	"steward/pkg/platform/audit/store/kafka"
	"steward/pkg/platform/audit/store/memory"
	"steward/pkg/platform/failover"
)

// App holds the constructed components.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Registry    *prometheus.Registry
	Audit       *publisher.Publisher
	Access      *access.Control
	OTP         *hotp.Validator
	Vault       *vault.Vault
	Sessions    *session.Manager
	Coordinator *coordinator.Coordinator
	Governance  *governance.Service
	Sweeper     *coordinator.Sweeper
	Handler     http.Handler

	redis      *platformredis.Client
	auditKafka *kafka.Store
	closers    []func(context.Context) error
}

// Build connects the configured backends and constructs every service. On
// error, whatever was already opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if a.redis, err = platformredis.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if a.redis != nil {
		a.onClose(func(context.Context) error { return a.redis.Close() })
	}

	if err = a.buildAudit(ctx); err != nil {
		return nil, err
	}
	if err = a.buildHOTP(); err != nil {
		return nil, err
	}
	if err = a.buildVault(ctx); err != nil {
		return nil, err
	}
	if err = a.buildLedger(ctx); err != nil {
		return nil, err
	}

	var otp session.OTPVerifier = refuseOTP{}
	if a.OTP != nil {
		otp = a.OTP
	}
	a.Sessions, err = session.NewManager(otp, []byte(cfg.Session.SigningKey),
		session.WithLifetime(cfg.Session.Lifetime),
		session.WithRevalidateAfter(cfg.Session.RevalidateAfter),
		session.WithOTPRequired(cfg.Session.OTPRequired...),
		session.WithLogger(logger),
		session.WithAuditor(a.Audit),
	)
	if err != nil {
		return nil, err
	}

	a.Governance = governance.New(a.Coordinator, a.Sessions, cfg.Access.Authority,
		governance.WithLogger(logger),
		governance.WithAuditor(a.Audit),
		governance.WithRegistry(a.Coordinator.Registry()),
	)

	deps := httptransport.Deps{
		Vault:      a.Vault,
		Sessions:   a.Sessions,
		Governance: a.Governance,
		Ledger:     a.Coordinator,
		Gatherer:   a.Registry,
		Logger:     logger,
	}
	if a.OTP != nil {
		deps.OTP = a.OTP
	}
	a.Handler = httptransport.NewRouter(deps)
	return a, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildAudit(ctx context.Context) error {
	cfg := a.Config.Kafka
	var stores []audit.Store
	if len(cfg.Brokers) == 0 {
		stores = append(stores, memory.New())
	} else {
		cl, err := kafka.Dial(cfg.Brokers, cfg.ClientID)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { cl.Close(); return nil })
		if err := kafka.EnsureTopic(ctx, cl, cfg.Topic, cfg.Partitions, cfg.Replicas); err != nil {
			return err
		}
		a.auditKafka = kafka.New(cl, cfg.Topic, kafka.WithLogger(a.Logger))
		a.onClose(a.auditKafka.Close)
		stores = append(stores, a.auditKafka)
	}
	a.Audit = publisher.New(stores,
		publisher.WithLogger(a.Logger),
		publisher.WithMetrics(publisher.NewMetrics(a.Registry)),
	)
	return nil
}

func (a *App) buildHOTP() error {
	cfg := a.Config.HOTP
	if len(cfg.Credentials) == 0 {
		a.Logger.Warn("no hotp credentials configured; otp factors and session revalidation will fail")
		return nil
	}
	creds := make([]hotp.Credential, len(cfg.Credentials))
	for i, c := range cfg.Credentials {
		secret, err := hex.DecodeString(c.SecretHex)
		if err != nil {
			return fmt.Errorf("hotp credential %s: %w", c.ID, err)
		}
		creds[i] = hotp.Credential{ID: c.ID, Secret: secret}
	}

	var store counter.Store
	switch cfg.Counter {
	case "file":
		store = counter.NewFile(cfg.CounterPath)
	case "redis":
		if a.redis == nil {
			return errors.New("hotp counter redis requires a redis connection")
		}
		store = counter.NewRedis(a.redis)
	default:
		store = counter.NewMemory(nil)
	}

	v, err := hotp.NewValidator(creds[0], creds[1:], store,
		hotp.WithWindow(cfg.Window),
		hotp.WithDigits(cfg.Digits),
		hotp.WithSubject(a.Config.HOTPSubject()),
		hotp.WithLogger(a.Logger),
		hotp.WithAuditor(a.Audit),
		hotp.WithMetrics(hotpmetrics.NewWith(a.Registry)),
	)
	if err != nil {
		return err
	}
	a.OTP = v
	return nil
}

func (a *App) buildVault(ctx context.Context) error {
	cfg := a.Config
	policy, hashes, err := Policy(cfg)
	if err != nil {
		return err
	}
	opts := []access.Option{
		access.WithFactor(access.NewPasswordFactor(hashes)),
		access.WithTokenTTL(cfg.Access.TokenTTL),
		access.WithLogger(a.Logger),
		access.WithAuditor(a.Audit),
	}
	if a.OTP != nil {
		opts = append(opts, access.WithFactor(access.NewOTPFactor(map[string]access.OTPVerifier{
			cfg.HOTPSubject(): a.OTP,
		})))
	}
	a.Access = access.New(policy, opts...)

	blobs := blob.NewFile(cfg.Vault.Path)
	engine, err := vault.EngineFor(ctx, blobs, []byte(cfg.Vault.MasterSecret), cfg.Vault.LegacySalt)
	if err != nil {
		return err
	}
	vopts := []vault.Option{
		vault.WithLogger(a.Logger),
		vault.WithAuditor(a.Audit),
		vault.WithMetrics(vaultmetrics.NewWith(a.Registry)),
	}
	switch cfg.Vault.Sink {
	case "redis":
		if a.redis == nil {
			return errors.New("vault sink redis requires a redis connection")
		}
		vopts = append(vopts, vault.WithSink(sink.NewRedis(a.redis)))
	case "memory":
		vopts = append(vopts, vault.WithSink(sink.NewMemory()))
	}
	a.Vault, err = vault.New(vault.Config{MasterOverride: cfg.Vault.MasterOverride}, engine, blobs, a.Access, vopts...)
	if err != nil {
		return err
	}
	a.onClose(a.Vault.Close)
	return nil
}

func (a *App) buildLedger(ctx context.Context) error {
	cfg := a.Config.Ledger
	policy := failover.Policy{Retries: cfg.Retries, Delay: cfg.RetryDelay}

	var ts tamper.Store
	switch cfg.Tamper {
	case "postgres":
		pg, err := tamper.OpenPostgres(ctx, cfg.TamperDSNs, policy)
		if err != nil {
			return err
		}
		ts = pg
	case "badger":
		b, err := tamper.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return err
		}
		ts = b
	default:
		ts = tamper.NewMemory()
	}

	var log eventlog.Log
	switch cfg.EventLog {
	case "jetstream":
		js, err := failoverJetStream(ctx, cfg, policy)
		if err != nil {
			_ = ts.Close()
			return err
		}
		log = js
	default:
		log = eventlog.NewMemory()
	}

	var m mirror.Mirror
	switch cfg.Mirror {
	case "postgres":
		pg, err := mirror.OpenPostgres(ctx, cfg.MirrorDSN)
		if err != nil {
			_ = ts.Close()
			_ = log.Close()
			return err
		}
		m = pg
	default:
		m = mirror.NewMemory()
	}

	a.Coordinator = coordinator.New(ts, log, m,
		coordinator.WithConfig(coordinator.Config{
			VerifyOnWrite: cfg.VerifyOnWrite,
			CallTimeout:   cfg.CallTimeout,
			SampleSize:    cfg.SampleSize,
		}),
		coordinator.WithLogger(a.Logger),
		coordinator.WithMetrics(ledgermetrics.NewWith(a.Registry)),
		coordinator.WithTracer(otel.Tracer("steward/ledger")),
		coordinator.WithAuditor(a.Audit),
	)
	a.onClose(func(context.Context) error { return a.Coordinator.Close() })

	if cfg.SweepInterval > 0 {
		sw, err := coordinator.NewSweeper(a.Coordinator, cfg.SweepInterval, nil)
		if err != nil {
			return err
		}
		a.Sweeper = sw
	}
	return nil
}

func failoverJetStream(ctx context.Context, cfg config.Ledger, policy failover.Policy) (*eventlog.JetStream, error) {
	js, _, err := failover.Connect(ctx, []string{cfg.NATSURL}, policy, func(ctx context.Context, url string) (*eventlog.JetStream, error) {
		return eventlog.DialJetStream(ctx, url, eventlog.JetStreamConfig{
			Stream:        cfg.Stream,
			SubjectPrefix: cfg.StreamPrefix,
		})
	})
	return js, err
}

// Start opens the vault and starts background work.
func (a *App) Start(ctx context.Context) error {
	if err := a.Vault.Open(ctx); err != nil {
		return err
	}
	if a.auditKafka != nil {
		a.auditKafka.Start(ctx)
	}
	if a.Sweeper != nil {
		if err := a.Sweeper.Start(ctx); err != nil {
			return err
		}
		a.onClose(func(context.Context) error { return a.Sweeper.Stop() })
	}
	a.Logger.InfoContext(ctx, "steward started",
		"tamper", a.Config.Ledger.Tamper,
		"event_log", a.Config.Ledger.EventLog,
		"mirror", a.Config.Ledger.Mirror,
		"otp", a.OTP != nil,
	)
	return nil
}

// Close releases everything in reverse construction order and returns every
// error joined.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// refuseOTP stands in when no hardware credential is configured.
type refuseOTP struct{}

func (refuseOTP) Validate(context.Context, string) (bool, error) { return false, nil }
