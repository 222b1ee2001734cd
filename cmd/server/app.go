package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"custodian/internal/auth/jwtauth"
	"custodian/internal/bpd/cache"
	bpdclient "custodian/internal/bpd/client"
	bpdhandler "custodian/internal/bpd/handler"
	bpdservice "custodian/internal/bpd/service"
	bpdstore "custodian/internal/bpd/store"
	diddochandler "custodian/internal/diddoc/handler"
	"custodian/internal/gateway"
	"custodian/internal/platform/config"
	"custodian/internal/platform/database"
	"custodian/internal/platform/health"
	"custodian/internal/platform/kafka/producer"
	"custodian/internal/platform/metrics"
	"custodian/internal/platform/redis"
	"custodian/internal/platform/tracer"
	httptransport "custodian/internal/transport/http"
	vchandler "custodian/internal/vc/handler"
	vphandler "custodian/internal/vp/handler"
	wallethandler "custodian/internal/wallet/handler"
	walletservice "custodian/internal/wallet/service"
	walletstore "custodian/internal/wallet/store"
	"custodian/pkg/platform/audit"
	"custodian/pkg/platform/audit/publisher"
	"custodian/pkg/platform/circuit"
	"custodian/pkg/platform/middleware/request"
)

// memoryCacheCapacity bounds the in-process partner data cache.
const memoryCacheCapacity = 10_000

type application struct {
	handler http.Handler
	routes  []gateway.Route
	closers []func(context.Context) error
}

// close releases resources in reverse order of acquisition.
func (a *application) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func (a *application) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// build wires stores, services, handler groups and the gateway. On failure
// everything acquired so far is released.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (app *application, err error) {
	app = &application{}
	defer func() {
		if err != nil {
			_ = app.close(context.Background())
		}
	}()

	reg := metrics.NewRegistry()
	probes := health.New()

	var (
		wallets  walletstore.Store = walletstore.NewInMemoryStore()
		partners bpdstore.Store    = bpdstore.NewInMemoryStore()
	)
	if cfg.Wallet.Store == "postgres" {
		pool, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return pool.Close() })
		if err := database.Migrate(ctx, pool.DB()); err != nil {
			return nil, err
		}
		probes.RegisterCheck("postgres", pool.Health)
		wallets = walletstore.NewPostgres(pool.DB())
		partners = bpdstore.NewPostgres(pool.DB())
	}

	auditor, err := buildAuditor(cfg, log, app, probes)
	if err != nil {
		return nil, err
	}

	walletSvc := walletservice.New(wallets, walletservice.Config{
		AuthorityBPN:    cfg.Wallet.AuthorityBPN,
		AuthorityName:   cfg.Wallet.AuthorityName,
		DIDHost:         cfg.Wallet.DIDHost,
		CredentialTTL:   cfg.Wallet.CredentialTTL,
		PresentationTTL: cfg.Wallet.PresentationTTL,
	}, walletservice.WithAuditor(auditor), walletservice.WithLogger(log))
	authority, err := walletSvc.EnsureAuthorityWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("authority wallet: %w", err)
	}
	log.Info("authority wallet ready", "bpn", authority.BPN, "did", authority.DID)

	bpdCache, err := buildCache(ctx, cfg, reg, app, probes)
	if err != nil {
		return nil, err
	}

	var upstream bpdservice.Upstream
	if cfg.BPD.PoolURL != "" {
		breaker := circuit.New("bpdm",
			circuit.WithFailureThreshold(cfg.BPD.BreakerFailures),
			circuit.WithCooldown(cfg.BPD.BreakerCooldown),
			circuit.WithStateChange(func(name string, from, to circuit.State) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}),
		)
		client, err := bpdclient.New(cfg.BPD.PoolURL, cfg.BPD.RequestTimeout,
			bpdclient.WithBreaker(breaker), bpdclient.WithLogger(log))
		if err != nil {
			return nil, err
		}
		upstream = client
	} else {
		log.Warn("bpd.pool_url not set; business partner data pulls will fail")
	}

	bpdSvc := bpdservice.New(upstream, partners, walletSvc, wallets, bpdservice.Config{
		PullTimeout:  cfg.BPD.PullTimeout,
		RefreshLimit: cfg.BPD.RefreshLimit,
	},
		bpdservice.WithCache(bpdCache),
		bpdservice.WithAuditor(auditor),
		bpdservice.WithMetrics(bpdservice.NewMetrics(reg)),
		bpdservice.WithLogger(log),
	)
	app.onClose(bpdSvc.Close)

	if cfg.BPD.RefreshSchedule != "" {
		scheduler, err := bpdservice.NewScheduler(bpdSvc, cfg.BPD.RefreshSchedule, log)
		if err != nil {
			return nil, err
		}
		scheduler.Start()
		app.onClose(scheduler.Stop)
	}

	schemes := gateway.NewSchemes()
	validator, err := jwtauth.FromConfig(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if err := schemes.Register(jwtauth.SchemeName, validator); err != nil {
		return nil, err
	}
	authn, err := schemes.Resolve(cfg.Auth.Scheme)
	if err != nil {
		return nil, fmt.Errorf("auth.scheme %q: %w (registered: %v)", cfg.Auth.Scheme, err, schemes.Names())
	}

	gw, err := gateway.New(cfg.Gateway.Root, authn, gateway.DefaultRoutes(gateway.Groups{
		Wallet:              wallethandler.New(walletSvc, bpdSvc, log),
		BusinessPartnerData: bpdhandler.New(bpdSvc, log),
		DIDDocument:         diddochandler.New(walletSvc, log),
		VC:                  vchandler.New(walletSvc, log),
		VP:                  vphandler.New(walletSvc, log),
	}),
		gateway.WithLogger(log),
		gateway.WithMetrics(gateway.NewMetrics(reg)),
		gateway.WithTracer(tracer.NewOTel("custodian/gateway")),
		gateway.WithAuditor(auditor),
	)
	if err != nil {
		return nil, err
	}
	app.routes = gw.Routes()

	app.handler, err = httptransport.NewRouter(httptransport.Dependencies{
		Gateway:  gw,
		Health:   probes,
		Registry: reg,
		Metrics:  request.NewMetrics(reg),
		Server:   cfg.Server,
		CORS:     cfg.CORS,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// buildAuditor always logs audit events and also publishes them to Kafka
// when brokers are configured.
func buildAuditor(cfg *config.Config, log *slog.Logger, app *application, probes *health.Handler) (*audit.Recorder, error) {
	sinks := []audit.Sink{publisher.NewLogSink(log)}
	if cfg.Kafka.Brokers != "" {
		p, err := producer.New(cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return p.Close() })
		probes.RegisterCheck("kafka", p.Health)
		sinks = append(sinks, producer.NewAuditSink(p, cfg.Kafka.AuditTopic))
	}
	pub := publisher.New(sinks, publisher.WithAsyncBuffer(1024), publisher.WithLogger(log))
	app.onClose(func(context.Context) error {
		pub.Close()
		return nil
	})
	return audit.NewRecorder(log, pub), nil
}

// buildCache prefers Redis so replicas share partner data; without it an
// in-process TTL cache is used.
func buildCache(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, app *application, probes *health.Handler) (bpdservice.Cache, error) {
	cacheMetrics := cache.NewMetrics(reg)
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		mem := cache.NewMemoryCache(cfg.BPD.CacheTTL, memoryCacheCapacity, cacheMetrics)
		app.onClose(func(context.Context) error {
			mem.Stop()
			return nil
		})
		return mem, nil
	}
	app.onClose(func(context.Context) error { return client.Close() })
	probes.RegisterCheck("redis", client.Health)
	reg.MustRegister(redis.NewPoolCollector(client))
	return cache.NewRedisCache(client.Client, cfg.BPD.CacheTTL, cacheMetrics), nil
}
