package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/adminhttp"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/health"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/mailer"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/pipeline"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/stages"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/storage/sqlite"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/subscription"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/subscriptionhttp"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/textgen"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-newsletter/internal/version"
)

// drainPeriod is how long readiness fails before listeners close, so the load
// balancer stops routing to this instance first
const drainPeriod = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// local development keeps secrets in .env; absence is normal in production
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "dotenv:", err)
	}

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s (commit_date=%s, build_id=%s, build_date=%s, go=%s)\n",
			vi, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "NEWSLETTER_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"database_path", conf.DatabasePath,
		"redis", conf.RedisURL != "",
		"policy_file", conf.PolicyFile,
		"public_url", conf.PublicURL,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:           conf.EnablePyroscope,
		AppName:           v.AppName,
		ServerAddress:     conf.PyroServer,
		BasicAuthUser:     conf.PyroAuthUser,
		BasicAuthPassword: conf.PyroAuthPassword,
		TenantID:          conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	// Insecure is true because we only write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	policy, err := cfg.LoadPolicy(conf.PolicyFile)
	if err != nil {
		L.Error(ctx, err, "failed to load pipeline policy")
		os.Exit(1)
	}

	store, err := sqlite.New(conf.DatabasePath)
	if err != nil {
		L.Error(ctx, err, "failed to open subscriber store", "database_path", conf.DatabasePath)
		os.Exit(1)
	}
	subs := subscription.NewService(store)

	// shared counters when several instances sit behind one balancer
	var counters ratelimit.Store
	var rdb *redis.Client
	if conf.RedisURL != "" {
		rdb, err = ratelimit.DialRedis(ctx, conf.RedisURL)
		if err != nil {
			L.Error(ctx, err, "failed to connect to redis")
			os.Exit(1)
		}
		defer rdb.Close()
		counters = ratelimit.NewRedisStore(rdb, "newsletter:ratelimit:")
	} else {
		counters = ratelimit.NewMemoryStore(ctx, ratelimit.WithSweepInterval(policy.RateLimit.SweepInterval))
	}

	resolver := secrets.NewResolver()
	adminToken, err := resolver.Resolve(ctx, conf.AdminToken, conf.AdminTokenSSMParam)
	if err != nil {
		L.Error(ctx, err, "failed to resolve admin token")
		os.Exit(1)
	}
	if adminToken == "" {
		L.Warn(ctx, "no admin token configured, admin routes will answer 503")
	}
	brevoKey, err := resolver.Resolve(ctx, conf.BrevoAPIKey, conf.BrevoAPIKeySSMParam)
	if err != nil {
		L.Error(ctx, err, "failed to resolve brevo api key, email sending disabled")
	}
	geminiKey, err := resolver.Resolve(ctx, conf.GeminiAPIKey, conf.GeminiAPIKeySSMParam)
	if err != nil {
		L.Error(ctx, err, "failed to resolve text generation api key, text generation disabled")
	}

	// subscription pipeline
	reqlog := stages.NewRequestLogger(stages.LoggerConfig{
		LogRequestBody:        policy.Logging.LogRequestBody,
		LogResponseBody:       policy.Logging.LogResponseBody,
		LogSuccessfulRequests: policy.Logging.LogSuccessfulRequests,
		LogFailedRequests:     policy.Logging.LogFailedRequests,
		SensitiveFields:       policy.Logging.SensitiveFields,
		MaxBodyLength:         policy.Logging.MaxBodyLength,
	}, stages.WithOnComplete(m.ObservePipeline))

	limiter := ratelimit.NewLimiter(counters, ratelimit.Config{
		Window:                 policy.RateLimit.Window,
		MaxRequests:            policy.RateLimit.MaxRequests,
		SkipSuccessfulRequests: policy.RateLimit.SkipSuccessfulRequests,
		SkipFailedRequests:     policy.RateLimit.SkipFailedRequests,
	}, ratelimit.WithOnDenied(func(key string) {
		m.IncRateLimitDenied()
	}))

	sanitizer := stages.NewSanitizer(stages.SanitizerConfig{MaxLength: policy.Sanitize.MaxLength})
	emails := stages.NewEmailValidator(stages.EmailConfig{
		AllowedDomains: policy.Email.AllowedDomains,
		BlockedDomains: policy.Email.BlockedDomains,
	})
	subscriptions := stages.NewSubscriptionValidator(subs, stages.SubscriptionConfig{
		AllowDuplicates: policy.Subscription.AllowDuplicates,
		RequireFullName: policy.Subscription.RequireFullName,
		MinNameLength:   policy.Subscription.MinNameLength,
		MaxNameLength:   policy.Subscription.MaxNameLength,
	}, stages.WithOnOutcome(func(o stages.Outcome) {
		m.IncSubscriptionOutcome(string(o))
	}))

	adminAuth := httpmw.RequireBearer(adminToken)

	subscriptionRoutes := subscriptionhttp.New(subscriptionhttp.Options{
		Service:         subs,
		Subscribe:       pipeline.New(reqlog, limiter, pipeline.DecodeBody(), sanitizer, emails, subscriptions),
		Unsubscribe:     pipeline.New(reqlog, limiter, pipeline.DecodeBody(), sanitizer),
		Admin:           adminAuth,
		RequireFullName: policy.Subscription.RequireFullName,
	})

	// outbound email
	brevo := mailer.NewClient(brevoKey, mailer.Address{Email: conf.SenderEmail, Name: conf.SenderName})
	if !brevo.Configured() {
		L.Warn(ctx, "no brevo api key configured, email routes will answer 503")
	}
	broadcaster := mailer.NewBroadcaster(brevo,
		mailer.WithPublicURL(conf.PublicURL),
		mailer.WithFromName(conf.SenderName),
		mailer.WithSendRate(conf.MailRatePerSecond),
		mailer.WithOnDelivery(m.IncMailDelivery),
	)

	// text generation
	var model textgen.Model
	if geminiKey != "" {
		gm, err := textgen.NewGeminiModel(ctx, geminiKey, conf.GeminiModel)
		if err != nil {
			L.Error(ctx, err, "failed to initialize text generation model", "model", conf.GeminiModel)
		} else {
			model = gm
		}
	}
	textGen := textgen.NewService(model, conf.GeminiModel, geminiKey != "", textgen.WithOnResult(m.IncTextGen))

	adminRoutes := adminhttp.New(adminhttp.Options{
		Subscribers: subs,
		Mail:        broadcaster,
		TextGen:     textGen,
		Auth:        adminAuth,
	})

	var gate health.ShutdownGate

	deps := []health.Probe{gate.Probe(), health.Ping("sqlite", store, 0)}
	if rdb != nil {
		deps = append(deps, health.Ping("redis", redisPinger{rdb}, 0))
	}
	readiness := health.All(deps...)

	// coarse per-IP token bucket in front of everything; the window limiter
	// inside the pipeline enforces the subscription policy
	flood := ratelimit.NewFloodGuard(ctx,
		ratelimit.WithOnFloodDenied(func(ip string) {
			m.IncFloodDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "flood guard triggered", "ip", ip)
		}),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  flood.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		MaxBodyBytes: conf.MaxBodyBytes,
		Routes:       []httpserver.RouteRegistrar{subscriptionRoutes, adminRoutes},
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// ops listener serves metrics, probes and pprof to internal monitoring only
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "period", drainPeriod)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()
	if err := store.Close(); err != nil {
		L.Error(bg, err, "subscriber store close")
	}

	L.Info(bg, "shutdown complete")
}

// redisPinger adapts a redis client to health.Pinger
type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
