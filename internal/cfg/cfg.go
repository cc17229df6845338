package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"os"
	"strings"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnableTracing     bool
	EnablePyroscope   bool
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	TrustedProxyHops  int
	MaxBodyBytes      int64

	PyroServer       string
	PyroTenantID     string
	PyroAuthUser     string
	PyroAuthPassword string

	DatabasePath string
	RedisURL     string
	PolicyFile   string
	PublicURL    string

	AdminToken         string
	AdminTokenSSMParam string

	BrevoAPIKey         string
	BrevoAPIKeySSMParam string
	SenderEmail         string
	SenderName          string
	MailRatePerSecond   float64

	GeminiAPIKey         string
	GeminiAPIKeySSMParam string
	GeminiModel          string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.PyroAuthUser, "pyro-auth-user", "", "basic auth user for pyro-server")
	fs.StringVar(&c.PyroAuthPassword, "pyro-auth-password", "", "basic auth password for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 1, "number of trusted reverse proxies in front of the service (0 ignores X-Forwarded-For)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 64<<10, "max request body size in bytes")

	fs.StringVar(&c.DatabasePath, "database-path", "newsletter.db", "sqlite database file (or file: DSN)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "redis URL for shared rate limit counters (empty keeps counters in memory)")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "YAML file overriding the request pipeline policy")
	fs.StringVar(&c.PublicURL, "public-url", "http://localhost:8080", "externally reachable base URL, used for unsubscribe links")

	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token for admin routes")
	fs.StringVar(&c.AdminTokenSSMParam, "admin-token-ssm-param", "", "ssm parameter name holding the admin token")

	fs.StringVar(&c.BrevoAPIKey, "brevo-api-key", "", "Brevo API key for outbound email")
	fs.StringVar(&c.BrevoAPIKeySSMParam, "brevo-api-key-ssm-param", "", "ssm parameter name holding the Brevo API key")
	fs.StringVar(&c.SenderEmail, "sender-email", "newsletter@linnemanlabs.com", "From address for outbound email")
	fs.StringVar(&c.SenderName, "sender-name", "LinnemanLabs", "From name for outbound email")
	fs.Float64Var(&c.MailRatePerSecond, "mail-rate", 5, "max outbound emails per second during a newsletter send")

	fs.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "API key for AI text generation")
	fs.StringVar(&c.GeminiAPIKeySSMParam, "gemini-api-key-ssm-param", "", "ssm parameter name holding the AI API key")
	fs.StringVar(&c.GeminiModel, "gemini-model", "gemini-1.5-flash", "model used for AI text generation")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	if (c.PyroAuthUser == "") != (c.PyroAuthPassword == "") {
		errs = append(errs, fmt.Errorf("PYRO_AUTH_USER and PYRO_AUTH_PASSWORD must be set together"))
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be 0..8 (got %d)", c.TrustedProxyHops))
	}
	if c.MaxBodyBytes < 1024 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be at least 1024 (got %d)", c.MaxBodyBytes))
	}

	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, fmt.Errorf("DATABASE_PATH is required"))
	}
	if c.RedisURL != "" {
		if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, fmt.Errorf("REDIS_URL must be a redis:// or rediss:// URL (got %q)", c.RedisURL))
		}
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_URL must be an absolute URL (got %q)", c.PublicURL))
	}

	if c.AdminToken != "" && c.AdminTokenSSMParam != "" {
		errs = append(errs, fmt.Errorf("set only one of ADMIN_TOKEN and ADMIN_TOKEN_SSM_PARAM"))
	}
	if c.BrevoAPIKey != "" && c.BrevoAPIKeySSMParam != "" {
		errs = append(errs, fmt.Errorf("set only one of BREVO_API_KEY and BREVO_API_KEY_SSM_PARAM"))
	}
	if c.GeminiAPIKey != "" && c.GeminiAPIKeySSMParam != "" {
		errs = append(errs, fmt.Errorf("set only one of GEMINI_API_KEY and GEMINI_API_KEY_SSM_PARAM"))
	}

	if _, err := mail.ParseAddress(c.SenderEmail); err != nil {
		errs = append(errs, fmt.Errorf("invalid SENDER_EMAIL %q: %v", c.SenderEmail, err))
	}
	if c.MailRatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("MAIL_RATE must be > 0 (got %g)", c.MailRatePerSecond))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
