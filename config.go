package secapi

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sec-filings/secapi-go/internal/envconfig"
	"github.com/sec-filings/secapi-go/internal/logging"
	"github.com/sec-filings/secapi-go/internal/metrics"
)

// Logger is the structured-logging seam used throughout the client. It's an
// alias for the internal logging.Logger interface, mirroring the teacher's
// Logger = logging.Logger pattern in client.go.
type Logger = logging.Logger

// NoopLogger performs no operations. It's the default Logger.
type NoopLogger = logging.NoopLogger

const (
	defaultBaseURL                      = "https://api.secfilings.example/v1"
	defaultStreamURL                    = "wss://stream.secfilings.example"
	defaultRequestTimeout                = 30 * time.Second
	defaultRetryMaxAttempts              = 4
	defaultRetryInitialDelay             = 500 * time.Millisecond
	defaultRetryMaxDelay                 = 30 * time.Second
	defaultRetryBackoffFactor            = 2.0
	defaultRateLimitThreshold            = 0.1
	defaultQueueWaitWarningThreshold     = 10 * time.Second
	defaultQueueWaitFallback             = 60 * time.Second
	defaultStreamMaxReconnectAttempts    = 10
	defaultStreamInitialReconnectDelay   = 1 * time.Second
	defaultStreamMaxReconnectDelay       = 60 * time.Second
	defaultStreamBackoffMultiplier       = 2.0
	defaultStreamLatencyWarningThreshold = 5 * time.Second
	configFileEnvVar                     = "SECAPI_CONFIG_FILE"
	defaultConfigFile                    = "secapi.yaml"
)

// Callback slot signatures. Every slot is optional; none may return a
// meaningful value, per spec §6 — return values are ignored by design, so
// these are all bare funcs, never func(...) error.
type (
	OnRequestFunc       func(requestID, method, url string, headersSanitized map[string][]string)
	OnResponseFunc      func(requestID string, status int, durationMs int64, url, method string)
	OnRetryFunc         func(requestID string, attempt, maxAttempts int, errorClass, errorMessage string, willRetryIn time.Duration)
	OnErrorFunc         func(requestID string, err error, url, method string)
	OnRateLimitFunc     func(requestID string, retryAfter *int, resetAt *time.Time, attempt int)
	OnThrottleFunc      func(requestID string, remaining, limit *int, delay time.Duration, resetAt *time.Time)
	OnQueueFunc         func(requestID string, queueSize int, waitTime time.Duration, resetAt *time.Time)
	OnDequeueFunc       func(requestID string, queueSizeAfter int, waited time.Duration)
	OnExcessiveWaitFunc func(requestID string, waitTime, threshold time.Duration, resetAt *time.Time)
	OnFilingFunc        func(filing StreamFiling, latencyMs int64, receivedAt time.Time)
	OnReconnectFunc     func(attemptCount int, downtimeSeconds float64)
	OnCallbackErrorFunc func(callback string, err error)
)

// Config is the client's immutable, validated configuration. Every field
// has a default except APIKey. Construct via New(opts...); Config itself
// has no exported constructor because wireDefaultCallbacks must run after
// every Option has applied.
type Config struct {
	APIKey    string
	BaseURL   string
	StreamURL string

	RequestTimeout time.Duration

	RetryMaxAttempts   int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	RetryBackoffFactor float64

	RateLimitThreshold        float64
	QueueWaitWarningThreshold time.Duration

	StreamMaxReconnectAttempts    int
	StreamInitialReconnectDelay   time.Duration
	StreamMaxReconnectDelay       time.Duration
	StreamBackoffMultiplier       float64
	StreamLatencyWarningThreshold time.Duration

	OnRequest       OnRequestFunc
	OnResponse      OnResponseFunc
	OnRetry         OnRetryFunc
	OnError         OnErrorFunc
	OnRateLimit     OnRateLimitFunc
	OnThrottle      OnThrottleFunc
	OnQueue         OnQueueFunc
	OnDequeue       OnDequeueFunc
	OnExcessiveWait OnExcessiveWaitFunc
	OnFiling        OnFilingFunc
	OnReconnect     OnReconnectFunc
	OnCallbackError OnCallbackErrorFunc

	Logger         Logger
	LogLevel       logging.Level
	DefaultLogging bool

	MetricsBackend any
	DefaultMetrics bool
}

// Option configures a Config during New.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		BaseURL:                       defaultBaseURL,
		StreamURL:                     defaultStreamURL,
		RequestTimeout:                defaultRequestTimeout,
		RetryMaxAttempts:              defaultRetryMaxAttempts,
		RetryInitialDelay:             defaultRetryInitialDelay,
		RetryMaxDelay:                 defaultRetryMaxDelay,
		RetryBackoffFactor:            defaultRetryBackoffFactor,
		RateLimitThreshold:            defaultRateLimitThreshold,
		QueueWaitWarningThreshold:     defaultQueueWaitWarningThreshold,
		StreamMaxReconnectAttempts:    defaultStreamMaxReconnectAttempts,
		StreamInitialReconnectDelay:   defaultStreamInitialReconnectDelay,
		StreamMaxReconnectDelay:       defaultStreamMaxReconnectDelay,
		StreamBackoffMultiplier:       defaultStreamBackoffMultiplier,
		StreamLatencyWarningThreshold: defaultStreamLatencyWarningThreshold,
		Logger:                        NoopLogger{},
		LogLevel:                      logging.LevelInfo,
	}
}

// buildConfig merges, in increasing precedence, built-in defaults, an
// optional YAML defaults file, SECAPI_* environment variables, and finally
// the caller's explicit Options — matching spec §6's precedence chain.
func buildConfig(opts []Option) (*Config, error) {
	cfg := defaultConfig()

	path := defaultConfigFile
	if p := os.Getenv(configFileEnvVar); p != "" {
		path = p
	}
	if yamlOverrides, err := envconfig.FromYAMLFile(path); err == nil {
		applyOverrides(cfg, yamlOverrides)
	}

	applyOverrides(cfg, envconfig.FromEnviron())

	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	wireDefaultCallbacks(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *Config, o envconfig.Overrides) {
	if o.APIKey != nil {
		cfg.APIKey = *o.APIKey
	}
	if o.BaseURL != nil {
		cfg.BaseURL = *o.BaseURL
	}
	if o.RequestTimeout != nil {
		cfg.RequestTimeout = *o.RequestTimeout
	}
	if o.RetryMaxAttempts != nil {
		cfg.RetryMaxAttempts = *o.RetryMaxAttempts
	}
	if o.RetryInitialDelay != nil {
		cfg.RetryInitialDelay = *o.RetryInitialDelay
	}
	if o.RetryMaxDelay != nil {
		cfg.RetryMaxDelay = *o.RetryMaxDelay
	}
	if o.RetryBackoffFactor != nil {
		cfg.RetryBackoffFactor = *o.RetryBackoffFactor
	}
	if o.RateLimitThreshold != nil {
		cfg.RateLimitThreshold = *o.RateLimitThreshold
	}
	if o.QueueWaitWarningThresh != nil {
		cfg.QueueWaitWarningThreshold = *o.QueueWaitWarningThresh
	}
	if o.StreamMaxReconnect != nil {
		cfg.StreamMaxReconnectAttempts = *o.StreamMaxReconnect
	}
	if o.StreamInitialReconnect != nil {
		cfg.StreamInitialReconnectDelay = *o.StreamInitialReconnect
	}
	if o.StreamMaxReconnectDelay != nil {
		cfg.StreamMaxReconnectDelay = *o.StreamMaxReconnectDelay
	}
	if o.StreamBackoffMultiplier != nil {
		cfg.StreamBackoffMultiplier = *o.StreamBackoffMultiplier
	}
	if o.StreamLatencyWarningThr != nil {
		cfg.StreamLatencyWarningThreshold = *o.StreamLatencyWarningThr
	}
	if o.DefaultLogging != nil {
		cfg.DefaultLogging = *o.DefaultLogging
	}
	if o.DefaultMetrics != nil {
		cfg.DefaultMetrics = *o.DefaultMetrics
	}
}

var placeholderAPIKeys = map[string]bool{
	"your_api_key_here": true,
	"changeme":          true,
	"replace_me":        true,
	"placeholder":       true,
	"xxxxxxxxxx":        true,
	"api_key":           true,
}

func validateConfig(cfg *Config) error {
	key := strings.TrimSpace(cfg.APIKey)
	if len(key) < 10 {
		return newConfigurationError("api_key is required and must be at least 10 characters")
	}
	if placeholderAPIKeys[strings.ToLower(key)] {
		return newConfigurationError("api_key looks like a placeholder value, not a real credential")
	}
	if cfg.BaseURL == "" {
		return newConfigurationError("base_url must not be empty")
	}
	if cfg.RetryMaxAttempts < 1 {
		return newConfigurationError("retry_max_attempts must be >= 1")
	}
	if cfg.RetryInitialDelay <= 0 {
		return newConfigurationError("retry_initial_delay must be > 0")
	}
	if cfg.RetryMaxDelay < cfg.RetryInitialDelay {
		return newConfigurationError("retry_max_delay must be >= retry_initial_delay")
	}
	if cfg.RetryBackoffFactor < 2 {
		return newConfigurationError("retry_backoff_factor must be >= 2")
	}
	if cfg.RateLimitThreshold < 0 || cfg.RateLimitThreshold > 1 {
		return newConfigurationError("rate_limit_threshold must be within [0.0, 1.0]")
	}
	return nil
}

// --- functional options, one per Config field worth exposing ---

func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = strings.TrimRight(url, "/") }
}
func WithStreamURL(url string) Option { return func(c *Config) { c.StreamURL = url } }
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}
func WithRetryMaxAttempts(n int) Option   { return func(c *Config) { c.RetryMaxAttempts = n } }
func WithRetryInitialDelay(d time.Duration) Option {
	return func(c *Config) { c.RetryInitialDelay = d }
}
func WithRetryMaxDelay(d time.Duration) Option { return func(c *Config) { c.RetryMaxDelay = d } }
func WithRetryBackoffFactor(f float64) Option {
	return func(c *Config) { c.RetryBackoffFactor = f }
}
func WithRateLimitThreshold(f float64) Option {
	return func(c *Config) { c.RateLimitThreshold = f }
}
func WithQueueWaitWarningThreshold(d time.Duration) Option {
	return func(c *Config) { c.QueueWaitWarningThreshold = d }
}
func WithStreamMaxReconnectAttempts(n int) Option {
	return func(c *Config) { c.StreamMaxReconnectAttempts = n }
}
func WithStreamInitialReconnectDelay(d time.Duration) Option {
	return func(c *Config) { c.StreamInitialReconnectDelay = d }
}
func WithStreamMaxReconnectDelay(d time.Duration) Option {
	return func(c *Config) { c.StreamMaxReconnectDelay = d }
}
func WithStreamBackoffMultiplier(f float64) Option {
	return func(c *Config) { c.StreamBackoffMultiplier = f }
}
func WithStreamLatencyWarningThreshold(d time.Duration) Option {
	return func(c *Config) { c.StreamLatencyWarningThreshold = d }
}

func WithOnRequest(fn OnRequestFunc) Option             { return func(c *Config) { c.OnRequest = fn } }
func WithOnResponse(fn OnResponseFunc) Option           { return func(c *Config) { c.OnResponse = fn } }
func WithOnRetry(fn OnRetryFunc) Option                 { return func(c *Config) { c.OnRetry = fn } }
func WithOnError(fn OnErrorFunc) Option                 { return func(c *Config) { c.OnError = fn } }
func WithOnRateLimit(fn OnRateLimitFunc) Option         { return func(c *Config) { c.OnRateLimit = fn } }
func WithOnThrottle(fn OnThrottleFunc) Option           { return func(c *Config) { c.OnThrottle = fn } }
func WithOnQueue(fn OnQueueFunc) Option                 { return func(c *Config) { c.OnQueue = fn } }
func WithOnDequeue(fn OnDequeueFunc) Option             { return func(c *Config) { c.OnDequeue = fn } }
func WithOnExcessiveWait(fn OnExcessiveWaitFunc) Option { return func(c *Config) { c.OnExcessiveWait = fn } }
func WithOnFiling(fn OnFilingFunc) Option               { return func(c *Config) { c.OnFiling = fn } }
func WithOnReconnect(fn OnReconnectFunc) Option         { return func(c *Config) { c.OnReconnect = fn } }
func WithOnCallbackError(fn OnCallbackErrorFunc) Option { return func(c *Config) { c.OnCallbackError = fn } }

// WithLogger provides a custom Logger. Default is NoopLogger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithLogLevel sets the base level the default logging emitter uses for
// events that aren't pinned to warn/error by spec §4.7's fixed-level table.
func WithLogLevel(level logging.Level) Option {
	return func(c *Config) { c.LogLevel = level }
}

// WithDefaultLogging enables the structured-JSON default emitter for any
// callback slot still empty once every Option has applied. Logging wires
// before metrics, per spec §9.
func WithDefaultLogging(enabled bool) Option {
	return func(c *Config) { c.DefaultLogging = enabled }
}

// WithMetricsBackend installs a duck-typed metrics backend (see
// internal/metrics) used by the default metrics emitter.
func WithMetricsBackend(backend any) Option {
	return func(c *Config) { c.MetricsBackend = backend }
}

// WithDefaultMetrics enables the metrics default emitter for any callback
// slot still empty after default logging has had its turn.
func WithDefaultMetrics(enabled bool) Option {
	return func(c *Config) { c.DefaultMetrics = enabled }
}

// wireDefaultCallbacks fills empty callback slots, logging first and
// metrics second, each only touching slots its predecessor left empty.
// Explicit callbacks set via Option always win because they're already
// non-nil by the time this runs.
func wireDefaultCallbacks(cfg *Config) {
	if cfg.DefaultLogging {
		wireLoggingDefaults(cfg)
	}
	if cfg.DefaultMetrics {
		wireMetricsDefaults(cfg)
	}
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func wireLoggingDefaults(cfg *Config) {
	logger := cfg.Logger
	if logger == nil {
		logger = NoopLogger{}
	}
	level := cfg.LogLevel

	if cfg.OnRequest == nil {
		cfg.OnRequest = func(requestID, method, url string, headers map[string][]string) {
			logging.Emit(logger, level, logging.EventRequestStart, requestID, map[string]any{
				"method": method, "url": url,
			}, nowRFC3339())
		}
	}
	if cfg.OnResponse == nil {
		cfg.OnResponse = func(requestID string, status int, durationMs int64, url, method string) {
			logging.Emit(logger, level, logging.EventRequestComplete, requestID, map[string]any{
				"status": status, "duration_ms": durationMs, "success": status < 400,
			}, nowRFC3339())
		}
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(requestID string, attempt, maxAttempts int, errClass, errMsg string, willRetryIn time.Duration) {
			logging.Emit(logger, level, logging.EventRequestRetry, requestID, map[string]any{
				"attempt": attempt, "max_attempts": maxAttempts,
				"error_class": errClass, "will_retry_in_ms": willRetryIn.Milliseconds(),
			}, nowRFC3339())
		}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(requestID string, err error, url, method string) {
			logging.Emit(logger, level, logging.EventRequestError, requestID, map[string]any{
				"error_class": errorClass(err), "error_message": err.Error(),
			}, nowRFC3339())
		}
	}
	if cfg.OnRateLimit == nil {
		cfg.OnRateLimit = func(requestID string, retryAfter *int, resetAt *time.Time, attempt int) {
			logging.Emit(logger, level, logging.EventRateLimitHit, requestID, map[string]any{
				"retry_after": retryAfter, "attempt": attempt,
			}, nowRFC3339())
		}
	}
	if cfg.OnThrottle == nil {
		cfg.OnThrottle = func(requestID string, remaining, limit *int, delay time.Duration, resetAt *time.Time) {
			logging.Emit(logger, level, logging.EventRateLimitThrot, requestID, map[string]any{
				"remaining": remaining, "limit": limit, "delay_ms": delay.Milliseconds(),
			}, nowRFC3339())
		}
	}
	if cfg.OnQueue == nil {
		cfg.OnQueue = func(requestID string, queueSize int, waitTime time.Duration, resetAt *time.Time) {
			logging.Emit(logger, level, logging.EventRateLimitQueue, requestID, map[string]any{
				"queue_size": queueSize, "wait_time_ms": waitTime.Milliseconds(),
			}, nowRFC3339())
		}
	}
	if cfg.OnDequeue == nil {
		cfg.OnDequeue = func(requestID string, queueSizeAfter int, waited time.Duration) {
			logging.Emit(logger, level, logging.EventRateLimitDeque, requestID, map[string]any{
				"queue_size": queueSizeAfter, "waited_ms": waited.Milliseconds(),
			}, nowRFC3339())
		}
	}
	if cfg.OnExcessiveWait == nil {
		cfg.OnExcessiveWait = func(requestID string, waitTime, threshold time.Duration, resetAt *time.Time) {
			logging.Emit(logger, level, logging.EventExcessiveWait, requestID, map[string]any{
				"wait_time_ms": waitTime.Milliseconds(), "threshold_ms": threshold.Milliseconds(),
			}, nowRFC3339())
		}
	}
	if cfg.OnFiling == nil {
		cfg.OnFiling = func(filing StreamFiling, latencyMs int64, receivedAt time.Time) {
			logging.Emit(logger, level, logging.EventStreamFiling, "", map[string]any{
				"accession_no": filing.AccessionNo, "form_type": filing.FormType, "latency_ms": latencyMs,
			}, nowRFC3339())
		}
	}
	if cfg.OnReconnect == nil {
		cfg.OnReconnect = func(attemptCount int, downtimeSeconds float64) {
			logging.Emit(logger, level, logging.EventStreamReconnect, "", map[string]any{
				"attempt_count": attemptCount, "downtime_seconds": downtimeSeconds,
			}, nowRFC3339())
		}
	}
	if cfg.OnCallbackError == nil {
		cfg.OnCallbackError = func(callback string, err error) {
			logging.Emit(logger, logging.LevelError, logging.EventCallbackError, "", map[string]any{
				"callback": callback, "error_class": errorClass(err), "error_message": err.Error(),
			}, nowRFC3339())
		}
	}
}

func wireMetricsDefaults(cfg *Config) {
	sink := metrics.New(cfg.MetricsBackend)

	if cfg.OnRequest == nil {
		cfg.OnRequest = func(requestID, method, url string, headers map[string][]string) {
			sink.Increment("sec_api.requests.total", map[string]string{"method": method})
		}
	}
	if cfg.OnResponse == nil {
		cfg.OnResponse = func(requestID string, status int, durationMs int64, url, method string) {
			tags := map[string]string{"method": method, "status": fmt.Sprintf("%d", status), "status_class": statusClass(status)}
			sink.Increment("sec_api.requests.success", tags)
			sink.Histogram("sec_api.requests.duration_ms", float64(durationMs), tags)
		}
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(requestID string, attempt, maxAttempts int, errClass, errMsg string, willRetryIn time.Duration) {
			tags := map[string]string{"attempt": fmt.Sprintf("%d", attempt), "error_class": errClass}
			sink.Increment("sec_api.retries.total", tags)
			if attempt >= maxAttempts {
				sink.Increment("sec_api.retries.exhausted", tags)
			}
		}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(requestID string, err error, url, method string) {
			sink.Increment("sec_api.requests.error", map[string]string{"method": method, "error_class": errorClass(err)})
		}
	}
	if cfg.OnRateLimit == nil {
		cfg.OnRateLimit = func(requestID string, retryAfter *int, resetAt *time.Time, attempt int) {
			sink.Increment("sec_api.rate_limit.hit", nil)
			if retryAfter != nil {
				sink.Gauge("sec_api.rate_limit.retry_after", float64(*retryAfter), nil)
			}
		}
	}
	if cfg.OnThrottle == nil {
		cfg.OnThrottle = func(requestID string, remaining, limit *int, delay time.Duration, resetAt *time.Time) {
			sink.Increment("sec_api.rate_limit.throttle", nil)
			sink.Histogram("sec_api.rate_limit.delay_ms", float64(delay.Milliseconds()), nil)
			if remaining != nil {
				sink.Gauge("sec_api.rate_limit.remaining", float64(*remaining), nil)
			}
		}
	}
	if cfg.OnFiling == nil {
		cfg.OnFiling = func(filing StreamFiling, latencyMs int64, receivedAt time.Time) {
			sink.Increment("sec_api.stream.filings", map[string]string{"form_type": filing.FormType})
			sink.Histogram("sec_api.stream.latency_ms", float64(latencyMs), nil)
		}
	}
	if cfg.OnReconnect == nil {
		cfg.OnReconnect = func(attemptCount int, downtimeSeconds float64) {
			sink.Increment("sec_api.stream.reconnects", nil)
			sink.Histogram("sec_api.stream.downtime_ms", downtimeSeconds*1000, nil)
		}
	}
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
