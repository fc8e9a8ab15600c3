// Package envconfig loads client configuration from SECAPI_* environment
// variables and an optional YAML defaults file, following the precedence
// chain documented in spec §6: explicit construction argument > environment
// variable > YAML file > built-in default.
//
// Grounded on plandex-shared's app/shared/retry_config.go: a defaults
// function, an env-prefix reader, and only primitive field types, kept
// read-only once loaded.
package envconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const prefix = "SECAPI_"

// Overrides is a sparse set of config fields discovered from the
// environment or a YAML file. Nil fields mean "not specified at this
// layer" and the caller should fall through to the next layer.
type Overrides struct {
	APIKey                   *string
	BaseURL                  *string
	RequestTimeout           *time.Duration
	RetryMaxAttempts         *int
	RetryInitialDelay        *time.Duration
	RetryMaxDelay            *time.Duration
	RetryBackoffFactor       *float64
	RateLimitThreshold       *float64
	QueueWaitWarningThresh   *time.Duration
	StreamMaxReconnect       *int
	StreamInitialReconnect   *time.Duration
	StreamMaxReconnectDelay  *time.Duration
	StreamBackoffMultiplier  *float64
	StreamLatencyWarningThr  *time.Duration
	DefaultLogging           *bool
	DefaultMetrics           *bool
}

// FromEnviron reads SECAPI_* variables. Unset or unparseable variables are
// left nil rather than erroring — config validation catches anything that
// is still missing once every layer has been merged.
func FromEnviron() Overrides {
	var o Overrides
	o.APIKey = str("API_KEY")
	o.BaseURL = str("BASE_URL")
	o.RequestTimeout = duration("REQUEST_TIMEOUT")
	o.RetryMaxAttempts = integer("RETRY_MAX_ATTEMPTS")
	o.RetryInitialDelay = duration("RETRY_INITIAL_DELAY")
	o.RetryMaxDelay = duration("RETRY_MAX_DELAY")
	o.RetryBackoffFactor = float("RETRY_BACKOFF_FACTOR")
	o.RateLimitThreshold = float("RATE_LIMIT_THRESHOLD")
	o.QueueWaitWarningThresh = duration("QUEUE_WAIT_WARNING_THRESHOLD")
	o.StreamMaxReconnect = integer("STREAM_MAX_RECONNECT_ATTEMPTS")
	o.StreamInitialReconnect = duration("STREAM_INITIAL_RECONNECT_DELAY")
	o.StreamMaxReconnectDelay = duration("STREAM_MAX_RECONNECT_DELAY")
	o.StreamBackoffMultiplier = float("STREAM_BACKOFF_MULTIPLIER")
	o.StreamLatencyWarningThr = duration("STREAM_LATENCY_WARNING_THRESHOLD")
	o.DefaultLogging = boolean("DEFAULT_LOGGING")
	o.DefaultMetrics = boolean("DEFAULT_METRICS")
	return o
}

// FromYAMLFile parses a conventional defaults file. A missing file is not
// an error — it simply contributes no overrides, per spec §6 (YAML parsing
// itself is an adapter concern; the core only merges what it's handed).
func FromYAMLFile(path string) (Overrides, error) {
	var o Overrides
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return o, err
	}

	var doc struct {
		APIKey                        string  `yaml:"api_key"`
		BaseURL                       string  `yaml:"base_url"`
		RequestTimeoutSeconds         float64 `yaml:"request_timeout_seconds"`
		RetryMaxAttempts              int     `yaml:"retry_max_attempts"`
		RetryInitialDelaySeconds      float64 `yaml:"retry_initial_delay_seconds"`
		RetryMaxDelaySeconds          float64 `yaml:"retry_max_delay_seconds"`
		RetryBackoffFactor            float64 `yaml:"retry_backoff_factor"`
		RateLimitThreshold            float64 `yaml:"rate_limit_threshold"`
		QueueWaitWarningThreshSeconds float64 `yaml:"queue_wait_warning_threshold_seconds"`
		DefaultLogging                *bool   `yaml:"default_logging"`
		DefaultMetrics                *bool   `yaml:"default_metrics"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return o, err
	}

	if doc.APIKey != "" {
		o.APIKey = &doc.APIKey
	}
	if doc.BaseURL != "" {
		o.BaseURL = &doc.BaseURL
	}
	if doc.RequestTimeoutSeconds > 0 {
		d := secondsToDuration(doc.RequestTimeoutSeconds)
		o.RequestTimeout = &d
	}
	if doc.RetryMaxAttempts > 0 {
		o.RetryMaxAttempts = &doc.RetryMaxAttempts
	}
	if doc.RetryInitialDelaySeconds > 0 {
		d := secondsToDuration(doc.RetryInitialDelaySeconds)
		o.RetryInitialDelay = &d
	}
	if doc.RetryMaxDelaySeconds > 0 {
		d := secondsToDuration(doc.RetryMaxDelaySeconds)
		o.RetryMaxDelay = &d
	}
	if doc.RetryBackoffFactor > 0 {
		o.RetryBackoffFactor = &doc.RetryBackoffFactor
	}
	if doc.RateLimitThreshold > 0 {
		o.RateLimitThreshold = &doc.RateLimitThreshold
	}
	if doc.QueueWaitWarningThreshSeconds > 0 {
		d := secondsToDuration(doc.QueueWaitWarningThreshSeconds)
		o.QueueWaitWarningThresh = &d
	}
	if doc.DefaultLogging != nil {
		o.DefaultLogging = doc.DefaultLogging
	}
	if doc.DefaultMetrics != nil {
		o.DefaultMetrics = doc.DefaultMetrics
	}
	return o, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func str(name string) *string {
	v, ok := os.LookupEnv(prefix + name)
	if !ok || v == "" {
		return nil
	}
	return &v
}

func integer(name string) *int {
	v, ok := os.LookupEnv(prefix + name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return &n
}

func float(name string) *float64 {
	v, ok := os.LookupEnv(prefix + name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil
	}
	return &f
}

func duration(name string) *time.Duration {
	v, ok := os.LookupEnv(prefix + name)
	if !ok {
		return nil
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil
	}
	d := secondsToDuration(secs)
	return &d
}

func boolean(name string) *bool {
	v, ok := os.LookupEnv(prefix + name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return &b
}
