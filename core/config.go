// Package core implements the Bedrock command object model: the per-request
// Command value, its timing ledger and crash-identification map, and the
// status/config/logging scaffolding shared by the rest of the module.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the per-process settings of a single Bedrock node. It
// supports the usual three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Cluster topology (the other nodes' addresses and priorities) is not part
// of Config; it lives in cluster.Config, loaded separately from YAML.
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithNodeName("node1"),
//	    WithCommandPort(8888),
//	    WithPriority(100),
//	)
type Config struct {
	NodeName string `json:"node_name" env:"BEDROCK_NODE_NAME"`
	NodeID   string `json:"node_id" env:"BEDROCK_NODE_ID"`
	Priority int    `json:"priority" env:"BEDROCK_PRIORITY" default:"100"`
	DataDir  string `json:"data_dir" env:"BEDROCK_DATA_DIR" default:"./data"`

	Address string `json:"address" env:"BEDROCK_ADDRESS"`

	CommandPort int `json:"command_port" env:"BEDROCK_COMMAND_PORT" default:"8888"`
	ControlPort int `json:"control_port" env:"BEDROCK_CONTROL_PORT" default:"8889"`
	ClusterPort int `json:"cluster_port" env:"BEDROCK_CLUSTER_PORT" default:"8890"`

	HTTP HTTPConfig `json:"http"`

	Membership MembershipConfig `json:"membership"`

	Resilience ResilienceConfig `json:"resilience"`

	Logging LoggingConfig `json:"logging"`

	Development DevelopmentConfig `json:"development"`

	Telemetry TelemetryConfig `json:"telemetry"`

	// Plugins lists the names of plugins to register at startup, in
	// registration order. The default list holds only the built-in "query"
	// plugin; bedrockd refuses to start on a name it does not know.
	Plugins []string `json:"plugins" env:"BEDROCK_PLUGINS"`

	// logger instance for configuration operations (excluded from JSON)
	logger Logger `json:"-"`
}

// HTTPConfig contains control-port HTTP server configuration: timeouts,
// limits, and CORS settings.
type HTTPConfig struct {
	ReadTimeout       time.Duration `json:"read_timeout" env:"BEDROCK_HTTP_READ_TIMEOUT" default:"30s"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"BEDROCK_HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"BEDROCK_HTTP_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"BEDROCK_HTTP_IDLE_TIMEOUT" default:"120s"`
	MaxHeaderBytes    int           `json:"max_header_bytes" env:"BEDROCK_HTTP_MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"BEDROCK_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	CORS              CORSConfig    `json:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration for the
// control port. Supports wildcard domains (*.example.com) and wildcard
// ports (http://localhost:*).
type CORSConfig struct {
	Enabled          bool     `json:"enabled" env:"BEDROCK_CORS_ENABLED" default:"false"`
	AllowedOrigins   []string `json:"allowed_origins" env:"BEDROCK_CORS_ORIGINS"`
	AllowedMethods   []string `json:"allowed_methods" env:"BEDROCK_CORS_METHODS" default:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `json:"allowed_headers" env:"BEDROCK_CORS_HEADERS" default:"Content-Type,Authorization"`
	ExposedHeaders   []string `json:"exposed_headers" env:"BEDROCK_CORS_EXPOSED_HEADERS"`
	AllowCredentials bool     `json:"allow_credentials" env:"BEDROCK_CORS_CREDENTIALS" default:"false"`
	MaxAge           int      `json:"max_age" env:"BEDROCK_CORS_MAX_AGE" default:"86400"`
}

// MembershipConfig contains the Redis-backed cluster membership directory
// settings (package membership). Bedrock's own replicated-commit wire
// protocol is out of scope (§1 Non-goals); membership only needs a
// liveness/priority signal for the role state machine (§4.4).
type MembershipConfig struct {
	RedisURL          string        `json:"redis_url" env:"BEDROCK_REDIS_URL"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" env:"BEDROCK_MEMBERSHIP_HEARTBEAT" default:"2s"`
	TTL               time.Duration `json:"ttl" env:"BEDROCK_MEMBERSHIP_TTL" default:"6s"`
}

// ResilienceConfig contains fault tolerance settings used by the httpsx
// transaction manager and the sync thread's conflict-retry escalation.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
	Timeout        TimeoutConfig        `json:"timeout"`
}

// CircuitBreakerConfig defines circuit breaker pattern settings, applied
// per outbound host by httpsx.Manager.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"BEDROCK_CB_ENABLED" default:"true"`
	Threshold        int           `json:"threshold" env:"BEDROCK_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" env:"BEDROCK_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" env:"BEDROCK_CB_HALF_OPEN" default:"3"`
}

// RetryConfig defines exponential backoff retry settings. Neither httpsx
// nor the node controller reads it: httpsx does not retry, and the
// controller bounds its conflict retries with MaxConflictRetries on a
// backoff schedule of its own.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" env:"BEDROCK_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" env:"BEDROCK_RETRY_INITIAL_INTERVAL" default:"1s"`
	MaxInterval     time.Duration `json:"max_interval" env:"BEDROCK_RETRY_MAX_INTERVAL" default:"30s"`
	Multiplier      float64       `json:"multiplier" env:"BEDROCK_RETRY_MULTIPLIER" default:"2.0"`
}

// TimeoutConfig defines default/max timeout settings, overridable per
// command by the `timeout` header (§3).
type TimeoutConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" env:"BEDROCK_TIMEOUT_DEFAULT" default:"290s"`
	MaxTimeout     time.Duration `json:"max_timeout" env:"BEDROCK_TIMEOUT_MAX" default:"1h"`
}

// LoggingConfig contains logging configuration. Supports structured (JSON)
// and human-readable (text) formats.
type LoggingConfig struct {
	Level      string `json:"level" env:"BEDROCK_LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"BEDROCK_LOG_FORMAT" default:"json"`
	Output     string `json:"output" env:"BEDROCK_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" env:"BEDROCK_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.999999999Z07:00"`
}

// DevelopmentConfig contains settings for local development and testing.
// Never enable in production.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"BEDROCK_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"BEDROCK_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" env:"BEDROCK_PRETTY_LOGS" default:"false"`
}

// TelemetryConfig controls the OpenTelemetry tracing/metrics provider
// wired into node.Controller's "bedrock.peek"/"bedrock.process" spans
// (§4.3). When disabled the controller uses a no-op provider.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled" env:"BEDROCK_TELEMETRY_ENABLED" default:"false"`
	OTLPEndpoint string `json:"otlp_endpoint" env:"BEDROCK_OTLP_ENDPOINT" default:"localhost:4318"`
}

// Option is a functional option for configuring a node.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults, adjusted
// for local development unless BEDROCK_DEV_MODE is explicitly set.
func DefaultConfig() *Config {
	cfg := &Config{
		NodeName:    "bedrock-node",
		Priority:    100,
		DataDir:     "./data",
		Address:     "localhost",
		CommandPort: 8888,
		ControlPort: 8889,
		ClusterPort: 8890,
		HTTP: HTTPConfig{
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			ShutdownTimeout:   10 * time.Second,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:         86400,
			},
		},
		Membership: MembershipConfig{
			RedisURL:          "redis://localhost:6379",
			HeartbeatInterval: 2 * time.Second,
			TTL:               6 * time.Second,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				Threshold:        5,
				Timeout:          30 * time.Second,
				HalfOpenRequests: 3,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 1 * time.Second,
				MaxInterval:     30 * time.Second,
				Multiplier:      2.0,
			},
			Timeout: TimeoutConfig{
				DefaultTimeout: DefaultCommandTimeout,
				MaxTimeout:     time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339Nano,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4318",
		},
		Plugins: []string{"query"},
	}

	if os.Getenv("BEDROCK_DEV_MODE") == "" {
		cfg.Development.Enabled = true
		cfg.Development.PrettyLogs = true
		cfg.Logging.Format = "text"
	}

	return cfg
}

// LoadFromEnv loads configuration from environment variables and validates
// the result. Environment variables take precedence over defaults but are
// overridden by functional options.
func (c *Config) LoadFromEnv() error {
	if c.logger != nil {
		c.logger.Info("loading configuration from environment", nil)
	}

	if v := os.Getenv(EnvNodeName); v != "" {
		c.NodeName = v
	}
	if v := os.Getenv("BEDROCK_NODE_ID"); v != "" {
		c.NodeID = v
	}
	if v := os.Getenv(EnvPriority); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Priority = p
		} else if c.logger != nil {
			c.logger.Warn("invalid priority in environment", map[string]interface{}{"value": v})
		}
	}
	if v := os.Getenv("BEDROCK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BEDROCK_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := os.Getenv(EnvCommandPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.CommandPort = p
		}
	}
	if v := os.Getenv(EnvControlPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.ControlPort = p
		}
	}
	if v := os.Getenv(EnvClusterPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.ClusterPort = p
		}
	}

	if v := os.Getenv("BEDROCK_CORS_ENABLED"); v != "" {
		c.HTTP.CORS.Enabled = parseBool(v)
	}
	if v := os.Getenv("BEDROCK_CORS_ORIGINS"); v != "" {
		c.HTTP.CORS.AllowedOrigins = parseStringList(v)
	}

	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Membership.RedisURL = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BEDROCK_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv(EnvDevMode); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Development.PrettyLogs = true
			c.Logging.Level = "debug"
			c.Logging.Format = "text"
		}
	}
	if v := os.Getenv("BEDROCK_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}
	if v := os.Getenv("BEDROCK_PLUGINS"); v != "" {
		c.Plugins = parseStringList(v)
	}

	if v := os.Getenv("BEDROCK_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("BEDROCK_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}

	if err := c.Validate(); err != nil {
		if c.logger != nil {
			c.logger.Error("configuration validation failed", map[string]interface{}{"error": err.Error()})
		}
		return err
	}
	return nil
}

// LoadFromFile loads configuration from a JSON file. File settings override
// environment variables but are overridden by functional options.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", ErrInvalidConfiguration)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.CommandPort < 1 || c.CommandPort > 65535 {
		return fmt.Errorf("invalid command port %d: %w", c.CommandPort, ErrInvalidConfiguration)
	}
	if c.ControlPort < 1 || c.ControlPort > 65535 {
		return fmt.Errorf("invalid control port %d: %w", c.ControlPort, ErrInvalidConfiguration)
	}
	if c.NodeName == "" {
		return fmt.Errorf("node name is required: %w", ErrMissingConfiguration)
	}
	if c.Priority < 0 {
		return fmt.Errorf("priority must be non-negative (0 means permafollower): %w", ErrInvalidConfiguration)
	}
	if c.Membership.RedisURL == "" {
		return fmt.Errorf("membership redis URL is required: %w", ErrMissingConfiguration)
	}
	return nil
}

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional options

func WithNodeName(name string) Option {
	return func(c *Config) error { c.NodeName = name; return nil }
}

func WithPriority(priority int) Option {
	return func(c *Config) error {
		if priority < 0 {
			return fmt.Errorf("priority must be non-negative: %w", ErrInvalidConfiguration)
		}
		c.Priority = priority
		return nil
	}
}

func WithCommandPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid command port %d: %w", port, ErrInvalidConfiguration)
		}
		c.CommandPort = port
		return nil
	}
}

func WithControlPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid control port %d: %w", port, ErrInvalidConfiguration)
		}
		c.ControlPort = port
		return nil
	}
}

func WithAddress(address string) Option {
	return func(c *Config) error { c.Address = address; return nil }
}

// WithCORS enables CORS with specific allowed origins. Supports wildcard
// patterns: "*" allows all origins, "*.example.com" allows subdomains,
// "http://localhost:*" allows any localhost port.
func WithCORS(origins []string, credentials bool) Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		c.HTTP.CORS.AllowedOrigins = origins
		c.HTTP.CORS.AllowCredentials = credentials
		return nil
	}
}

// WithRedisURL sets the membership directory's Redis connection URL.
func WithRedisURL(url string) Option {
	return func(c *Config) error { c.Membership.RedisURL = url; return nil }
}

func WithPlugins(names ...string) Option {
	return func(c *Config) error { c.Plugins = names; return nil }
}

func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.CircuitBreaker.Enabled = true
		c.Resilience.CircuitBreaker.Threshold = threshold
		c.Resilience.CircuitBreaker.Timeout = timeout
		return nil
	}
}

func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.Retry.MaxAttempts = maxAttempts
		c.Resilience.Retry.InitialInterval = initialInterval
		return nil
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) error { c.Logging.Level = level; return nil }
}

func WithLogFormat(format string) Option {
	return func(c *Config) error { c.Logging.Format = format; return nil }
}

func WithConfigFile(path string) Option {
	return func(c *Config) error { return c.LoadFromFile(path) }
}

func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// WithLogger sets a logger for configuration operations. If not set,
// configuration operations run silently.
func WithLogger(logger Logger) Option {
	return func(c *Config) error { c.logger = logger; return nil }
}

// NewConfig creates a new node configuration with the provided options.
// Order: defaults, then environment variables, then functional options,
// then validation.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.Development, cfg.NodeName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ProductionLogger is the default Logger implementation: JSON or
// human-readable lines to stdout/stderr, gated on level and debug flag.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:       strings.ToLower(logging.Level),
		debug:       dev.DebugLogging || logging.Level == "debug",
		serviceName: serviceName,
		format:      logging.Format,
		output:      output,
	}
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{})  { p.logEvent("INFO", msg, fields) }
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) { p.logEvent("ERROR", msg, fields) }
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{})  { p.logEvent("WARN", msg, fields) }

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) InfoWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}
func (p *ProductionLogger) ErrorWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}
func (p *ProductionLogger) WarnWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.Debug(msg, fields)
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"message":   msg,
		}
		for k, v := range fields {
			logEntry[k] = v
		}
		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var fieldStr strings.Builder
	if len(fields) > 0 {
		fieldStr.WriteString(" ")
		for k, v := range fields {
			fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}
	fmt.Fprintf(p.output, "%s [%s] [%s] %s%s\n", timestamp, level, p.serviceName, msg, fieldStr.String())
}
