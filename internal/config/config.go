package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Capture  CaptureConfig  `yaml:"capture" mapstructure:"capture"`
	Exchange ExchangeConfig `yaml:"exchange" mapstructure:"exchange"`
	Replay   ReplayConfig   `yaml:"replay" mapstructure:"replay"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	LoadTest LoadTestConfig `yaml:"loadtest" mapstructure:"loadtest"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Archive  ArchiveConfig  `yaml:"archive" mapstructure:"archive"`
}

// ServerConfig configures the forwarding endpoint the tool listens on.
type ServerConfig struct {
	Port          int    `yaml:"port" mapstructure:"port"`
	Path          string `yaml:"path" mapstructure:"path"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	DefaultTarget string `yaml:"default_target" mapstructure:"default_target"`
	TargetHeader  string `yaml:"target_header" mapstructure:"target_header"`
	MaxRetries    int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// LogConfig log configuration
type LogConfig struct {
	Level       string        `yaml:"level" mapstructure:"level"`
	FileLogging FileLogConfig `yaml:"file_logging" mapstructure:"file_logging"`
}

// FileLogConfig file log configuration
type FileLogConfig struct {
	Enable     bool   `yaml:"enable" mapstructure:"enable"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// OutputConfig controls console report style.
type OutputConfig struct {
	Mode    string `yaml:"mode" mapstructure:"mode"`
	Locale  string `yaml:"locale" mapstructure:"locale"`
	Silence bool   `yaml:"silence" mapstructure:"silence"`
}

// CaptureConfig controls traffic monitoring defaults.
type CaptureConfig struct {
	MaxRequests         int      `yaml:"max_requests" mapstructure:"max_requests"`
	CaptureRequestBody  bool     `yaml:"capture_request_body" mapstructure:"capture_request_body"`
	CaptureResponseBody bool     `yaml:"capture_response_body" mapstructure:"capture_response_body"`
	MaxBodyBytes        int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	Domains             []string `yaml:"domains" mapstructure:"domains"`
	Methods             []string `yaml:"methods" mapstructure:"methods"`
}

// ExchangeConfig tunes the outbound HTTP transport shared by the
// forwarding path and the replay executor.
type ExchangeConfig struct {
	Timeout               int  `yaml:"timeout" mapstructure:"timeout"`
	MaxIdleConns          int  `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost   int  `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost       int  `yaml:"max_conns_per_host" mapstructure:"max_conns_per_host"`
	IdleConnTimeout       int  `yaml:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
	ResponseHeaderTimeout int  `yaml:"response_header_timeout" mapstructure:"response_header_timeout"`
	TLSHandshakeTimeout   int  `yaml:"tls_handshake_timeout" mapstructure:"tls_handshake_timeout"`
	ExpectContinueTimeout int  `yaml:"expect_continue_timeout" mapstructure:"expect_continue_timeout"`
	TLSInsecureSkipVerify bool `yaml:"tls_insecure_skip_verify" mapstructure:"tls_insecure_skip_verify"`
}

// ReplayConfig controls single-replay execution.
type ReplayConfig struct {
	Timeout      int  `yaml:"timeout" mapstructure:"timeout"`
	MarkerHeader bool `yaml:"marker_header" mapstructure:"marker_header"`
}

// BatchConfig bounds batch replay dispatch.
type BatchConfig struct {
	MaxConcurrency     int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	DefaultConcurrency int `yaml:"default_concurrency" mapstructure:"default_concurrency"`
}

// LoadTestConfig bounds load test dispatch.
type LoadTestConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	GracePeriod    int `yaml:"grace_period" mapstructure:"grace_period"`
	MaxRequests    int `yaml:"max_requests" mapstructure:"max_requests"`
}

// APIConfig configures the admin JSON API.
type APIConfig struct {
	Enable        bool     `yaml:"enable" mapstructure:"enable"`
	Path          string   `yaml:"path" mapstructure:"path"`
	AuthToken     string   `yaml:"auth_token" mapstructure:"auth_token"`
	ExportFormats []string `yaml:"export_formats" mapstructure:"export_formats"`
}

// ArchiveConfig configures persistence of finished session reports.
type ArchiveConfig struct {
	Enable     bool          `yaml:"enable" mapstructure:"enable"`
	Driver     string        `yaml:"driver" mapstructure:"driver"`
	Path       string        `yaml:"path" mapstructure:"path"`
	MaxRecords int           `yaml:"max_records" mapstructure:"max_records"`
	Retention  time.Duration `yaml:"retention" mapstructure:"retention"`
}

// LoadConfig loads configuration from file, environment, and defaults.
// If v is nil a fresh viper instance is created.
func LoadConfig(configPath string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)

	v.SetEnvPrefix("REQPLAY")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.reqplay")
		v.AddConfigPath("/etc/reqplay")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Printf("Config file loaded: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyDefaults(&config, v)

	return &config, nil
}

// applyDefaults backfills zero-value fields that viper's Unmarshal leaves
// untouched when boolean defaults and flag bindings interact.
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if cfg.Server.Path == "" {
		cfg.Server.Path = v.GetString("server.path")
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = v.GetInt64("server.max_body_bytes")
	}
	if cfg.Server.TargetHeader == "" {
		cfg.Server.TargetHeader = v.GetString("server.target_header")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = v.GetString("log.level")
	}
	cfg.Log.FileLogging.Enable = v.GetBool("log.file_logging.enable")
	cfg.Log.FileLogging.Compress = v.GetBool("log.file_logging.compress")
	if cfg.Log.FileLogging.Path == "" {
		cfg.Log.FileLogging.Path = v.GetString("log.file_logging.path")
	}
	if cfg.Log.FileLogging.MaxSizeMB == 0 {
		cfg.Log.FileLogging.MaxSizeMB = v.GetInt("log.file_logging.max_size_mb")
	}
	if cfg.Log.FileLogging.MaxBackups == 0 {
		cfg.Log.FileLogging.MaxBackups = v.GetInt("log.file_logging.max_backups")
	}
	if cfg.Log.FileLogging.MaxAgeDays == 0 {
		cfg.Log.FileLogging.MaxAgeDays = v.GetInt("log.file_logging.max_age_days")
	}

	if cfg.Output.Mode == "" {
		cfg.Output.Mode = v.GetString("output.mode")
	}
	if cfg.Output.Locale == "" {
		cfg.Output.Locale = v.GetString("output.locale")
	}
	cfg.Output.Silence = v.GetBool("output.silence")

	if cfg.Capture.MaxRequests == 0 {
		cfg.Capture.MaxRequests = v.GetInt("capture.max_requests")
	}
	cfg.Capture.CaptureRequestBody = v.GetBool("capture.capture_request_body")
	cfg.Capture.CaptureResponseBody = v.GetBool("capture.capture_response_body")
	if cfg.Capture.MaxBodyBytes == 0 {
		cfg.Capture.MaxBodyBytes = v.GetInt64("capture.max_body_bytes")
	}

	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = v.GetInt("exchange.timeout")
	}
	if cfg.Exchange.MaxIdleConns == 0 {
		cfg.Exchange.MaxIdleConns = v.GetInt("exchange.max_idle_conns")
	}
	if cfg.Exchange.MaxIdleConnsPerHost == 0 {
		cfg.Exchange.MaxIdleConnsPerHost = v.GetInt("exchange.max_idle_conns_per_host")
	}
	if cfg.Exchange.MaxConnsPerHost == 0 {
		cfg.Exchange.MaxConnsPerHost = v.GetInt("exchange.max_conns_per_host")
	}
	if cfg.Exchange.IdleConnTimeout == 0 {
		cfg.Exchange.IdleConnTimeout = v.GetInt("exchange.idle_conn_timeout")
	}
	if cfg.Exchange.ResponseHeaderTimeout == 0 {
		cfg.Exchange.ResponseHeaderTimeout = v.GetInt("exchange.response_header_timeout")
	}
	if cfg.Exchange.TLSHandshakeTimeout == 0 {
		cfg.Exchange.TLSHandshakeTimeout = v.GetInt("exchange.tls_handshake_timeout")
	}
	if cfg.Exchange.ExpectContinueTimeout == 0 {
		cfg.Exchange.ExpectContinueTimeout = v.GetInt("exchange.expect_continue_timeout")
	}
	cfg.Exchange.TLSInsecureSkipVerify = v.GetBool("exchange.tls_insecure_skip_verify")

	if cfg.Replay.Timeout == 0 {
		cfg.Replay.Timeout = v.GetInt("replay.timeout")
	}
	cfg.Replay.MarkerHeader = v.GetBool("replay.marker_header")

	if cfg.Batch.MaxConcurrency == 0 {
		cfg.Batch.MaxConcurrency = v.GetInt("batch.max_concurrency")
	}
	if cfg.Batch.DefaultConcurrency == 0 {
		cfg.Batch.DefaultConcurrency = v.GetInt("batch.default_concurrency")
	}

	if cfg.LoadTest.MaxConcurrency == 0 {
		cfg.LoadTest.MaxConcurrency = v.GetInt("loadtest.max_concurrency")
	}
	if cfg.LoadTest.GracePeriod == 0 {
		cfg.LoadTest.GracePeriod = v.GetInt("loadtest.grace_period")
	}
	if cfg.LoadTest.MaxRequests == 0 {
		cfg.LoadTest.MaxRequests = v.GetInt("loadtest.max_requests")
	}

	cfg.API.Enable = v.GetBool("api.enable")
	if cfg.API.Path == "" {
		cfg.API.Path = v.GetString("api.path")
	}
	if len(cfg.API.ExportFormats) == 0 {
		cfg.API.ExportFormats = v.GetStringSlice("api.export_formats")
	}

	cfg.Archive.Enable = v.GetBool("archive.enable")
	if cfg.Archive.Driver == "" {
		cfg.Archive.Driver = v.GetString("archive.driver")
	}
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = v.GetString("archive.path")
	}
	if cfg.Archive.MaxRecords == 0 {
		cfg.Archive.MaxRecords = v.GetInt("archive.max_records")
	}
}

// setDefaults registers default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 38900)
	v.SetDefault("server.path", "/")
	v.SetDefault("server.max_body_bytes", int64(10*1024*1024))
	v.SetDefault("server.default_target", "")
	v.SetDefault("server.target_header", "X-ReqPlay-Target")
	v.SetDefault("server.max_retries", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_logging.enable", false)
	v.SetDefault("log.file_logging.path", "./reqplay.log")
	v.SetDefault("log.file_logging.max_size_mb", 10)
	v.SetDefault("log.file_logging.max_backups", 5)
	v.SetDefault("log.file_logging.max_age_days", 30)
	v.SetDefault("log.file_logging.compress", true)

	v.SetDefault("output.mode", "console")
	v.SetDefault("output.locale", "en")
	v.SetDefault("output.silence", false)

	v.SetDefault("capture.max_requests", 1000)
	v.SetDefault("capture.capture_request_body", true)
	v.SetDefault("capture.capture_response_body", true)
	v.SetDefault("capture.max_body_bytes", int64(1024*1024))
	v.SetDefault("capture.domains", []string{})
	v.SetDefault("capture.methods", []string{})

	v.SetDefault("exchange.timeout", 30)
	v.SetDefault("exchange.max_idle_conns", 200)
	v.SetDefault("exchange.max_idle_conns_per_host", 50)
	v.SetDefault("exchange.max_conns_per_host", 100)
	v.SetDefault("exchange.idle_conn_timeout", 90)
	v.SetDefault("exchange.response_header_timeout", 15)
	v.SetDefault("exchange.tls_handshake_timeout", 10)
	v.SetDefault("exchange.expect_continue_timeout", 1)
	v.SetDefault("exchange.tls_insecure_skip_verify", false)

	v.SetDefault("replay.timeout", 30)
	v.SetDefault("replay.marker_header", true)

	v.SetDefault("batch.max_concurrency", 50)
	v.SetDefault("batch.default_concurrency", 5)

	v.SetDefault("loadtest.max_concurrency", 50)
	v.SetDefault("loadtest.grace_period", 30)
	v.SetDefault("loadtest.max_requests", 10000)

	v.SetDefault("api.enable", true)
	v.SetDefault("api.path", "/api")
	v.SetDefault("api.auth_token", "")
	v.SetDefault("api.export_formats", []string{"json", "csv"})

	v.SetDefault("archive.enable", false)
	v.SetDefault("archive.driver", "sqlite")
	v.SetDefault("archive.path", "./data/reqplay.db")
	v.SetDefault("archive.max_records", 10000)
	v.SetDefault("archive.retention", "0s")
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.Path == "" {
		return fmt.Errorf("server path cannot be empty")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server path must start with '/'")
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server max body bytes cannot be negative")
	}
	if c.Server.MaxRetries < 0 {
		return fmt.Errorf("server max retries cannot be negative")
	}

	switch strings.ToLower(c.Output.Mode) {
	case "", "console", "json":
		if c.Output.Mode == "" {
			c.Output.Mode = "console"
		}
	default:
		return fmt.Errorf("output mode must be 'console' or 'json'")
	}
	if strings.TrimSpace(c.Output.Locale) == "" {
		c.Output.Locale = "en"
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.FileLogging.Enable {
		if c.Log.FileLogging.Path == "" {
			return fmt.Errorf("log file path cannot be empty when file logging is enabled")
		}
		if c.Log.FileLogging.MaxSizeMB < 1 {
			return fmt.Errorf("log file max size must be at least 1MB")
		}
	}

	if c.Capture.MaxRequests < 1 {
		return fmt.Errorf("capture max_requests must be at least 1")
	}
	if c.Capture.MaxBodyBytes < 0 {
		return fmt.Errorf("capture max_body_bytes cannot be negative")
	}
	for i, m := range c.Capture.Methods {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("capture methods[%d] cannot be empty", i)
		}
	}
	for i, d := range c.Capture.Domains {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("capture domains[%d] cannot be empty", i)
		}
	}
	c.Capture.Methods = normalizeUpperList(c.Capture.Methods)
	c.Capture.Domains = normalizeLowerList(c.Capture.Domains)

	if c.Exchange.Timeout < 0 {
		return fmt.Errorf("exchange timeout cannot be negative")
	}
	if c.Replay.Timeout < 1 {
		return fmt.Errorf("replay timeout must be at least 1 second")
	}

	if c.Batch.MaxConcurrency < 1 {
		return fmt.Errorf("batch max_concurrency must be at least 1")
	}
	if c.Batch.DefaultConcurrency < 1 {
		return fmt.Errorf("batch default_concurrency must be at least 1")
	}
	if c.Batch.DefaultConcurrency > c.Batch.MaxConcurrency {
		c.Batch.DefaultConcurrency = c.Batch.MaxConcurrency
	}

	if c.LoadTest.MaxConcurrency < 1 {
		return fmt.Errorf("loadtest max_concurrency must be at least 1")
	}
	if c.LoadTest.GracePeriod < 0 {
		return fmt.Errorf("loadtest grace_period cannot be negative")
	}
	if c.LoadTest.MaxRequests < 1 {
		return fmt.Errorf("loadtest max_requests must be at least 1")
	}

	if c.API.Enable {
		if c.API.Path == "" {
			return fmt.Errorf("api path cannot be empty")
		}
		if !strings.HasPrefix(c.API.Path, "/") {
			return fmt.Errorf("api path must start with '/'")
		}
		if len(c.API.ExportFormats) == 0 {
			return fmt.Errorf("api export formats cannot be empty")
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Archive.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Archive.Driver) == "" {
			c.Archive.Driver = "sqlite"
		}
	default:
		return fmt.Errorf("archive driver must be sqlite")
	}
	if c.Archive.Enable && strings.TrimSpace(c.Archive.Path) == "" {
		return fmt.Errorf("archive path cannot be empty")
	}
	if c.Archive.MaxRecords < 0 {
		return fmt.Errorf("archive max_records cannot be negative")
	}
	if c.Archive.Retention < 0 {
		return fmt.Errorf("archive retention cannot be negative")
	}

	return nil
}

func normalizeUpperList(list []string) []string {
	return normalizeList(list, strings.ToUpper)
}

func normalizeLowerList(list []string) []string {
	return normalizeList(list, strings.ToLower)
}

func normalizeList(list []string, canon func(string) string) []string {
	if len(list) == 0 {
		return list
	}
	set := make(map[string]struct{}, len(list))
	result := make([]string, 0, len(list))
	for _, item := range list {
		norm := canon(strings.TrimSpace(item))
		if norm == "" {
			continue
		}
		if _, exists := set[norm]; exists {
			continue
		}
		set[norm] = struct{}{}
		result = append(result, norm)
	}
	return result
}
