// Package config loads and validates the YAML configuration that wires a
// xwsgd instance together: the listener, TLS material, the virtual-host
// table that drives the service chain, and the background housekeeping
// schedule.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for one xwsgd process.
type Config struct {
	Listen    ListenConfig           `yaml:"listen"`
	Logging   LoggingConfig          `yaml:"logging"`
	VHosts    map[string]VHostConfig `yaml:"vhosts"`
	Scheduler SchedulerConfig        `yaml:"scheduler"`
	Status    StatusConfig           `yaml:"status"`

	// ConnLogDir, if set, turns on a per-connection debug log file under
	// tcpserver — see logging.NewConnectionLogger. Left empty, connections
	// are only covered by the process-wide logger.
	ConnLogDir string `yaml:"conn_log_dir"`
}

// ListenConfig is the server's single accept address. TLS is nil for a
// plain-TCP listener (a test fixture or an internal vhost sitting behind
// another TLS-terminating proxy).
type ListenConfig struct {
	Addr string     `yaml:"addr"`
	TLS  *TLSConfig `yaml:"tls"`
}

// TLSConfig points at the certificate material for the listener.
// RequireClientCert turns on mutual TLS: the handshake itself rejects
// clients without a certificate signed by CACert.
type TLSConfig struct {
	CACert            string `yaml:"ca_cert"`
	ServerCert        string `yaml:"server_cert"`
	ServerKey         string `yaml:"server_key"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

// LoggingConfig configures internal/logging.NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error, default info
	Format string `yaml:"format"` // json|text, default json
	File   string `yaml:"file"`   // optional, in addition to stdout
}

// VHostConfig is one entry of the host-dispatch table: a docroot-backed
// static/FCGI vhost, an S3-backed static vhost, or a proxy-pass vhost.
// Backends are not combined: when more than one is set, proxy_pass takes
// precedence, then docroot, then s3, and the others are ignored.
type VHostConfig struct {
	Docroot          string            `yaml:"docroot"`
	DefaultDocuments []string          `yaml:"default_documents"`
	FCGI             map[string]string `yaml:"fcgi"` // file extension -> "host:port" FastCGI responder

	S3 *S3Config `yaml:"s3"`

	ProxyPass  []string `yaml:"proxy_pass"`  // "host:port" upstream endpoints
	ProxyMount string   `yaml:"proxy_mount"` // literal path prefix a request must start with to be proxied

	Compress   bool             `yaml:"compress"`
	RequireTLS bool             `yaml:"require_tls"`
	BasicAuth  *BasicAuthConfig `yaml:"basic_auth"`

	ThrottleBytesPerSec string `yaml:"throttle_bytes_per_sec"` // e.g. "512kb"; "" disables

	throttleRaw int64 `yaml:"-"`
}

// ThrottleRaw returns the parsed bytes/sec throttle, 0 if disabled.
func (v VHostConfig) ThrottleRaw() int64 { return v.throttleRaw }

// S3Config backs s3_file_service: requests under the vhost are served as
// GetObject calls against Bucket, keyed by Prefix joined onto the request
// path. Endpoint/AccessKeyID/SecretAccessKey are optional and exist for
// S3-compatible stores sitting outside AWS; left blank, the client falls
// back to the SDK's default credential chain and AWS endpoints.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// BasicAuthConfig is a flat username/password table — no hashing, meant
// for an internal admin vhost guarded by basic_authenticator, not a
// public login form.
type BasicAuthConfig struct {
	Realm string            `yaml:"realm"`
	Users map[string]string `yaml:"users"`
}

// SchedulerConfig drives internal/scheduler's cron jobs.
type SchedulerConfig struct {
	HealthProbeCron  string `yaml:"health_probe_cron"` // default "@every 30s"
	HousekeepingCron string `yaml:"housekeeping_cron"` // default "@every 5m"
}

// StatusConfig turns on the gopsutil-backed /_status lambda_service.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default "/_status"
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Listen.Addr == "" {
		return fmt.Errorf("listen.addr is required")
	}
	if c.Listen.TLS != nil {
		t := c.Listen.TLS
		if t.ServerCert == "" || t.ServerKey == "" {
			return fmt.Errorf("listen.tls.server_cert and server_key are required when tls is set")
		}
		if t.RequireClientCert && t.CACert == "" {
			return fmt.Errorf("listen.tls.ca_cert is required when require_client_cert is true")
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	for name, v := range c.VHosts {
		if v.Docroot == "" && v.S3 == nil && len(v.ProxyPass) == 0 {
			return fmt.Errorf("vhosts.%s: one of docroot, s3 or proxy_pass must be set", name)
		}
		if v.S3 != nil && v.S3.Bucket == "" {
			return fmt.Errorf("vhosts.%s.s3.bucket is required when s3 is set", name)
		}
		for _, ep := range v.ProxyPass {
			if _, _, err := net.SplitHostPort(ep); err != nil {
				return fmt.Errorf("vhosts.%s.proxy_pass: %q is not a host:port endpoint: %w", name, ep, err)
			}
		}
		if v.ThrottleBytesPerSec != "" {
			raw, err := ParseByteSize(v.ThrottleBytesPerSec)
			if err != nil {
				return fmt.Errorf("vhosts.%s.throttle_bytes_per_sec: %w", name, err)
			}
			v.throttleRaw = raw
			c.VHosts[name] = v
		}
	}

	if c.Scheduler.HealthProbeCron == "" {
		c.Scheduler.HealthProbeCron = "@every 30s"
	}
	if c.Scheduler.HousekeepingCron == "" {
		c.Scheduler.HousekeepingCron = "@every 5m"
	}

	if c.Status.Enabled && c.Status.Path == "" {
		c.Status.Path = "/_status"
	}

	return nil
}

// ParseByteSize parses human-readable sizes like "256mb" or "1gb" into a
// byte count. A bare number is interpreted as bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	// longest suffix first so "mb" isn't matched as a bare "b"
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
