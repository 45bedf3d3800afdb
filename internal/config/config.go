// Package config loads the gateway's runtime configuration (C14b) from
// SIMPLES3_* environment variables via viper, plus an optional TOML
// init-config file naming buckets and credentials to seed at startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of tunables read from the environment.
type Config struct {
	Bind         string `mapstructure:"bind"`
	DataDir      string `mapstructure:"data_dir"`
	MetadataDir  string `mapstructure:"metadata_dir"`
	Hostname     string `mapstructure:"hostname"`
	Region       string `mapstructure:"region"`
	LogLevel     string `mapstructure:"log_level"`
	Dev          bool   `mapstructure:"dev"`

	AnonymousGlobal bool   `mapstructure:"anonymous_global"`
	AdminEnabled    bool   `mapstructure:"admin_enabled"`
	AdminBind       string `mapstructure:"admin_bind"`
	AdminToken      string `mapstructure:"admin_token"`

	MultipartTTL               time.Duration `mapstructure:"-"`
	MultipartTTLSeconds        int           `mapstructure:"multipart_ttl"`
	MultipartCleanupInterval   time.Duration `mapstructure:"-"`
	MultipartCleanupSeconds    int           `mapstructure:"multipart_cleanup_interval"`
	LifecycleScanInterval      time.Duration `mapstructure:"-"`
	LifecycleScanSeconds       int           `mapstructure:"lifecycle_scan_interval"`
	GaugeRefreshInterval       time.Duration `mapstructure:"-"`
	GaugeRefreshSeconds        int           `mapstructure:"gauge_refresh_interval"`

	CORSOrigins       string   `mapstructure:"cors_origins"`
	MaxObjectSize     int64    `mapstructure:"max_object_size"`
	MaxXMLBodySize    int64    `mapstructure:"max_xml_body_size"`
	MaxPolicyBodySize int64    `mapstructure:"max_policy_body_size"`
	InitConfigPath    string   `mapstructure:"init_config"`
}

// InitBucket is one bucket entry in the TOML init-config file.
type InitBucket struct {
	Name          string `mapstructure:"name"`
	AnonymousRead bool   `mapstructure:"anonymous_read"`
}

// InitCredential is one credential entry in the TOML init-config file.
type InitCredential struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Description     string `mapstructure:"description"`
}

// InitConfig is the optional seed file named by SIMPLES3_INIT_CONFIG,
// applied idempotently at startup: buckets and credentials it names are
// created if absent and left untouched if already present.
type InitConfig struct {
	Buckets     []InitBucket     `mapstructure:"buckets"`
	Credentials []InitCredential `mapstructure:"credentials"`
}

// Load reads configuration from the SIMPLES3_* environment, applying the
// defaults from spec §6.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("bind", "0.0.0.0:9000")
	v.SetDefault("data_dir", "/var/lib/simples3/data")
	v.SetDefault("metadata_dir", "/var/lib/simples3/metadata")
	v.SetDefault("hostname", "")
	v.SetDefault("region", "us-east-1")
	v.SetDefault("log_level", "info")
	v.SetDefault("dev", false)

	v.SetDefault("anonymous_global", false)
	v.SetDefault("admin_enabled", true)
	v.SetDefault("admin_bind", "127.0.0.1:9001")
	v.SetDefault("admin_token", "")

	v.SetDefault("multipart_ttl", 86400)
	v.SetDefault("multipart_cleanup_interval", 3600)
	v.SetDefault("lifecycle_scan_interval", 3600)
	v.SetDefault("gauge_refresh_interval", 30)

	v.SetDefault("cors_origins", "")
	v.SetDefault("max_object_size", int64(5*1024*1024*1024))
	v.SetDefault("max_xml_body_size", int64(256*1024))
	v.SetDefault("max_policy_body_size", int64(20*1024))
	v.SetDefault("init_config", "")

	v.SetEnvPrefix("SIMPLES3")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.MultipartTTL = time.Duration(cfg.MultipartTTLSeconds) * time.Second
	cfg.MultipartCleanupInterval = time.Duration(cfg.MultipartCleanupSeconds) * time.Second
	cfg.LifecycleScanInterval = time.Duration(cfg.LifecycleScanSeconds) * time.Second
	cfg.GaugeRefreshInterval = time.Duration(cfg.GaugeRefreshSeconds) * time.Second

	return &cfg, nil
}

// CORSOriginList splits the comma-separated SIMPLES3_CORS_ORIGINS value.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
