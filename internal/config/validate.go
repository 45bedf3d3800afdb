package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/openendpoint/simples3/internal/metadata"
)

// Validate checks that the loaded configuration is internally consistent
// and that its directories are usable.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return fmt.Errorf("config: bind address is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.MetadataDir == "" {
		return fmt.Errorf("config: metadata_dir is required")
	}
	if err := ensureWritable(c.DataDir); err != nil {
		return fmt.Errorf("config: data_dir not writable: %w", err)
	}
	if err := ensureWritable(c.MetadataDir); err != nil {
		return fmt.Errorf("config: metadata_dir not writable: %w", err)
	}
	if c.MaxObjectSize <= 0 {
		return fmt.Errorf("config: max_object_size must be positive")
	}
	return nil
}

func ensureWritable(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// LoadInitConfig reads the TOML file named by SIMPLES3_INIT_CONFIG, if set.
func LoadInitConfig(path string) (*InitConfig, error) {
	if path == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read init config: %w", err)
	}
	var ic InitConfig
	if err := v.Unmarshal(&ic); err != nil {
		return nil, fmt.Errorf("config: decode init config: %w", err)
	}
	return &ic, nil
}

// ApplyInitConfig idempotently seeds buckets and credentials named by ic
// into store: entries that already exist are left untouched.
func ApplyInitConfig(ctx context.Context, ic *InitConfig, store metadata.Store) error {
	if ic == nil {
		return nil
	}
	for _, b := range ic.Buckets {
		if _, err := store.GetBucket(ctx, b.Name); err == nil {
			continue
		}
		if _, err := store.CreateBucket(ctx, b.Name); err != nil {
			return fmt.Errorf("config: seed bucket %q: %w", b.Name, err)
		}
		if b.AnonymousRead {
			if err := store.SetBucketAnonymous(ctx, b.Name, true, false); err != nil {
				return fmt.Errorf("config: set anonymous read on %q: %w", b.Name, err)
			}
		}
	}
	for _, cred := range ic.Credentials {
		if _, err := store.GetCredential(ctx, cred.AccessKeyID); err == nil {
			continue
		}
		if err := store.CreateCredential(ctx, metadata.Credential{
			AccessKeyID:     cred.AccessKeyID,
			SecretAccessKey: cred.SecretAccessKey,
			Description:     cred.Description,
			Active:          true,
		}); err != nil {
			return fmt.Errorf("config: seed credential %q: %w", cred.AccessKeyID, err)
		}
	}
	return nil
}
