package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for am.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Scan       ScanConfig       `toml:"scan"`
	Workshop   WorkshopConfig   `toml:"workshop"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// DatabaseConfig represents configuration for the addon catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ScanConfig holds the settings of the scan pipeline.
type ScanConfig struct {
	AddonsDir        string   `toml:"addons_dir"`
	Speed            string   `toml:"speed"` // "maximum", "normal" or "background"
	Ignore           []string `toml:"ignore"`
	AbortTimeoutSecs int      `toml:"abort_timeout_secs,omitempty"`
	ResultBuffer     int      `toml:"result_buffer,omitempty"`
}

// AbortTimeout returns the configured abort timeout, or zero for the default.
func (c ScanConfig) AbortTimeout() time.Duration {
	return time.Duration(c.AbortTimeoutSecs) * time.Second
}

// WorkshopConfig selects where workshop metadata comes from.
type WorkshopConfig struct {
	Type        string `toml:"type"`                   // "steam" or "none"
	APIBase     string `toml:"api_base,omitempty"`     // overrides the public Steam Web API host
	TimeoutSecs int    `toml:"timeout_secs,omitempty"` // per request
}

// VaultConfig represents configuration for the catalog snapshot vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "none", "memory", "filesystem" or "s3"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshot encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" or "age"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// NewConfig creates a new Config rooted at baseDir scanning addonsDir.
func NewConfig(baseDir, addonsDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Scan: ScanConfig{
			AddonsDir: addonsDir,
			Speed:     "normal",
		},
		Workshop: WorkshopConfig{Type: "steam"},
		Vault:    VaultConfig{Type: "none"},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "am.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "am.key"),
		},
	}
}

// Validate checks the tagged unions for unknown types and missing fields.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory":
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database: data_dir required for sqlite")
		}
	default:
		return fmt.Errorf("database: unknown type %q", c.Database.Type)
	}

	switch c.Workshop.Type {
	case "", "none", "steam":
	default:
		return fmt.Errorf("workshop: unknown type %q", c.Workshop.Type)
	}

	switch c.Vault.Type {
	case "", "none", "memory":
	case "filesystem":
		if c.Vault.FSVaultRoot == "" {
			return fmt.Errorf("vault: fs_vault_root required for filesystem")
		}
	case "s3":
		if c.Vault.S3Bucket == "" {
			return fmt.Errorf("vault: s3_bucket required for s3")
		}
	default:
		return fmt.Errorf("vault: unknown type %q", c.Vault.Type)
	}

	switch c.Encryption.Type {
	case "", "none":
	case "age":
		if c.Encryption.PublicKeyPath == "" || c.Encryption.PrivateKeyPath == "" {
			return fmt.Errorf("encryption: public_key_path and private_key_path required for age")
		}
	default:
		return fmt.Errorf("encryption: unknown type %q", c.Encryption.Type)
	}

	if c.Scan.AbortTimeoutSecs < 0 {
		return fmt.Errorf("scan: abort_timeout_secs must not be negative")
	}
	if c.Scan.ResultBuffer < 0 {
		return fmt.Errorf("scan: result_buffer must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
