package vault

import (
	"context"
	"fmt"

	"am-go/internal/am"
	"am-go/internal/config"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config
// type. Type "none" (or empty) returns nil: snapshots are disabled.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (am.Vault, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return NewMemoryVault(), nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err := NewFileSystemVault(cfg.FSVaultRoot)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
		}
		v, err := NewS3Vault(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
