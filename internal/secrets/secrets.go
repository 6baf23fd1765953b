// Package secrets provides a pluggable seam for storing hypervisor and
// credential-preset secrets. The default backend is an in-memory,
// plaintext-equivalent store; a HashiCorp Vault-backed implementation is
// available for deployments that need it.
package secrets

import (
	"context"
	"fmt"
	"time"
)

// SecretType categorizes what a stored secret is used for.
type SecretType string

const (
	SecretTypeHostPassword SecretType = "host_password"
	SecretTypeCredential   SecretType = "credential"
)

// Secret is a named credential with version/audit metadata.
type Secret struct {
	Name      string
	Type      SecretType
	Value     map[string]string
	Version   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SecretStore is the contract every backend implements. opsnavd never
// talks to a backend directly outside this interface, so a deployment can
// move from memory to Vault without touching any caller.
type SecretStore interface {
	Get(ctx context.Context, name string) (*Secret, error)
	Set(ctx context.Context, secret *Secret) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, secretType SecretType) ([]string, error)
	Rotate(ctx context.Context, name string, newValue map[string]string) error
	Close() error
	Health(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "memory" or "vault"
	Vault   *VaultConfig
}

// VaultConfig holds the settings needed to reach a Vault KV v2 mount.
type VaultConfig struct {
	Address string
	Token   string
	Mount   string
}

// New constructs the SecretStore named by cfg.Backend.
func New(cfg *Config) (SecretStore, error) {
	if cfg == nil {
		return NewMemoryStore(), nil
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "vault":
		if cfg.Vault == nil {
			return nil, fmt.Errorf("vault config is required for vault backend")
		}
		return NewVaultStore(cfg.Vault)
	default:
		return nil, fmt.Errorf("unsupported secret backend: %s (supported: memory, vault)", cfg.Backend)
	}
}

func copySecretValue(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
