package secrets

import (
	"context"
	"fmt"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

// VaultStore persists secrets under a Vault KV v2 mount, one path per
// secret name. It is not exercised by opsnavd's default deployment but
// satisfies the same SecretStore contract as MemoryStore.
type VaultStore struct {
	client *vaultapi.Client
	mount  string
}

// NewVaultStore builds a client against cfg.Address, authenticated with
// cfg.Token.
func NewVaultStore(cfg *VaultConfig) (*VaultStore, error) {
	vcfg := vaultapi.DefaultConfig()
	vcfg.Address = cfg.Address

	client, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}

	return &VaultStore{client: client, mount: mount}, nil
}

func (v *VaultStore) path(name string) string {
	return fmt.Sprintf("%s/data/opsnav/%s", v.mount, name)
}

func (v *VaultStore) Get(ctx context.Context, name string) (*Secret, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.path(name))
	if err != nil {
		return nil, fmt.Errorf("read vault secret %s: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found: %s", name)
	}

	data, _ := secret.Data["data"].(map[string]interface{})
	value := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			value[k] = s
		}
	}

	return &Secret{Name: name, Value: value, UpdatedAt: time.Now()}, nil
}

func (v *VaultStore) Set(ctx context.Context, secret *Secret) error {
	_, err := v.client.Logical().WriteWithContext(ctx, v.path(secret.Name), map[string]interface{}{
		"data": secret.Value,
	})
	if err != nil {
		return fmt.Errorf("write vault secret %s: %w", secret.Name, err)
	}
	return nil
}

func (v *VaultStore) Delete(ctx context.Context, name string) error {
	_, err := v.client.Logical().DeleteWithContext(ctx, v.path(name))
	if err != nil {
		return fmt.Errorf("delete vault secret %s: %w", name, err)
	}
	return nil
}

func (v *VaultStore) List(ctx context.Context, secretType SecretType) ([]string, error) {
	listPath := fmt.Sprintf("%s/metadata/opsnav", v.mount)
	secret, err := v.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("list vault secrets: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	keys, _ := secret.Data["keys"].([]interface{})
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := k.(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

func (v *VaultStore) Rotate(ctx context.Context, name string, newValue map[string]string) error {
	return v.Set(ctx, &Secret{Name: name, Value: newValue})
}

func (v *VaultStore) Close() error { return nil }

func (v *VaultStore) Health(ctx context.Context) error {
	health, err := v.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check: %w", err)
	}
	if !health.Initialized || health.Sealed {
		return fmt.Errorf("vault not ready: initialized=%v sealed=%v", health.Initialized, health.Sealed)
	}
	return nil
}
