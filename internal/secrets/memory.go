package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the default SecretStore: plaintext, process-local, lost
// on restart. Fine for local/dev use; the interface seam means a
// deployment can swap it for Vault without any caller-side change.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]*Secret
}

// NewMemoryStore returns an empty in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]*Secret)}
}

func (m *MemoryStore) Get(ctx context.Context, name string) (*Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.secrets[name]
	if !ok {
		return nil, fmt.Errorf("secret not found: %s", name)
	}
	return &Secret{
		Name: s.Name, Type: s.Type, Value: copySecretValue(s.Value),
		Version: s.Version, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}, nil
}

func (m *MemoryStore) Set(ctx context.Context, secret *Secret) error {
	if secret.Name == "" {
		return fmt.Errorf("secret name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	version := "1"
	createdAt := now
	if existing, ok := m.secrets[secret.Name]; ok {
		createdAt = existing.CreatedAt
		version = nextVersion(existing.Version)
	}

	m.secrets[secret.Name] = &Secret{
		Name: secret.Name, Type: secret.Type, Value: copySecretValue(secret.Value),
		Version: version, CreatedAt: createdAt, UpdatedAt: now,
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.secrets[name]; !ok {
		return fmt.Errorf("secret not found: %s", name)
	}
	delete(m.secrets, name)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, secretType SecretType) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, s := range m.secrets {
		if secretType == "" || s.Type == secretType {
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *MemoryStore) Rotate(ctx context.Context, name string, newValue map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.secrets[name]
	if !ok {
		return fmt.Errorf("secret not found: %s", name)
	}
	s.Value = copySecretValue(newValue)
	s.Version = nextVersion(s.Version)
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Health(ctx context.Context) error { return nil }

func nextVersion(version string) string {
	var v int
	fmt.Sscanf(version, "%d", &v)
	return fmt.Sprintf("%d", v+1)
}
