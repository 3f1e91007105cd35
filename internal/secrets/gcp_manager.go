package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// ErrSecretUnavailable is returned when a credential has neither an explicit
// value nor a readable secret
var ErrSecretUnavailable = errors.New("secret unavailable")

// payloadAccessor reads the latest payload of a fully qualified secret name
type payloadAccessor interface {
	Access(ctx context.Context, name string) ([]byte, error)
	Close() error
}

type gcpAccessor struct {
	client *secretmanager.Client
}

func (a *gcpAccessor) Access(ctx context.Context, name string) ([]byte, error) {
	result, err := a.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name + "/versions/latest",
	})
	if err != nil {
		return nil, err
	}
	return result.Payload.Data, nil
}

func (a *gcpAccessor) Close() error {
	return a.client.Close()
}

// cacheEntry represents a cached secret with expiration
type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// GCPSecretManager reads channel credentials from Google Cloud Secret Manager
type GCPSecretManager struct {
	accessor  payloadAccessor
	projectID string
	cache     map[string]*cacheEntry
	cacheMu   sync.RWMutex
	cacheTTL  time.Duration
}

// NewGCPSecretManager creates a new GCP Secret Manager client
func NewGCPSecretManager(ctx context.Context, projectID string) (*GCPSecretManager, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	return newManager(projectID, &gcpAccessor{client: client}), nil
}

func newManager(projectID string, accessor payloadAccessor) *GCPSecretManager {
	return &GCPSecretManager{
		accessor:  accessor,
		projectID: projectID,
		cache:     make(map[string]*cacheEntry),
		cacheTTL:  5 * time.Minute,
	}
}

// Close closes the Secret Manager client
func (sm *GCPSecretManager) Close() error {
	if sm == nil || sm.accessor == nil {
		return nil
	}
	return sm.accessor.Close()
}

// BuildSecretName constructs the fully qualified name of a secret
// Format: projects/{project}/secrets/{secret_id}
func (sm *GCPSecretManager) BuildSecretName(secretID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", sm.projectID, sanitizeSecretID(secretID))
}

// GetSecretValue returns the latest version of secretID as a trimmed string
func (sm *GCPSecretManager) GetSecretValue(ctx context.Context, secretID string) (string, error) {
	name := sm.BuildSecretName(secretID)

	sm.cacheMu.RLock()
	if entry, ok := sm.cache[name]; ok && time.Now().Before(entry.expiresAt) {
		sm.cacheMu.RUnlock()
		return entry.value, nil
	}
	sm.cacheMu.RUnlock()

	data, err := sm.accessor.Access(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretID, err)
	}
	value := strings.TrimSpace(string(data))

	sm.cacheMu.Lock()
	sm.cache[name] = &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(sm.cacheTTL),
	}
	sm.cacheMu.Unlock()

	return value, nil
}

// Resolve returns value when set, otherwise the secret named secretID. A nil
// manager only ever returns explicit values.
func (sm *GCPSecretManager) Resolve(ctx context.Context, value, secretID string) (string, error) {
	if value != "" {
		return value, nil
	}
	if sm == nil || sm.accessor == nil || secretID == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretUnavailable, secretID)
	}
	secret, err := sm.GetSecretValue(ctx, secretID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}
	if secret == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrSecretUnavailable, secretID)
	}
	return secret, nil
}

// InvalidateCache removes a secret from the cache
func (sm *GCPSecretManager) InvalidateCache(secretID string) {
	sm.cacheMu.Lock()
	delete(sm.cache, sm.BuildSecretName(secretID))
	sm.cacheMu.Unlock()
}

// ClearCache removes all secrets from the cache
func (sm *GCPSecretManager) ClearCache() {
	sm.cacheMu.Lock()
	sm.cache = make(map[string]*cacheEntry)
	sm.cacheMu.Unlock()
}

// sanitizeSecretID removes or replaces invalid characters for GCP secret IDs
// Secret IDs can only contain alphanumeric characters, hyphens, and underscores
func sanitizeSecretID(input string) string {
	var result strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('-')
		}
	}
	return result.String()
}
