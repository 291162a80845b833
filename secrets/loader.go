// Package secrets loads process-wide secret material (the card network's
// webhook HMAC key) from AWS Secrets Manager, with in-process caching to
// keep a warm Lambda container from calling Secrets Manager on every
// invocation. Adapted from the teacher's lambda/secrets.go
// CachedSecretsLoader, re-pointed from TVM API tokens to the
// card-authorization provider secret.
package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Loader retrieves a secret value by its Secrets Manager ID or ARN.
type Loader interface {
	GetSecret(ctx context.Context, secretID string) (string, error)
}

// DefaultCacheTTL matches the teacher's default: secrets rarely rotate
// within a single Lambda container's lifetime, so an hour-long cache
// trades staleness risk for far fewer Secrets Manager calls.
const DefaultCacheTTL = 1 * time.Hour

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// CachedLoader implements Loader with an in-process, TTL-bounded cache.
type CachedLoader struct {
	client secretsManagerAPI
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]*cachedSecret
}

// NewCachedLoader builds a CachedLoader over awsCfg's Secrets Manager
// client, using ttl (DefaultCacheTTL if zero).
func NewCachedLoader(awsCfg aws.Config, ttl time.Duration) *CachedLoader {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedLoader{
		client: secretsmanager.NewFromConfig(awsCfg),
		ttl:    ttl,
		cache:  make(map[string]*cachedSecret),
	}
}

// GetSecret returns secretID's string value, from cache if still fresh.
func (l *CachedLoader) GetSecret(ctx context.Context, secretID string) (string, error) {
	if secretID == "" {
		return "", fmt.Errorf("secret ID is required")
	}

	l.mu.RLock()
	if cached, ok := l.cache[secretID]; ok && time.Now().Before(cached.expiresAt) {
		l.mu.RUnlock()
		return cached.value, nil
	}
	l.mu.RUnlock()

	output, err := l.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", secretID, err)
	}
	if output.SecretString == nil {
		return "", fmt.Errorf("secret %q is not a string value", secretID)
	}
	value := *output.SecretString

	l.mu.Lock()
	l.cache[secretID] = &cachedSecret{value: value, expiresAt: time.Now().Add(l.ttl)}
	l.mu.Unlock()

	return value, nil
}
