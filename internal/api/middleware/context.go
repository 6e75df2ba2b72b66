package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/jobclient/pkg/models"
)

type contextKey string

const (
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyKey       contextKey = "api_key"
)

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

// GetKeyPrefix returns the prefix of the API key that authenticated r.
func GetKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyKey, key)
}

func getAPIKey(r *http.Request) *models.APIKey {
	key, _ := r.Context().Value(apiKeyKey).(*models.APIKey)
	return key
}

// WithKeyPrefix marks ctx as authenticated by a key with prefix (for testing).
func WithKeyPrefix(ctx context.Context, prefix string) context.Context {
	return setKeyPrefix(ctx, prefix)
}
