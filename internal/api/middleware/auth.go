package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobclient/internal/api/response"
	"github.com/kiranshivaraju/jobclient/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	keys map[string][]*models.APIKey
}

// NewAuth creates a new Auth middleware accepting keys.
func NewAuth(keys []*models.APIKey) *Auth {
	a := &Auth{keys: make(map[string][]*models.APIKey)}
	for _, k := range keys {
		a.keys[k.KeyPrefix] = append(a.keys[k.KeyPrefix], k)
	}
	return a
}

// ParseKeys turns "rawkey[:scope[+scope]]" specs into hashed API keys. Every
// key gets the run scope; extra scopes follow the colon.
func ParseKeys(specs []string, cost int) ([]*models.APIKey, error) {
	keys := make([]*models.APIKey, 0, len(specs))
	for i, spec := range specs {
		raw, extra, _ := strings.Cut(spec, ":")
		if len(raw) < keyPrefixLen {
			return nil, fmt.Errorf("api key %d: must be at least %d characters", i+1, keyPrefixLen)
		}
		scopes := []string{models.ScopeRun}
		for _, s := range strings.Split(extra, "+") {
			switch s {
			case "", models.ScopeRun:
			case models.ScopeAdmin:
				scopes = append(scopes, s)
			default:
				return nil, fmt.Errorf("api key %d: unknown scope %q", i+1, s)
			}
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
		if err != nil {
			return nil, fmt.Errorf("api key %d: hashing: %w", i+1, err)
		}
		keys = append(keys, &models.APIKey{
			ID:        uuid.New(),
			Name:      fmt.Sprintf("key-%d", i+1),
			KeyHash:   string(hash),
			KeyPrefix: raw[:keyPrefixLen],
			Scopes:    scopes,
			CreatedAt: time.Now().UTC(),
		})
	}
	return keys, nil
}

// Authenticate validates the Bearer token and stores the key prefix and the
// matched key in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:keyPrefixLen]

		// Find matching key by bcrypt comparison
		for _, key := range a.keys[prefix] {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
				ctx := setKeyPrefix(r.Context(), prefix)
				ctx = setAPIKey(ctx, key)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key", nil)
	})
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := getAPIKey(r); key != nil && key.HasScope(scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
