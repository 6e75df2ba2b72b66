package models

import (
	"time"

	"github.com/google/uuid"
)

// Scope values carried by service API keys.
const (
	ScopeRun   = "run"
	ScopeAdmin = "admin"
)

// APIKey is a credential accepted by the simulated endpoint service.
// Raw keys are only held by callers; the service keeps the bcrypt hash.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// HasScope reports whether the key grants scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
