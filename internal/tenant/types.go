// Package tenant holds the tenant and user projections the gateway keeps
// for partitioning and identity purposes. Users originate from the external
// identity provider; the registry only stores a projection of claims.
package tenant

import "time"

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusDisabled  Status = "DISABLED"
)

type Tenant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleServerOwner Role = "server_owner"
	RoleUser        Role = "user"
	RoleReadonly    Role = "readonly"
	RoleService     Role = "service"
	RoleAnonymous   Role = "anonymous"
)

type User struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Role        Role      `json:"role" db:"role"`
	TenantID    *string   `json:"tenant_id,omitempty" db:"tenant_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Context is the identity attached to an authenticated request, built by
// either the API-key or the OAuth path.
type Context struct {
	UserID      string
	Email       string
	Role        Role
	TenantID    string
	APIKeyID    string
	Permissions []string
	RateLimit   *int
	Anonymous   bool

	// RefreshRecommended is set by the OAuth path when the bearer token's
	// expiry falls inside the provider's refresh lead window, so the
	// caller can proactively renew it before it expires.
	RefreshRecommended bool
}
