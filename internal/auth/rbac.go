package auth

import (
	"strings"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/tenant"
)

// Policy is the tool_name -> required_roles RBAC map. An empty role list
// means the tool is public to any authenticated (or anonymous) caller.
type Policy map[string][]tenant.Role

// DefaultPolicy seeds the well-known administrative tools. The package has
// no function for loading a policy from a file.
func DefaultPolicy() Policy {
	return Policy{
		"register_server":   {tenant.RoleAdmin},
		"deregister_server":  {tenant.RoleAdmin},
		"update_server":      {tenant.RoleAdmin, tenant.RoleServerOwner},
		"reset_rate_limit":   {tenant.RoleAdmin},
		"view_audit_log":     {tenant.RoleAdmin},
	}
}

// Authorize checks userCtx's role against tool's required roles. The
// server_owner role is granted dynamically when isOwner is true, regardless
// of the user's stored role, matching the registrant-ownership special case.
func (p Policy) Authorize(tool string, userCtx tenant.Context, isOwner bool) error {
	required, ok := p[tool]
	if !ok || len(required) == 0 {
		return nil
	}
	if isOwner {
		for _, r := range required {
			if r == tenant.RoleServerOwner {
				return nil
			}
		}
	}
	for _, r := range required {
		if r == userCtx.Role {
			return nil
		}
	}
	return apperrors.ToolNotAllowed(tool).WithDetails("required_roles", rolesToStrings(required))
}

// AuthorizeResource enforces the config:// resource RBAC rule: any URI
// under that scheme requires the admin role.
func AuthorizeResource(uri string, userCtx tenant.Context) error {
	if strings.HasPrefix(uri, "config://") && userCtx.Role != tenant.RoleAdmin {
		return apperrors.ResourceDenied(uri)
	}
	return nil
}

func rolesToStrings(roles []tenant.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
