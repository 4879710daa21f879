package auth

// Permission represents a named capability in the bridge API.
type Permission string

// Permission constants.
const (
	PermLightsRead       Permission = "lights:read"
	PermCommissionRead   Permission = "commission:read"
	PermCommissionManage Permission = "commission:manage"
	PermSystemAdmin      Permission = "system:admin"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermLightsRead,
		PermCommissionRead,
	},
	RoleInstaller: {
		PermLightsRead,
		PermCommissionRead,
		PermCommissionManage,
	},
	RoleAdmin: {
		PermLightsRead,
		PermCommissionRead,
		PermCommissionManage,
		PermSystemAdmin,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to a role,
// or nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
