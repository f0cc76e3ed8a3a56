package rbac

// Role names. Keep these stable; they are part of the token contract.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleAgent      = "agent"
	RoleViewer     = "viewer"
	RoleSuperAdmin = "super_admin"
)

// CallWriters may create, dial, link and disposition calls.
var CallWriters = []string{RoleOwner, RoleAdmin, RoleAgent}

// CallReaders may read sessions and the follow-up queue.
var CallReaders = []string{RoleOwner, RoleAdmin, RoleAgent, RoleViewer}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
