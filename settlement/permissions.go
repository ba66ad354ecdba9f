package settlement

// Role is the caller's capability level within a site.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleSupervisor Role = "supervisor"
	RoleAccountant Role = "accountant"
)

// Permissions is the capability matrix derived from a role. Checks run
// before any mutation is attempted.
type Permissions struct {
	CanCreate         bool
	CanRead           bool
	CanUpdate         bool
	CanDelete         bool
	CanManageUsers    bool
	CanExport         bool
	CanViewFinancials bool
}

// PermissionsFor maps a role to its capabilities. An unknown or empty
// role gets nothing.
func PermissionsFor(role Role) Permissions {
	switch role {
	case RoleOwner:
		return Permissions{
			CanCreate:         true,
			CanRead:           true,
			CanUpdate:         true,
			CanDelete:         true,
			CanManageUsers:    true,
			CanExport:         true,
			CanViewFinancials: true,
		}
	case RoleSupervisor:
		return Permissions{
			CanCreate:         true,
			CanRead:           true,
			CanUpdate:         true,
			CanExport:         true,
			CanViewFinancials: true,
		}
	case RoleAccountant:
		return Permissions{
			CanRead:           true,
			CanExport:         true,
			CanViewFinancials: true,
		}
	default:
		return Permissions{}
	}
}

func requireCreate(s Scope) error {
	if !PermissionsFor(s.Role).CanCreate {
		return ErrPermissionDenied
	}
	return nil
}

func requireUpdate(s Scope) error {
	if !PermissionsFor(s.Role).CanUpdate {
		return ErrPermissionDenied
	}
	return nil
}

func requireDelete(s Scope) error {
	if !PermissionsFor(s.Role).CanDelete {
		return ErrPermissionDenied
	}
	return nil
}
