package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleOwner  Role = "owner"
)

const (
	ActionRead          Action = "read"
	ActionWrite         Action = "write"
	ActionManageMembers Action = "manage-members"
	ActionManageProject Action = "manage-project"
	ActionClearChat     Action = "clear-chat"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleOwner:
		return Role(role)
	default:
		return RoleMember
	}
}
