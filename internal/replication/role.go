package replication

import "fmt"

// Role is the replication state of a server
type Role int32

const (
	RoleUnparented Role = iota
	RolePrimary
	RoleBackup
)

func (r Role) String() string {
	switch r {
	case RoleUnparented:
		return "UNPARENTED"
	case RolePrimary:
		return "PRIMARY"
	case RoleBackup:
		return "BACKUP"
	}
	return fmt.Sprintf("Role(%d)", int32(r))
}
