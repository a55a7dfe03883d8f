package domain

import (
	"github.com/google/uuid"
)

// User is the read-only identity this subsystem sees. Profiles are owned by
// the portal's user service.
type User struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}

const (
	RoleStudent     = "student"
	RoleSupervisor  = "supervisor"
	RoleCoordinator = "coordinator"
	RoleAdmin       = "admin"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleSupervisor, RoleCoordinator, RoleAdmin:
		return true
	}
	return false
}
