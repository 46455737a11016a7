package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker guards the commands that change the sound library.
type PermissionChecker struct {
	adminRoleID string
}

// NewPermissionChecker creates a checker for adminRoleID.
func NewPermissionChecker(adminRoleID string) *PermissionChecker {
	return &PermissionChecker{adminRoleID: adminRoleID}
}

// IsAdmin reports whether the interaction author may manage sounds. With an
// admin role configured the author needs that role; without one the Manage
// Server permission is required. Interactions outside a guild never qualify.
func (p *PermissionChecker) IsAdmin(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	if p.adminRoleID != "" {
		return slices.Contains(i.Member.Roles, p.adminRoleID)
	}
	return i.Member.Permissions&discordgo.PermissionManageServer != 0
}

// UserID returns the interaction author's ID, in a guild or in a DM.
func UserID(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}
