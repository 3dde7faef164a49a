package auth

import (
	"strconv"
	"strings"
)

// PolicyService decides which Telegram users may talk to the bot.
type PolicyService struct {
	adminUserIDs   map[int64]bool
	allowedUserIDs map[int64]bool // empty means everyone is allowed
}

// NewPolicyService parses comma-separated ID lists from configuration.
func NewPolicyService(adminUserIDsStr, allowedUserIDsStr string) *PolicyService {
	return &PolicyService{
		adminUserIDs:   parseIDList(adminUserIDsStr),
		allowedUserIDs: parseIDList(allowedUserIDsStr),
	}
}

func parseIDList(s string) map[int64]bool {
	ids := make(map[int64]bool)
	if s == "" {
		return ids
	}
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err == nil {
			ids[id] = true
		}
	}
	return ids
}

// IsAdmin checks if a user is an admin.
func (p *PolicyService) IsAdmin(userID int64) bool {
	return p.adminUserIDs[userID]
}

// IsAllowed checks if a user may use the bot. With no allow-list configured,
// all users are allowed.
func (p *PolicyService) IsAllowed(userID int64) bool {
	if len(p.allowedUserIDs) == 0 {
		return true
	}
	if p.IsAdmin(userID) {
		return true
	}
	return p.allowedUserIDs[userID]
}
