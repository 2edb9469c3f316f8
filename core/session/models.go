package session

import (
	"sync"

	"github.com/athenalms/portal/backend"
)

// Roles
const (
	RoleAdmin      = "admin"
	RoleInstructor = "instructor"
	RoleUser       = "user"
)

var (
	// roleRanking is the fixed priority scan order for deriving the
	// single highest role out of a profile's role list.
	roleRanking = []string{RoleAdmin, RoleInstructor, RoleUser}

	rolePriorities = map[string]int{
		RoleAdmin:      30,
		RoleInstructor: 20,
		RoleUser:       10,
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

// HighestRole scans the fixed priority list against roles and returns the
// first match, defaulting to "user" when nothing matches.
func HighestRole(roles []string) string {
	for _, candidate := range roleRanking {
		for _, role := range roles {
			if role == candidate {
				return candidate
			}
		}
	}
	return RoleUser
}

// Profile is the portal's view of the signed-in user.
type Profile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	AvatarURL string   `json:"avatar_url"`
	Roles     []string `json:"roles"`
}

func NewProfile(p backend.Profile) Profile {
	return Profile{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		AvatarURL: p.AvatarURL,
		Roles:     p.Roles(),
	}
}

// HasAnyRole reports whether the profile holds at least one of the given
// roles. An empty required set always passes.
func (p Profile) HasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, required := range roles {
		for _, role := range p.Roles {
			if role == required {
				return true
			}
		}
	}
	return false
}

// State is a point-in-time snapshot of the session.
type State struct {
	Token       string
	Profile     *Profile
	HighestRole string
	Loading     bool
	Err         error
}

// Authenticated is true iff a usable credential was found at load time.
func (s State) Authenticated() bool { return s.Token != "" }

// RoleStore holds the derived highest role for unrelated consumers
// (the navigation layer reads it without touching the session manager).
type RoleStore struct {
	mu   sync.RWMutex
	role string
}

func NewRoleStore() *RoleStore {
	return &RoleStore{role: RoleUser}
}

func (s *RoleStore) Set(role string) {
	s.mu.Lock()
	s.role = role
	s.mu.Unlock()
}

func (s *RoleStore) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}
