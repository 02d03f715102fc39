package metadata

// ActorContext represents the authenticated actor, set by auth middleware.
// A nil actor means the request is anonymous; audit records then carry no
// actor and author resolution fails.
type ActorContext struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole checks whether the actor has a specific role.
func (a *ActorContext) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the actor has the admin role.
func (a *ActorContext) IsAdmin() bool {
	return a.HasRole("admin")
}
