package domain

// User owns an ordered, duplicate-free list of conditioning log ids. The
// UserID comes from the external identity source; EntityID is internal.
type User struct {
	EntityID string   `json:"entity_id"`
	UserID   string   `json:"user_id"`
	Logs     []string `json:"logs"`
}

// HasLog reports whether the user's log list contains the id.
func (u User) HasLog(logID string) bool {
	for _, id := range u.Logs {
		if id == logID {
			return true
		}
	}
	return false
}

// AddLog appends the id to the user's log list unless it is already present.
func (u *User) AddLog(logID string) {
	if u.HasLog(logID) {
		return
	}
	u.Logs = append(u.Logs, logID)
}

// RemoveLog drops the id from the user's log list, preserving order.
func (u *User) RemoveLog(logID string) {
	out := u.Logs[:0]
	for _, id := range u.Logs {
		if id != logID {
			out = append(out, id)
		}
	}
	u.Logs = out
}
