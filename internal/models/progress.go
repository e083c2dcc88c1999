package models

import "time"

// Progress is the persisted completion checkpoint. It records which
// usernames have a fully produced UserRecord so a later run can skip
// them. It only ever grows within a run.
type Progress struct {
	CompletedUsers []string  `json:"completed_users"`
	LastUpdated    time.Time `json:"last_updated"`
}

// CompletedSet returns the completed usernames as a set.
func (p *Progress) CompletedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.CompletedUsers))
	for _, u := range p.CompletedUsers {
		set[u] = struct{}{}
	}
	return set
}
