package realtime

import (
	"sort"
	"strings"
)

// Roster is the immutable allow-list of participant identities.
// It is built once at startup and shared read-only by every connection.
type Roster struct {
	members map[string]struct{}
	ordered []string
}

// NewRoster builds a roster from ids. Blank entries are ignored and duplicates collapse.
func NewRoster(ids ...string) *Roster {
	r := &Roster{members: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := r.members[id]; ok {
			continue
		}
		r.members[id] = struct{}{}
		r.ordered = append(r.ordered, id)
	}
	sort.Strings(r.ordered)
	return r
}

// Contains reports whether id is allowed to authenticate. Matching is exact.
func (r *Roster) Contains(id string) bool {
	if r == nil || id == "" {
		return false
	}
	_, ok := r.members[id]
	return ok
}

// Members returns a sorted copy of the allowed identities.
func (r *Roster) Members() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of allowed identities.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ordered)
}
