package audit

import (
	"sort"

	"clearline/internal/domain"
)

// Filters narrows a ledger query. Zero values mean "any". Date bounds are
// inclusive RFC3339 timestamps.
type Filters struct {
	UserID     string
	Action     Action
	Resource   string
	ResourceID string
	DateStart  string
	DateEnd    string
	UserLevel  domain.PermissionLevel
}

func (f Filters) match(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.DateStart != "" && e.Timestamp < f.DateStart {
		return false
	}
	if f.DateEnd != "" && e.Timestamp > f.DateEnd {
		return false
	}
	if f.UserLevel != 0 && e.UserLevel != f.UserLevel {
		return false
	}
	return true
}

// Query returns matching entries sorted by timestamp descending. Entries
// sharing a timestamp keep id order, newest first, so the sort is stable
// under concurrent appends.
func (l *Ledger) Query(f Filters) []Entry {
	l.mu.RLock()
	var out []Entry
	for _, e := range l.entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// TrailFor returns the full history of one resource, newest first.
func (l *Ledger) TrailFor(resource, resourceID string) []Entry {
	return l.Query(Filters{Resource: resource, ResourceID: resourceID})
}

// Level3Operations returns full-access operations since the given timestamp
// (all of them when since is empty), newest first.
func (l *Ledger) Level3Operations(since string) []Entry {
	return l.Query(Filters{UserLevel: domain.LevelFull, DateStart: since})
}

// Len reports the committed entry count.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
