package event

import "time"

// Filter is a predicate combinator over envelope fields. All set fields
// are AND-ed together; Custom runs last against the full event.
type Filter struct {
	Types    []Type
	UserID   string
	Source   string
	Priority Priority // zero means any
	Since    time.Time
	Until    time.Time
	Custom   func(*Event) bool
}

// Matches reports whether ev satisfies every clause of the filter.
// A nil filter matches everything.
func (f *Filter) Matches(ev *Event) bool {
	if f == nil {
		return true
	}
	if ev == nil {
		return false
	}
	if len(f.Types) > 0 && !f.matchesType(ev.Type) {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.Priority != 0 && ev.Priority != f.Priority {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	if f.Custom != nil && !f.Custom(ev) {
		return false
	}
	return true
}

func (f *Filter) matchesType(t Type) bool {
	for _, want := range f.Types {
		if want == t {
			return true
		}
	}
	return false
}
