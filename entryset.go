package zipkit

import (
	"github.com/bmatcuk/doublestar/v4"
)

// EntrySet is an insertion-ordered, name-indexed collection of Entry
// pointers (spec §3/§4.6). Insertion order is the order entries are
// written to a central directory; the name index gives O(1) lookup by
// path.
type EntrySet struct {
	order []*Entry
	byName map[string]int // name -> index into order
}

// NewEntrySet returns an empty EntrySet.
func NewEntrySet() *EntrySet {
	return &EntrySet{byName: make(map[string]int)}
}

// Len returns the number of entries.
func (es *EntrySet) Len() int { return len(es.order) }

// Include reports whether name is present.
func (es *EntrySet) Include(name string) bool {
	_, ok := es.byName[name]
	return ok
}

// FindEntry returns the entry named name, or nil if absent.
func (es *EntrySet) FindEntry(name string) *Entry {
	if i, ok := es.byName[name]; ok {
		return es.order[i]
	}
	return nil
}

// Insert adds e, replacing any existing entry of the same name in place
// (preserving its position), or appending if new. Returns the entry it
// replaced, or nil.
func (es *EntrySet) Insert(e *Entry) *Entry {
	if i, ok := es.byName[e.Name]; ok {
		old := es.order[i]
		es.order[i] = e
		return old
	}
	es.byName[e.Name] = len(es.order)
	es.order = append(es.order, e)
	return nil
}

// Delete removes the entry named name, if present, and returns it.
func (es *EntrySet) Delete(name string) *Entry {
	i, ok := es.byName[name]
	if !ok {
		return nil
	}
	removed := es.order[i]
	es.order = append(es.order[:i], es.order[i+1:]...)
	delete(es.byName, name)
	for n, idx := range es.byName {
		if idx > i {
			es.byName[n] = idx - 1
		}
	}
	return removed
}

// Rename changes the key an entry is indexed under and the entry's own
// Name field together, so the two never drift apart.
func (es *EntrySet) Rename(oldName, newName string) error {
	i, ok := es.byName[oldName]
	if !ok {
		return newErrf(NotFound, "EntrySet.Rename", oldName, "no such entry")
	}
	if _, exists := es.byName[newName]; exists {
		return newErrf(EntryExists, "EntrySet.Rename", newName, "an entry with that name already exists")
	}
	es.order[i].Name = newName
	delete(es.byName, oldName)
	es.byName[newName] = i
	return nil
}

// Each calls fn for every entry in insertion order. fn returning false
// stops the iteration early.
func (es *EntrySet) Each(fn func(*Entry) bool) {
	for _, e := range es.order {
		if !fn(e) {
			return
		}
	}
}

// Entries returns a snapshot slice of all entries in insertion order.
func (es *EntrySet) Entries() []*Entry {
	out := make([]*Entry, len(es.order))
	copy(out, es.order)
	return out
}

// Glob returns entries whose names match the shell-style pattern
// (supporting "**"), per spec §4.6.
func (es *EntrySet) Glob(pattern string) ([]*Entry, error) {
	var out []*Entry
	for _, e := range es.order {
		ok, err := doublestar.Match(pattern, e.Name)
		if err != nil {
			return nil, newErr(Argument, "EntrySet.Glob", pattern, err)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Dup returns a shallow copy of the set: same Entry pointers, independent
// ordering/index structures, so removing from the copy never affects the
// original (spec §4.6).
func (es *EntrySet) Dup() *EntrySet {
	out := NewEntrySet()
	for _, e := range es.order {
		out.Insert(e)
	}
	return out
}

// Equal reports whether es and o contain entries with the same contents
// (Entry.Equal), regardless of order (spec §8 invariant 7).
func (es *EntrySet) Equal(o *EntrySet) bool {
	if es.Len() != o.Len() {
		return false
	}
	for name, i := range es.byName {
		oi, ok := o.byName[name]
		if !ok || !es.order[i].Equal(o.order[oi]) {
			return false
		}
	}
	return true
}
