// Package roster holds the in-memory set of enrolled identities.
package roster

import "github.com/MrCodeEU/faceattend/pkg/recognition"

// Entry is one enrolled reference image.
type Entry struct {
	Name       string
	Descriptor recognition.Descriptor
	Source     string // file the entry was enrolled from
}

// Roster is an ordered, read-only list of entries. Names are not unique;
// two images named alice.jpg and alice.png yield two entries called "alice".
type Roster struct {
	entries     []Entry
	names       []string
	descriptors []recognition.Descriptor
}

// New builds a roster from entries. The slice is copied.
func New(entries []Entry) *Roster {
	r := &Roster{
		entries:     make([]Entry, len(entries)),
		names:       make([]string, len(entries)),
		descriptors: make([]recognition.Descriptor, len(entries)),
	}
	copy(r.entries, entries)
	for i, e := range entries {
		r.names[i] = e.Name
		r.descriptors[i] = e.Descriptor
	}
	return r
}

// Len returns the number of entries. A nil roster is empty.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries returns a copy of the entries in enrollment order.
func (r *Roster) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Names returns a copy of the entry names in enrollment order.
func (r *Roster) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Descriptors returns a copy of the entry descriptors in enrollment order.
func (r *Roster) Descriptors() []recognition.Descriptor {
	if r == nil {
		return nil
	}
	out := make([]recognition.Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Match resolves a query descriptor against every entry.
func (r *Roster) Match(query recognition.Descriptor, tolerance float64) recognition.MatchResult {
	if r == nil {
		return recognition.Resolve(nil, nil, query, tolerance)
	}
	return recognition.Resolve(r.names, r.descriptors, query, tolerance)
}
