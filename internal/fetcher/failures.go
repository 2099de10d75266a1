package fetcher

import "sort"

// FailureSet is an insertion-ordered set of items awaiting a retry.
// It is not safe for concurrent use; the scheduler's control loop owns it.
type FailureSet struct {
	seq     int
	entries map[string]failureEntry
}

type failureEntry struct {
	seq  int
	item Item
}

// NewFailureSet returns an empty set.
func NewFailureSet() *FailureSet {
	return &FailureSet{entries: make(map[string]failureEntry)}
}

// Add inserts item. Adding an ID that is already present keeps its original
// position and reports false.
func (s *FailureSet) Add(item Item) bool {
	if _, ok := s.entries[item.ID]; ok {
		return false
	}
	s.seq++
	s.entries[item.ID] = failureEntry{seq: s.seq, item: item}
	return true
}

// Remove deletes id, reporting whether it was present.
func (s *FailureSet) Remove(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Contains reports whether id is in the set.
func (s *FailureSet) Contains(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Len returns the number of items.
func (s *FailureSet) Len() int {
	return len(s.entries)
}

// Items returns a snapshot of the set in insertion order. Mutating the set
// afterwards does not affect the snapshot.
func (s *FailureSet) Items() []Item {
	entries := make([]failureEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	items := make([]Item, len(entries))
	for i, e := range entries {
		items[i] = e.item
	}
	return items
}

// IDs returns the identifiers in insertion order.
func (s *FailureSet) IDs() []string {
	items := s.Items()
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
