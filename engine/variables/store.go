package variables

import "strings"

// Store is the runtime variable container for one task instance. Names are
// case-insensitive. A value is either a scalar or a sparse array addressed by
// 1-based indices; Count answers the highest assigned index, not the number
// of populated slots. Reads fail soft: a missing name yields an empty string.
type Store struct {
	vars map[string]*value
}

type value struct {
	scalar  string
	entries map[int]string // nil for scalars
	maxIdx  int
}

func NewStore() *Store {
	return &Store{vars: make(map[string]*value)}
}

func key(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Set stores a scalar, overwriting any prior scalar or array under name.
func (s *Store) Set(name, val string) {
	s.vars[key(name)] = &value{scalar: val}
}

// SetIndex stores an array element at a 1-based index. Setting an index on a
// name that held a scalar discards the scalar. Indices below 1 are ignored.
func (s *Store) SetIndex(name string, idx int, val string) {
	if idx < 1 {
		return
	}
	k := key(name)
	v, ok := s.vars[k]
	if !ok || v.entries == nil {
		v = &value{entries: make(map[int]string)}
		s.vars[k] = v
	}
	v.entries[idx] = val
	if idx > v.maxIdx {
		v.maxIdx = idx
	}
}

// Get returns the scalar stored under name. For an array-valued name it
// returns element 1; callers control the access pattern explicitly and the
// store never coalesces an array into anything else. Missing names return "".
func (s *Store) Get(name string) string {
	v, ok := s.vars[key(name)]
	if !ok {
		return ""
	}
	if v.entries != nil {
		return v.entries[1]
	}
	return v.scalar
}

// GetIndex returns the array element at a 1-based index, or "" when the name
// is missing, scalar-valued, or the slot was never assigned.
func (s *Store) GetIndex(name string, idx int) string {
	v, ok := s.vars[key(name)]
	if !ok || v.entries == nil {
		if ok && idx == 1 {
			return v.scalar
		}
		return ""
	}
	return v.entries[idx]
}

// Count returns the highest assigned index for an array, 1 for a scalar, and
// 0 for a missing name.
func (s *Store) Count(name string) int {
	v, ok := s.vars[key(name)]
	if !ok {
		return 0
	}
	if v.entries != nil {
		return v.maxIdx
	}
	return 1
}

// Exists reports whether name currently holds any value.
func (s *Store) Exists(name string) bool {
	_, ok := s.vars[key(name)]
	return ok
}

// Clear removes name entirely. Clearing a missing name is a no-op.
func (s *Store) Clear(name string) {
	delete(s.vars, key(name))
}

// ClearIndex removes one array slot. Clearing the last remaining slot leaves
// an empty array behind so Exists stays true until Clear is called; Count
// still reports the highest index ever assigned for sequential-fill callers.
func (s *Store) ClearIndex(name string, idx int) {
	v, ok := s.vars[key(name)]
	if !ok || v.entries == nil {
		return
	}
	delete(v.entries, idx)
}

// Names returns every stored name, for diagnostics dumps.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.vars))
	for k := range s.vars {
		out = append(out, k)
	}
	return out
}
