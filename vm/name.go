package vm

import "sync"

// Name is an interned symbol. The zero Name is NameNone, the empty name.
//
// Names compare by index, so name-typed values are cheap to pass through
// the operand stack and to compare in natives.
type Name int32

// NameNone is the empty name.
const NameNone Name = 0

// NameTable interns strings to Names.
//
// The table is append-only. Reads are safe concurrently with Intern, which
// lets the diagnostics server resolve names while the runtime is busy.
type NameTable struct {
	mu     sync.RWMutex
	byName map[string]Name
	byID   []string
}

// NewNameTable creates a table holding only NameNone.
func NewNameTable() *NameTable {
	nt := &NameTable{
		byName: make(map[string]Name),
		byID:   make([]string, 1, 256),
	}
	nt.byName[""] = NameNone
	return nt
}

// Intern returns the Name for s, creating it if needed.
func (nt *NameTable) Intern(s string) Name {
	nt.mu.RLock()
	if n, ok := nt.byName[s]; ok {
		nt.mu.RUnlock()
		return n
	}
	nt.mu.RUnlock()

	nt.mu.Lock()
	defer nt.mu.Unlock()

	if n, ok := nt.byName[s]; ok {
		return n
	}
	n := Name(len(nt.byID))
	nt.byName[s] = n
	nt.byID = append(nt.byID, s)
	return n
}

// Lookup returns the Name for s without creating it.
func (nt *NameTable) Lookup(s string) (Name, bool) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	n, ok := nt.byName[s]
	return n, ok
}

// String returns the text of n, or "" for an unknown name.
func (nt *NameTable) String(n Name) string {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	if n < 0 || int(n) >= len(nt.byID) {
		return ""
	}
	return nt.byID[n]
}

// Len returns the number of interned names, including NameNone.
func (nt *NameTable) Len() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return len(nt.byID)
}
