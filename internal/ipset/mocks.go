package ipset

import (
	"fmt"
	"slices"
	"sync"

	"grimm.is/setguard/internal/address"
)

// MemoryStore is an in-memory Store with ipset semantics: capacity is
// enforced on load and Swap exchanges contents and capacity.
type MemoryStore struct {
	mu   sync.Mutex
	sets map[string]*memSet

	// Fail injects an error for an operation. Keys are "op" or "op:name",
	// for example "swap" or "destroy:setguard-tmp-abc".
	Fail map[string]error
	// Ops records every call as "op:name" in order.
	Ops []string
}

type memSet struct {
	capacity int
	members  map[address.Record]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sets: make(map[string]*memSet),
		Fail: make(map[string]error),
	}
}

func (m *MemoryStore) record(op, name string) error {
	m.Ops = append(m.Ops, op+":"+name)
	if err, ok := m.Fail[op+":"+name]; ok {
		return storeErr(err, op, name)
	}
	if err, ok := m.Fail[op]; ok {
		return storeErr(err, op, name)
	}
	return nil
}

func (m *MemoryStore) Create(name string, capacity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create", name); err != nil {
		return false, err
	}
	if _, ok := m.sets[name]; ok {
		return true, nil
	}
	m.sets[name] = &memSet{capacity: capacity, members: make(map[address.Record]struct{})}
	return false, nil
}

func (m *MemoryStore) Destroy(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("destroy", name); err != nil {
		return err
	}
	if _, ok := m.sets[name]; !ok {
		return storeErr(ErrNotFound, "destroy", name)
	}
	delete(m.sets, name)
	return nil
}

func (m *MemoryStore) Flush(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("flush", name); err != nil {
		return err
	}
	s, ok := m.sets[name]
	if !ok {
		return storeErr(ErrNotFound, "flush", name)
	}
	clear(s.members)
	return nil
}

func (m *MemoryStore) BulkLoad(name string, records []address.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("load", name); err != nil {
		return err
	}
	s, ok := m.sets[name]
	if !ok {
		return storeErr(ErrNotFound, "load", name)
	}
	for _, r := range records {
		if _, dup := s.members[r]; dup {
			continue
		}
		if s.capacity > 0 && len(s.members) >= s.capacity {
			return storeErr(fmt.Errorf("set is full, cannot add %s", r), "load", name)
		}
		s.members[r] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) Swap(a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("swap", a); err != nil {
		return err
	}
	sa, okA := m.sets[a]
	sb, okB := m.sets[b]
	if !okA || !okB {
		return storeErr(ErrNotFound, "swap", a+" "+b)
	}
	m.sets[a], m.sets[b] = sb, sa
	return nil
}

func (m *MemoryStore) List(name string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[name]
	if !ok {
		return Info{}, storeErr(ErrNotFound, "list", name)
	}
	members := make([]address.Record, 0, len(s.members))
	for r := range s.members {
		members = append(members, r)
	}
	slices.SortFunc(members, compareRecords)
	return Info{Name: name, Capacity: s.capacity, Count: len(members), Members: members}, nil
}

func (m *MemoryStore) Exists(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Fail["exists"]; ok {
		return false, storeErr(err, "exists", name)
	}
	_, ok := m.sets[name]
	return ok, nil
}

// Names returns every set name, sorted.
func (m *MemoryStore) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sets))
	for n := range m.sets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Called reports whether op was invoked on name.
func (m *MemoryStore) Called(op, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.Ops, op+":"+name)
}

func compareRecords(a, b address.Record) int {
	if a.Base != b.Base {
		if a.Base < b.Base {
			return -1
		}
		return 1
	}
	return int(a.Bits) - int(b.Bits)
}

var _ Store = (*MemoryStore)(nil)
