//go:build linux
// +build linux

package kernel

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

// FakeNFTablesConn is an in-memory NFTablesConn. Mutations are queued and
// applied all-or-nothing on Flush, like a netlink batch.
type FakeNFTablesConn struct {
	mu sync.Mutex

	st      fakeState
	pending []func(*fakeState) error

	// FlushErr, when set, fails the next Flush and discards the batch.
	FlushErr error
	// Flushes counts committed batches.
	Flushes int
}

type fakeSet struct {
	set   *nftables.Set
	elems []nftables.SetElement
}

type fakeState struct {
	tables     map[string]*nftables.Table
	chains     map[string]*nftables.Chain
	rules      map[string][]*nftables.Rule
	sets       map[string]*fakeSet
	nextHandle uint64
	nextSetID  uint32
}

// NewFakeNFTablesConn returns an empty fake ruleset.
func NewFakeNFTablesConn() *FakeNFTablesConn {
	return &FakeNFTablesConn{st: fakeState{
		tables: make(map[string]*nftables.Table),
		chains: make(map[string]*nftables.Chain),
		rules:  make(map[string][]*nftables.Rule),
		sets:   make(map[string]*fakeSet),
	}}
}

func chainKey(table, chain string) string { return table + "/" + chain }

func (s fakeState) clone() fakeState {
	c := fakeState{
		tables:     make(map[string]*nftables.Table, len(s.tables)),
		chains:     make(map[string]*nftables.Chain, len(s.chains)),
		rules:      make(map[string][]*nftables.Rule, len(s.rules)),
		sets:       make(map[string]*fakeSet, len(s.sets)),
		nextHandle: s.nextHandle,
		nextSetID:  s.nextSetID,
	}
	for k, v := range s.tables {
		c.tables[k] = v
	}
	for k, v := range s.chains {
		c.chains[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = slices.Clone(v)
	}
	for k, v := range s.sets {
		c.sets[k] = &fakeSet{set: v.set, elems: slices.Clone(v.elems)}
	}
	return c
}

func (m *FakeNFTablesConn) queue(op func(*fakeState) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, op)
}

func (m *FakeNFTablesConn) AddTable(t *nftables.Table) *nftables.Table {
	m.queue(func(s *fakeState) error {
		if _, ok := s.tables[t.Name]; !ok {
			s.tables[t.Name] = t
		}
		return nil
	})
	return t
}

func (m *FakeNFTablesConn) ListTables() ([]*nftables.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*nftables.Table, 0, len(m.st.tables))
	for _, t := range m.st.tables {
		out = append(out, t)
	}
	return out, nil
}

func (m *FakeNFTablesConn) AddChain(c *nftables.Chain) *nftables.Chain {
	m.queue(func(s *fakeState) error {
		if _, ok := s.tables[c.Table.Name]; !ok {
			return fmt.Errorf("add chain %s: %w", c.Name, unix.ENOENT)
		}
		key := chainKey(c.Table.Name, c.Name)
		if _, ok := s.chains[key]; !ok {
			s.chains[key] = c
		}
		return nil
	})
	return c
}

func (m *FakeNFTablesConn) DelChain(c *nftables.Chain) {
	m.queue(func(s *fakeState) error {
		key := chainKey(c.Table.Name, c.Name)
		if _, ok := s.chains[key]; !ok {
			return fmt.Errorf("delete chain %s: %w", c.Name, unix.ENOENT)
		}
		if len(s.rules[key]) > 0 || s.jumpsTo(c.Table.Name, c.Name) {
			return fmt.Errorf("delete chain %s: %w", c.Name, unix.EBUSY)
		}
		delete(s.chains, key)
		delete(s.rules, key)
		return nil
	})
}

func (m *FakeNFTablesConn) FlushChain(c *nftables.Chain) {
	m.queue(func(s *fakeState) error {
		key := chainKey(c.Table.Name, c.Name)
		if _, ok := s.chains[key]; !ok {
			return fmt.Errorf("flush chain %s: %w", c.Name, unix.ENOENT)
		}
		s.rules[key] = nil
		return nil
	})
}

func (m *FakeNFTablesConn) ListChainsOfTableFamily(family nftables.TableFamily) ([]*nftables.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*nftables.Chain
	for _, c := range m.st.chains {
		if c.Table.Family == family {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *FakeNFTablesConn) AddRule(r *nftables.Rule) *nftables.Rule {
	m.queue(func(s *fakeState) error {
		key, err := s.ruleChain(r)
		if err != nil {
			return err
		}
		rule := s.stamp(r)
		rules := s.rules[key]
		if r.Position == 0 {
			s.rules[key] = append(rules, rule)
			return nil
		}
		i := indexOfHandle(rules, r.Position)
		if i < 0 {
			return fmt.Errorf("add rule after handle %d: %w", r.Position, unix.ENOENT)
		}
		s.rules[key] = slices.Insert(rules, i+1, rule)
		return nil
	})
	return r
}

func (m *FakeNFTablesConn) InsertRule(r *nftables.Rule) *nftables.Rule {
	m.queue(func(s *fakeState) error {
		key, err := s.ruleChain(r)
		if err != nil {
			return err
		}
		rule := s.stamp(r)
		rules := s.rules[key]
		if r.Position == 0 {
			s.rules[key] = slices.Insert(rules, 0, rule)
			return nil
		}
		i := indexOfHandle(rules, r.Position)
		if i < 0 {
			return fmt.Errorf("insert rule before handle %d: %w", r.Position, unix.ENOENT)
		}
		s.rules[key] = slices.Insert(rules, i, rule)
		return nil
	})
	return r
}

func (m *FakeNFTablesConn) ReplaceRule(r *nftables.Rule) *nftables.Rule {
	m.queue(func(s *fakeState) error {
		key, err := s.ruleChain(r)
		if err != nil {
			return err
		}
		i := indexOfHandle(s.rules[key], r.Handle)
		if i < 0 {
			return fmt.Errorf("replace rule %d: %w", r.Handle, unix.ENOENT)
		}
		rule := *r
		s.rules[key][i] = &rule
		return nil
	})
	return r
}

func (m *FakeNFTablesConn) DelRule(r *nftables.Rule) error {
	if r.Handle == 0 {
		return fmt.Errorf("rule must have a handle")
	}
	m.queue(func(s *fakeState) error {
		key, err := s.ruleChain(r)
		if err != nil {
			return err
		}
		i := indexOfHandle(s.rules[key], r.Handle)
		if i < 0 {
			return fmt.Errorf("delete rule %d: %w", r.Handle, unix.ENOENT)
		}
		s.rules[key] = slices.Delete(s.rules[key], i, i+1)
		return nil
	})
	return nil
}

func (m *FakeNFTablesConn) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := chainKey(t.Name, c.Name)
	if _, ok := m.st.chains[key]; !ok {
		return nil, fmt.Errorf("get rules %s: %w", c.Name, unix.ENOENT)
	}
	out := make([]*nftables.Rule, 0, len(m.st.rules[key]))
	for _, r := range m.st.rules[key] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *FakeNFTablesConn) AddSet(set *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	if set.ID == 0 {
		m.st.nextSetID++
		set.ID = m.st.nextSetID
	}
	m.mu.Unlock()
	m.queue(func(s *fakeState) error {
		if _, ok := s.tables[set.Table.Name]; !ok {
			return fmt.Errorf("add set %s: %w", set.Name, unix.ENOENT)
		}
		key := chainKey(set.Table.Name, set.Name)
		fs, ok := s.sets[key]
		if !ok {
			fs = &fakeSet{set: set}
			s.sets[key] = fs
		}
		fs.elems = append(fs.elems, vals...)
		return nil
	})
	return nil
}

func (m *FakeNFTablesConn) DelSet(set *nftables.Set) {
	m.queue(func(s *fakeState) error {
		key := chainKey(set.Table.Name, set.Name)
		if _, ok := s.sets[key]; !ok {
			return fmt.Errorf("delete set %s: %w", set.Name, unix.ENOENT)
		}
		if s.looksUp(set.Table.Name, set.Name) {
			return fmt.Errorf("delete set %s: %w", set.Name, unix.EBUSY)
		}
		delete(s.sets, key)
		return nil
	})
}

func (m *FakeNFTablesConn) GetSets(t *nftables.Table) ([]*nftables.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.tables[t.Name]; !ok {
		return nil, fmt.Errorf("get sets %s: %w", t.Name, unix.ENOENT)
	}
	var out []*nftables.Set
	for _, fs := range m.st.sets {
		if fs.set.Table.Name == t.Name {
			out = append(out, fs.set)
		}
	}
	return out, nil
}

func (m *FakeNFTablesConn) GetSetElements(set *nftables.Set) ([]nftables.SetElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.st.sets[chainKey(set.Table.Name, set.Name)]
	if !ok {
		return nil, fmt.Errorf("get set elements %s: %w", set.Name, unix.ENOENT)
	}
	return slices.Clone(fs.elems), nil
}

func (m *FakeNFTablesConn) SetAddElements(set *nftables.Set, vals []nftables.SetElement) error {
	m.queue(func(s *fakeState) error {
		fs, ok := s.sets[chainKey(set.Table.Name, set.Name)]
		if !ok {
			return fmt.Errorf("add elements %s: %w", set.Name, unix.ENOENT)
		}
		fs.elems = append(fs.elems, vals...)
		return nil
	})
	return nil
}

func (m *FakeNFTablesConn) FlushSet(set *nftables.Set) {
	m.queue(func(s *fakeState) error {
		fs, ok := s.sets[chainKey(set.Table.Name, set.Name)]
		if !ok {
			return fmt.Errorf("flush set %s: %w", set.Name, unix.ENOENT)
		}
		fs.elems = nil
		return nil
	})
}

// Flush applies the queued batch atomically.
func (m *FakeNFTablesConn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.pending
	m.pending = nil
	if m.FlushErr != nil {
		err := m.FlushErr
		m.FlushErr = nil
		return err
	}
	next := m.st.clone()
	for _, op := range ops {
		if err := op(&next); err != nil {
			return err
		}
	}
	m.st = next
	m.Flushes++
	return nil
}

// SetCounters overwrites the counter expression of every rule in chain whose
// UserData equals tag.
func (m *FakeNFTablesConn) SetCounters(table, chain string, tag []byte, packets, byteCount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.st.rules[chainKey(table, chain)] {
		if !bytes.Equal(r.UserData, tag) {
			continue
		}
		for i, e := range r.Exprs {
			if _, ok := e.(*expr.Counter); ok {
				r.Exprs[i] = &expr.Counter{Packets: packets, Bytes: byteCount}
			}
		}
	}
}

// HasChain reports whether a committed chain exists.
func (m *FakeNFTablesConn) HasChain(table, chain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.st.chains[chainKey(table, chain)]
	return ok
}

func (s *fakeState) ruleChain(r *nftables.Rule) (string, error) {
	key := chainKey(r.Table.Name, r.Chain.Name)
	if _, ok := s.chains[key]; !ok {
		return "", fmt.Errorf("chain %s: %w", r.Chain.Name, unix.ENOENT)
	}
	return key, nil
}

func (s *fakeState) stamp(r *nftables.Rule) *nftables.Rule {
	s.nextHandle++
	rule := *r
	rule.Handle = s.nextHandle
	rule.Position = 0
	rule.Exprs = slices.Clone(r.Exprs)
	return &rule
}

func (s *fakeState) jumpsTo(table, chain string) bool {
	for key, rules := range s.rules {
		if s.chains[key] == nil || s.chains[key].Table.Name != table {
			continue
		}
		for _, r := range rules {
			for _, e := range r.Exprs {
				if v, ok := e.(*expr.Verdict); ok && v.Chain == chain {
					return true
				}
			}
		}
	}
	return false
}

func (s *fakeState) looksUp(table, set string) bool {
	for key, rules := range s.rules {
		if s.chains[key] == nil || s.chains[key].Table.Name != table {
			continue
		}
		for _, r := range rules {
			for _, e := range r.Exprs {
				if l, ok := e.(*expr.Lookup); ok && l.SetName == set {
					return true
				}
			}
		}
	}
	return false
}

func indexOfHandle(rules []*nftables.Rule, handle uint64) int {
	return slices.IndexFunc(rules, func(r *nftables.Rule) bool { return r.Handle == handle })
}
