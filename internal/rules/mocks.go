package rules

import (
	"slices"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"grimm.is/setguard/internal/errors"
)

// MockCommandRunner is a mock implementation of CommandRunner for testing.
type MockCommandRunner struct {
	mock.Mock
}

func (m *MockCommandRunner) Run(name string, args ...string) error {
	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	result := m.Called(callArgs...)
	return result.Error(0)
}

func (m *MockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	result := m.Called(callArgs...)
	if result.Get(0) == nil {
		return nil, result.Error(1)
	}
	return result.Get(0).([]byte), result.Error(1)
}

// MemoryRuleStore is an in-memory RuleStore. Chains must be created before
// use, except those passed to NewMemoryRuleStore.
type MemoryRuleStore struct {
	mu     sync.Mutex
	chains map[string][]memRule

	// Fail injects an error for an operation, keyed "op" or "op:chain".
	Fail map[string]error
}

type memRule struct {
	rule    Rule
	packets uint64
	bytes   uint64
}

// NewMemoryRuleStore creates a store with the given built-in chains.
func NewMemoryRuleStore(builtin ...string) *MemoryRuleStore {
	m := &MemoryRuleStore{chains: make(map[string][]memRule), Fail: make(map[string]error)}
	for _, c := range builtin {
		m.chains[c] = nil
	}
	return m
}

func (m *MemoryRuleStore) fail(op, chain string) error {
	if err, ok := m.Fail[op+":"+chain]; ok {
		return errors.Wrapf(err, errors.KindStore, "%s %s", op, chain)
	}
	if err, ok := m.Fail[op]; ok {
		return errors.Wrapf(err, errors.KindStore, "%s %s", op, chain)
	}
	return nil
}

func (m *MemoryRuleStore) missing(chain string) error {
	return errors.Errorf(errors.KindStore, "chain %s does not exist", chain)
}

func (m *MemoryRuleStore) Insert(chain string, position int, r Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("insert", chain); err != nil {
		return err
	}
	rules, ok := m.chains[chain]
	if !ok {
		return m.missing(chain)
	}
	if r.Action == ActionJump {
		if _, ok := m.chains[r.Target]; !ok {
			return m.missing(r.Target)
		}
	}
	if position <= 0 || position > len(rules) {
		m.chains[chain] = append(rules, memRule{rule: r})
		return nil
	}
	m.chains[chain] = slices.Insert(rules, position-1, memRule{rule: r})
	return nil
}

func (m *MemoryRuleStore) DeleteTagged(chain, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete", chain); err != nil {
		return 0, err
	}
	rules, ok := m.chains[chain]
	if !ok {
		return 0, m.missing(chain)
	}
	kept := rules[:0:0]
	for _, r := range rules {
		if !strings.HasPrefix(r.rule.Tag, prefix) {
			kept = append(kept, r)
		}
	}
	m.chains[chain] = kept
	return len(rules) - len(kept), nil
}

func (m *MemoryRuleStore) List(chain string) ([]Installed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules, ok := m.chains[chain]
	if !ok {
		return nil, m.missing(chain)
	}
	var out []Installed
	for i, r := range rules {
		if r.rule.Tag == "" {
			continue
		}
		out = append(out, Installed{
			Chain:    chain,
			Tag:      r.rule.Tag,
			Position: i + 1,
			Packets:  r.packets,
			Bytes:    r.bytes,
		})
	}
	return out, nil
}

func (m *MemoryRuleStore) ResetCounters(chain, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules, ok := m.chains[chain]
	if !ok {
		return m.missing(chain)
	}
	for i := range rules {
		if strings.HasPrefix(rules[i].rule.Tag, prefix) {
			rules[i].packets, rules[i].bytes = 0, 0
		}
	}
	return nil
}

func (m *MemoryRuleStore) ChainExists(chain string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.chains[chain]
	return ok, nil
}

func (m *MemoryRuleStore) CreateChain(chain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chains[chain]; ok {
		return errors.Errorf(errors.KindStore, "chain %s already exists", chain)
	}
	m.chains[chain] = nil
	return nil
}

func (m *MemoryRuleStore) FlushChain(chain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chains[chain]; !ok {
		return m.missing(chain)
	}
	m.chains[chain] = nil
	return nil
}

func (m *MemoryRuleStore) DeleteChain(chain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules, ok := m.chains[chain]
	if !ok {
		return m.missing(chain)
	}
	if len(rules) > 0 {
		return errors.Errorf(errors.KindStore, "chain %s is not empty", chain)
	}
	for name, rs := range m.chains {
		for _, r := range rs {
			if r.rule.Action == ActionJump && r.rule.Target == chain {
				return errors.Errorf(errors.KindStore, "chain %s is referenced from %s", chain, name)
			}
		}
	}
	delete(m.chains, chain)
	return nil
}

// Rules returns a copy of every rule in chain.
func (m *MemoryRuleStore) Rules(chain string) []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.chains[chain]))
	for _, r := range m.chains[chain] {
		out = append(out, r.rule)
	}
	return out
}

// SetCounters sets the counters of every rule in chain tagged tag.
func (m *MemoryRuleStore) SetCounters(chain, tag string, packets, byteCount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.chains[chain] {
		if m.chains[chain][i].rule.Tag == tag {
			m.chains[chain][i].packets = packets
			m.chains[chain][i].bytes = byteCount
		}
	}
}

// Count returns the number of rules in chain tagged with prefix.
func (m *MemoryRuleStore) Count(chain, prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.chains[chain] {
		if strings.HasPrefix(r.rule.Tag, prefix) {
			n++
		}
	}
	return n
}

var _ RuleStore = (*MemoryRuleStore)(nil)
