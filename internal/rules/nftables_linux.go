//go:build linux
// +build linux

package rules

import (
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/kernel"
)

// IPv4 header offsets.
const (
	offsetSrc = 12
	offsetDst = 16
)

var baseHooks = map[string]*nftables.ChainHook{
	"input":   nftables.ChainHookInput,
	"output":  nftables.ChainHookOutput,
	"forward": nftables.ChainHookForward,
}

// NFTRuleStore manages rules in one inet table. Chains named input, output
// and forward are created as filter base chains on first use.
type NFTRuleStore struct {
	conn  kernel.NFTablesConn
	table *nftables.Table
}

// NewNFTRuleStore creates a rule store for table.
func NewNFTRuleStore(conn kernel.NFTablesConn, table string) *NFTRuleStore {
	return &NFTRuleStore{
		conn:  conn,
		table: &nftables.Table{Name: table, Family: nftables.TableFamilyINet},
	}
}

func (s *NFTRuleStore) chain(name string) *nftables.Chain {
	c := &nftables.Chain{Name: name, Table: s.table}
	if hook, ok := baseHooks[name]; ok {
		c.Hooknum = hook
		c.Priority = nftables.ChainPriorityFilter
		c.Type = nftables.ChainTypeFilter
	}
	return c
}

func (s *NFTRuleStore) exprs(r Rule) []expr.Any {
	var exprs []expr.Any
	if r.Set != "" {
		offset := uint32(offsetSrc)
		if r.Match == MatchDestination {
			offset = offsetDst
		}
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.NFPROTO_IPV4}},
			&expr.Payload{
				DestRegister: 1,
				Base:         expr.PayloadBaseNetworkHeader,
				Offset:       offset,
				Len:          4,
			},
			&expr.Lookup{SourceRegister: 1, SetName: r.Set},
		)
	}
	if r.Action == ActionLog {
		exprs = append(exprs, &expr.Limit{
			Type:  expr.LimitTypePkts,
			Rate:  5,
			Unit:  expr.LimitTimeMinute,
			Burst: 10,
		})
	}
	exprs = append(exprs, &expr.Counter{})
	switch r.Action {
	case ActionAccept:
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
	case ActionDrop:
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictDrop})
	case ActionJump:
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictJump, Chain: r.Target})
	case ActionLog:
		exprs = append(exprs, &expr.Log{
			Key:  1 << unix.NFTA_LOG_PREFIX,
			Data: []byte(r.LogPrefix),
		})
	}
	return exprs
}

func (s *NFTRuleStore) Insert(chain string, position int, r Rule) error {
	exists, err := s.ChainExists(chain)
	if err != nil {
		return err
	}
	if !exists {
		if _, base := baseHooks[chain]; !base {
			return errors.Errorf(errors.KindStore, "chain %s does not exist", chain)
		}
		if err := s.CreateChain(chain); err != nil {
			return err
		}
	}

	c := s.chain(chain)
	rule := &nftables.Rule{
		Table:    s.table,
		Chain:    c,
		Exprs:    s.exprs(r),
		UserData: []byte(r.Tag),
	}
	if position > 0 {
		current, err := s.conn.GetRules(s.table, c)
		if err != nil {
			return errors.Wrapf(err, errors.KindStore, "list chain %s", chain)
		}
		if position <= len(current) {
			rule.Position = current[position-1].Handle
			s.conn.InsertRule(rule)
		} else {
			s.conn.AddRule(rule)
		}
	} else {
		s.conn.AddRule(rule)
	}
	if err := s.conn.Flush(); err != nil {
		return errors.Attr(errors.Wrapf(err, errors.KindStore, "insert rule into %s", chain), "tag", r.Tag)
	}
	return nil
}

func (s *NFTRuleStore) tagged(chain, prefix string) ([]*nftables.Rule, error) {
	current, err := s.conn.GetRules(s.table, s.chain(chain))
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindStore, "list chain %s", chain)
	}
	var out []*nftables.Rule
	for _, r := range current {
		if strings.HasPrefix(string(r.UserData), prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *NFTRuleStore) DeleteTagged(chain, prefix string) (int, error) {
	found, err := s.tagged(chain, prefix)
	if err != nil || len(found) == 0 {
		return 0, err
	}
	for _, r := range found {
		if err := s.conn.DelRule(r); err != nil {
			return 0, errors.Wrapf(err, errors.KindStore, "delete rule from %s", chain)
		}
	}
	if err := s.conn.Flush(); err != nil {
		return 0, errors.Wrapf(err, errors.KindStore, "delete rules from %s", chain)
	}
	return len(found), nil
}

func (s *NFTRuleStore) List(chain string) ([]Installed, error) {
	current, err := s.conn.GetRules(s.table, s.chain(chain))
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindStore, "list chain %s", chain)
	}
	var out []Installed
	for i, r := range current {
		if len(r.UserData) == 0 {
			continue
		}
		inst := Installed{Chain: chain, Tag: string(r.UserData), Position: i + 1}
		for _, e := range r.Exprs {
			if c, ok := e.(*expr.Counter); ok {
				inst.Packets, inst.Bytes = c.Packets, c.Bytes
			}
		}
		out = append(out, inst)
	}
	return out, nil
}

// ResetCounters replaces each tagged rule with an identical one carrying a
// fresh counter.
func (s *NFTRuleStore) ResetCounters(chain, prefix string) error {
	found, err := s.tagged(chain, prefix)
	if err != nil || len(found) == 0 {
		return err
	}
	for _, r := range found {
		exprs := make([]expr.Any, len(r.Exprs))
		for i, e := range r.Exprs {
			if _, ok := e.(*expr.Counter); ok {
				e = &expr.Counter{}
			}
			exprs[i] = e
		}
		s.conn.ReplaceRule(&nftables.Rule{
			Table:    s.table,
			Chain:    s.chain(chain),
			Handle:   r.Handle,
			Exprs:    exprs,
			UserData: r.UserData,
		})
	}
	if err := s.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindStore, "reset counters in %s", chain)
	}
	return nil
}

func (s *NFTRuleStore) ChainExists(chain string) (bool, error) {
	chains, err := s.conn.ListChainsOfTableFamily(nftables.TableFamilyINet)
	if err != nil {
		return false, errors.Wrap(err, errors.KindStore, "list chains")
	}
	for _, c := range chains {
		if c.Table != nil && c.Table.Name == s.table.Name && c.Name == chain {
			return true, nil
		}
	}
	return false, nil
}

func (s *NFTRuleStore) CreateChain(chain string) error {
	s.conn.AddTable(s.table)
	s.conn.AddChain(s.chain(chain))
	if err := s.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindStore, "create chain %s", chain)
	}
	return nil
}

func (s *NFTRuleStore) FlushChain(chain string) error {
	s.conn.FlushChain(s.chain(chain))
	if err := s.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindStore, "flush chain %s", chain)
	}
	return nil
}

func (s *NFTRuleStore) DeleteChain(chain string) error {
	s.conn.DelChain(s.chain(chain))
	if err := s.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindStore, "delete chain %s", chain)
	}
	return nil
}

var _ RuleStore = (*NFTRuleStore)(nil)
