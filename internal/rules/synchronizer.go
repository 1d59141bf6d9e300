package rules

import (
	"strings"

	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/logging"
)

// Chains maps traffic directions to chain names.
type Chains struct {
	// Hooks are framework-managed chains preferred for insertion.
	Hooks map[string]string
	// Defaults are used when no hook is configured or the hook is missing.
	Defaults map[string]string
}

// ChainsFor derives the chain layout of the configured backend.
func ChainsFor(cfg *config.Config) Chains {
	c := Chains{Hooks: map[string]string{}, Defaults: map[string]string{}}
	for _, dir := range config.AllChains {
		c.Hooks[dir] = cfg.HookChain(dir)
		if cfg.Backend == config.BackendNFTables {
			c.Defaults[dir] = dir
		} else {
			c.Defaults[dir] = strings.ToUpper(dir)
		}
	}
	return c
}

// Synchronizer installs and removes the rules of a list.
type Synchronizer struct {
	store  RuleStore
	chains Chains
	logger *logging.Logger
}

// NewSynchronizer creates a synchronizer.
func NewSynchronizer(store RuleStore, chains Chains, logger *logging.Logger) *Synchronizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Synchronizer{store: store, chains: chains, logger: logger.WithComponent("rules")}
}

// Install replaces every rule of l. Stale rules in all directions are deleted
// first, so running it again yields the same rule set.
func (s *Synchronizer) Install(l config.List) error {
	logger := s.logger.WithList(l.Name)

	for _, dir := range config.AllChains {
		if err := s.purge(logger, l.Name, dir); err != nil {
			return err
		}
	}
	if !l.IsWhitelist() {
		if err := s.recreateLogChain(l); err != nil {
			return err
		}
	}
	for _, dir := range l.Chains {
		if err := s.installDirection(logger, l, dir); err != nil {
			return err
		}
	}
	logger.Info("rules installed", "set", l.SetName, "chains", strings.Join(l.Chains, ","))
	return nil
}

// Remove deletes every rule of l and its log chain.
func (s *Synchronizer) Remove(l config.List) error {
	logger := s.logger.WithList(l.Name)

	for _, dir := range config.AllChains {
		if err := s.purge(logger, l.Name, dir); err != nil {
			return err
		}
	}
	if !l.IsWhitelist() {
		name := LogChain(l.Name)
		exists, err := s.store.ChainExists(name)
		if err != nil {
			return err
		}
		if exists {
			if err := s.store.FlushChain(name); err != nil {
				return err
			}
			if err := s.store.DeleteChain(name); err != nil {
				return err
			}
		}
	}
	logger.Info("rules removed")
	return nil
}

// Counters returns the tagged rules of l with their hit counters.
func (s *Synchronizer) Counters(l config.List) ([]Installed, error) {
	chains, err := s.ruleChains(l)
	if err != nil {
		return nil, err
	}
	prefix := ListPrefix(l.Name)
	var out []Installed
	for _, chain := range chains {
		installed, err := s.store.List(chain)
		if err != nil {
			return nil, err
		}
		for _, r := range installed {
			if strings.HasPrefix(r.Tag, prefix) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// ResetCounters zeroes the counters of every rule of l.
func (s *Synchronizer) ResetCounters(l config.List) error {
	chains, err := s.ruleChains(l)
	if err != nil {
		return err
	}
	for _, chain := range chains {
		if err := s.store.ResetCounters(chain, ListPrefix(l.Name)); err != nil {
			return err
		}
	}
	return nil
}

// ruleChains lists every existing chain that may hold rules of l.
func (s *Synchronizer) ruleChains(l config.List) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, dir := range config.AllChains {
		chains, err := s.candidates(dir)
		if err != nil {
			return nil, err
		}
		for _, c := range chains {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	if !l.IsWhitelist() {
		name := LogChain(l.Name)
		exists, err := s.store.ChainExists(name)
		if err != nil {
			return nil, err
		}
		if exists {
			out = append(out, name)
		}
	}
	return out, nil
}

// candidates returns the existing chains a rule for dir may have been put in.
func (s *Synchronizer) candidates(dir string) ([]string, error) {
	var out []string
	for _, chain := range []string{s.chains.Hooks[dir], s.chains.Defaults[dir]} {
		if chain == "" {
			continue
		}
		exists, err := s.store.ChainExists(chain)
		if err != nil {
			return nil, err
		}
		if exists {
			out = append(out, chain)
		}
	}
	return out, nil
}

func (s *Synchronizer) purge(logger *logging.Logger, list, dir string) error {
	chains, err := s.candidates(dir)
	if err != nil {
		return err
	}
	prefix := TagPrefix(list, dir)
	for _, chain := range chains {
		n, err := s.store.DeleteTagged(chain, prefix)
		if err != nil {
			return err
		}
		if n == 0 {
			notice := errors.Errorf(errors.KindRuleSync, "no rule tagged %s* in %s", prefix, chain)
			logger.Debug("nothing to delete", "error", notice)
			continue
		}
		logger.Debug("deleted stale rules", "chain", chain, "count", n)
	}
	return nil
}

// resolve picks the chain rules for dir go into. fallback is set when a hook
// is configured but missing.
func (s *Synchronizer) resolve(dir string) (chain string, fallback bool, err error) {
	hook, def := s.chains.Hooks[dir], s.chains.Defaults[dir]
	if hook == "" {
		return def, false, nil
	}
	exists, err := s.store.ChainExists(hook)
	if err != nil {
		return "", false, err
	}
	if exists {
		return hook, false, nil
	}
	return def, true, nil
}

func (s *Synchronizer) installDirection(logger *logging.Logger, l config.List, dir string) error {
	chain, fallback, err := s.resolve(dir)
	if err != nil {
		return err
	}
	if fallback {
		logger.Warn("hook chain missing, using default chain",
			"hook", s.chains.Hooks[dir], "chain", chain)
	}

	pos := 1
	if !l.IsWhitelist() {
		if pos, err = s.afterWhitelist(chain); err != nil {
			return err
		}
	}

	matches := []Match{MatchSource}
	switch dir {
	case config.ChainOutput:
		matches = []Match{MatchDestination}
	case config.ChainForward:
		matches = []Match{MatchSource, MatchDestination}
	}

	for _, m := range matches {
		r := Rule{
			Set:    l.SetName,
			Match:  m,
			Action: ActionAccept,
			Tag:    Tag(l.Name, dir, m.String(), fallback),
		}
		if !l.IsWhitelist() {
			r.Action = ActionJump
			r.Target = LogChain(l.Name)
		}
		if err := s.store.Insert(chain, pos, r); err != nil {
			return err
		}
		pos++
	}

	if l.IsWhitelist() && l.WhitelistOnly[dir] {
		drop := Rule{Action: ActionDrop, Tag: Tag(l.Name, dir, roleDrop, fallback)}
		if err := s.store.Insert(chain, pos, drop); err != nil {
			return err
		}
		logger.Info("whitelist-only enforced", "chain", chain)
	}
	return nil
}

// afterWhitelist returns the position right after the last whitelist rule.
func (s *Synchronizer) afterWhitelist(chain string) (int, error) {
	exists, err := s.store.ChainExists(chain)
	if err != nil || !exists {
		return 1, err
	}
	installed, err := s.store.List(chain)
	if err != nil {
		return 0, err
	}
	pos := 1
	prefix := ListPrefix(config.WhitelistName)
	for _, r := range installed {
		if strings.HasPrefix(r.Tag, prefix) && r.Position >= pos {
			pos = r.Position + 1
		}
	}
	return pos, nil
}

func (s *Synchronizer) recreateLogChain(l config.List) error {
	name := LogChain(l.Name)
	exists, err := s.store.ChainExists(name)
	if err != nil {
		return err
	}
	if exists {
		if err := s.store.FlushChain(name); err != nil {
			return err
		}
		if err := s.store.DeleteChain(name); err != nil {
			return err
		}
	}
	if err := s.store.CreateChain(name); err != nil {
		return err
	}
	if l.LogPrefix != "" {
		logRule := Rule{Action: ActionLog, LogPrefix: l.LogPrefix, Tag: Tag(l.Name, logDirection, roleLog, false)}
		if err := s.store.Insert(name, 0, logRule); err != nil {
			return err
		}
	}
	return s.store.Insert(name, 0, Rule{Action: ActionDrop, Tag: Tag(l.Name, logDirection, roleDrop, false)})
}
