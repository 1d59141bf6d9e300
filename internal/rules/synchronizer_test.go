package rules

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/logging"
)

var builtinChains = []string{"INPUT", "OUTPUT", "FORWARD"}

var hookChains = []string{"ufw-before-input", "ufw-before-output", "ufw-before-forward"}

func newSync(t *testing.T, chains ...string) (*Synchronizer, *MemoryRuleStore, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: &buf})
	store := NewMemoryRuleStore(chains...)
	hooks := config.DefaultIPTablesHooks
	cfg := &config.Config{Backend: config.BackendIPSet, Hooks: &hooks}
	return NewSynchronizer(store, ChainsFor(cfg), logger), store, &buf
}

func whitelist() config.List {
	return config.List{
		Name:    config.WhitelistName,
		Kind:    config.KindWhitelist,
		SetName: "setguard-whitelist",
		Chains:  config.AllChains,
	}
}

func blocklist(name string) config.List {
	return config.List{
		Name:      name,
		Kind:      config.KindBlocklist,
		SetName:   "setguard-" + name,
		Chains:    config.AllChains,
		LogPrefix: "[SETGUARD " + name + "] ",
	}
}

func tags(rules []Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Tag)
	}
	return out
}

func TestInstall_IsIdempotent(t *testing.T) {
	s, store, _ := newSync(t, append(builtinChains, hookChains...)...)

	require.NoError(t, s.Install(whitelist()))
	require.NoError(t, s.Install(whitelist()))

	require.Equal(t, 1, store.Count("ufw-before-input", TagPrefix("whitelist", "input")))
	require.Equal(t, 1, store.Count("ufw-before-output", TagPrefix("whitelist", "output")))
	require.Equal(t, 2, store.Count("ufw-before-forward", TagPrefix("whitelist", "forward")))
	require.Zero(t, store.Count("INPUT", ListPrefix("whitelist")))

	in := store.Rules("ufw-before-input")
	require.Equal(t, MatchSource, in[0].Match)
	require.Equal(t, ActionAccept, in[0].Action)
	require.Equal(t, MatchDestination, store.Rules("ufw-before-output")[0].Match)
}

func TestInstall_WhitelistPrecedesBlocklists(t *testing.T) {
	s, store, _ := newSync(t, append(builtinChains, hookChains...)...)

	require.NoError(t, s.Install(blocklist("ipsum")))
	require.NoError(t, s.Install(whitelist()))
	require.NoError(t, s.Install(blocklist("ipsum")))
	require.NoError(t, s.Install(blocklist("spamhaus")))

	require.Equal(t, []string{
		"setguard:whitelist:input:src",
		"setguard:spamhaus:input:src",
		"setguard:ipsum:input:src",
	}, tags(store.Rules("ufw-before-input")))

	require.Equal(t, []string{
		"setguard:whitelist:forward:src",
		"setguard:whitelist:forward:dst",
		"setguard:spamhaus:forward:src",
		"setguard:spamhaus:forward:dst",
		"setguard:ipsum:forward:src",
		"setguard:ipsum:forward:dst",
	}, tags(store.Rules("ufw-before-forward")))
}

func TestInstall_WhitelistGoesAboveExistingRules(t *testing.T) {
	s, store, _ := newSync(t, append(builtinChains, hookChains...)...)
	require.NoError(t, store.Insert("ufw-before-input", 0, Rule{Action: ActionAccept}))

	require.NoError(t, s.Install(whitelist()))
	require.Equal(t, "setguard:whitelist:input:src", store.Rules("ufw-before-input")[0].Tag)
}

func TestInstall_FallsBackWhenHookMissing(t *testing.T) {
	s, store, buf := newSync(t, builtinChains...)

	require.NoError(t, s.Install(whitelist()))
	in := store.Rules("INPUT")
	require.Len(t, in, 1)
	require.True(t, IsFallback(in[0].Tag))
	require.Contains(t, buf.String(), "hook chain missing")

	// the framework chain appears; the next install moves the rule there
	require.NoError(t, store.CreateChain("ufw-before-input"))
	require.NoError(t, s.Install(whitelist()))
	require.Empty(t, store.Rules("INPUT"))
	hook := store.Rules("ufw-before-input")
	require.Len(t, hook, 1)
	require.False(t, IsFallback(hook[0].Tag))
}

func TestInstall_NoHooksConfigured(t *testing.T) {
	store := NewMemoryRuleStore(builtinChains...)
	s := NewSynchronizer(store, ChainsFor(&config.Config{Backend: config.BackendIPSet}), nil)

	require.NoError(t, s.Install(whitelist()))
	in := store.Rules("INPUT")
	require.Len(t, in, 1)
	require.False(t, IsFallback(in[0].Tag))
}

func TestInstall_WhitelistOnlyToggle(t *testing.T) {
	s, store, _ := newSync(t, append(builtinChains, hookChains...)...)
	wl := whitelist()
	wl.WhitelistOnly = map[string]bool{config.ChainInput: true}

	require.NoError(t, s.Install(wl))
	require.NoError(t, s.Install(blocklist("ipsum")))
	require.NoError(t, s.Install(wl))
	rules := store.Rules("ufw-before-input")
	require.Equal(t, []string{
		"setguard:whitelist:input:src",
		"setguard:whitelist:input:drop",
		"setguard:ipsum:input:src",
	}, tags(rules))
	require.Equal(t, ActionDrop, rules[1].Action)
	require.Empty(t, rules[1].Set)
	require.Equal(t, 1, store.Count("ufw-before-output", ListPrefix("whitelist")))

	wl.WhitelistOnly = nil
	require.NoError(t, s.Install(wl))
	require.Zero(t, store.Count("ufw-before-input", "setguard:whitelist:input:drop"))
}

func TestInstall_BlocklistLogChain(t *testing.T) {
	s, store, _ := newSync(t, append(builtinChains, hookChains...)...)
	bl := blocklist("ipsum")

	require.NoError(t, s.Install(bl))
	require.NoError(t, s.Install(bl))

	sub := store.Rules("setguard-ipsum")
	require.Len(t, sub, 2)
	require.Equal(t, ActionLog, sub[0].Action)
	require.Equal(t, "[SETGUARD ipsum] ", sub[0].LogPrefix)
	require.Equal(t, ActionDrop, sub[1].Action)

	jump := store.Rules("ufw-before-input")[0]
	require.Equal(t, ActionJump, jump.Action)
	require.Equal(t, "setguard-ipsum", jump.Target)
	require.Equal(t, "setguard-ipsum", jump.Set)

	bl.LogPrefix = ""
	require.NoError(t, s.Install(bl))
	require.Len(t, store.Rules("setguard-ipsum"), 1)
}

func TestInstall_SubsetOfChains(t *testing.T) {
	s, store, _ := newSync(t, append(builtinChains, hookChains...)...)
	bl := blocklist("ipsum")
	require.NoError(t, s.Install(bl))

	bl.Chains = []string{config.ChainInput}
	require.NoError(t, s.Install(bl))
	require.Equal(t, 1, store.Count("ufw-before-input", ListPrefix("ipsum")))
	require.Zero(t, store.Count("ufw-before-output", ListPrefix("ipsum")))
	require.Zero(t, store.Count("ufw-before-forward", ListPrefix("ipsum")))
}

func TestRemove(t *testing.T) {
	s, store, _ := newSync(t, append(builtinChains, hookChains...)...)
	require.NoError(t, s.Install(whitelist()))
	require.NoError(t, s.Install(blocklist("ipsum")))

	require.NoError(t, s.Remove(blocklist("ipsum")))
	for _, c := range hookChains {
		require.Zero(t, store.Count(c, ListPrefix("ipsum")))
	}
	exists, err := store.ChainExists("setguard-ipsum")
	require.NoError(t, err)
	require.False(t, exists)
	require.Equal(t, 1, store.Count("ufw-before-input", ListPrefix("whitelist")))

	// nothing installed is not an error
	require.NoError(t, s.Remove(blocklist("ipsum")))
	require.NoError(t, s.Remove(blocklist("never")))
}

func TestCountersAndReset(t *testing.T) {
	s, store, _ := newSync(t, append(builtinChains, hookChains...)...)
	bl := blocklist("ipsum")
	require.NoError(t, s.Install(bl))
	store.SetCounters("ufw-before-input", "setguard:ipsum:input:src", 12, 960)
	store.SetCounters("setguard-ipsum", "setguard:ipsum:log:drop", 12, 960)

	counters, err := s.Counters(bl)
	require.NoError(t, err)
	require.Len(t, counters, 6)
	var hits uint64
	for _, c := range counters {
		hits += c.Packets
	}
	require.Equal(t, uint64(24), hits)

	require.NoError(t, s.ResetCounters(bl))
	counters, err = s.Counters(bl)
	require.NoError(t, err)
	for _, c := range counters {
		require.Zero(t, c.Packets)
		require.Zero(t, c.Bytes)
	}
	require.Len(t, counters, 6, "reset must not remove rules")
}
