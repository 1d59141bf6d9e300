package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/setguard/internal/errors"
)

const sampleHCL = `
backend   = "ipset"
state_dir = "/tmp/setguard"
log_file  = "/tmp/setguard.log"

syslog {
  address = "/dev/log"
}

whitelist {
  seed_file      = "/etc/setguard/whitelist.txt"
  headroom       = 128
  whitelist_only = { input = true }
}

blocklist "ipsum" {
  url         = "https://feeds.example.net/${env.SETGUARD_TEST_LEVEL}.txt"
  seed_file   = "/etc/setguard/ipsum.txt"
  min_entries = 1000
  chains      = ["input", "forward"]
  refresh     = "24h"
}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFile_HCL(t *testing.T) {
	t.Setenv("SETGUARD_TEST_LEVEL", "level3")
	cfg, err := LoadFile(writeFile(t, "setguard.hcl", sampleHCL))
	require.NoError(t, err)

	lists := cfg.Lists()
	require.Len(t, lists, 2)

	wl := lists[0]
	require.Equal(t, WhitelistName, wl.Name)
	require.True(t, wl.IsWhitelist())
	require.Equal(t, "setguard-whitelist", wl.SetName)
	require.Equal(t, 128, wl.Headroom)
	require.Equal(t, AllChains, wl.Chains)
	require.True(t, wl.WhitelistOnly[ChainInput])

	bl := lists[1]
	require.Equal(t, "ipsum", bl.Name)
	require.Equal(t, "setguard-ipsum", bl.SetName)
	require.Equal(t, "https://feeds.example.net/level3.txt", bl.URL)
	require.Equal(t, 1000, bl.MinEntries)
	require.Equal(t, DefaultHeadroom, bl.Headroom)
	require.Equal(t, []string{ChainInput, ChainForward}, bl.Chains)
	require.Equal(t, 24*time.Hour, bl.Refresh)
	require.True(t, strings.HasPrefix(bl.LogPrefix, "[SETGUARD IPSUM"))

	require.Equal(t, "ufw-before-input", cfg.HookChain(ChainInput))
	require.True(t, cfg.SyslogEnabled())
	require.True(t, cfg.WarnOnNoChangeEnabled())
	require.Equal(t, DefaultFeedTimeout, cfg.FeedTimeoutDuration())
	require.Equal(t, "/tmp/setguard/state.db", cfg.StatePath())
}

func TestLoadFile_JSON(t *testing.T) {
	path := writeFile(t, "setguard.json", `{
		"backend": "nftables",
		"feed_timeout": "15s",
		"warn_on_no_change": false,
		"blocklists": [{"name": "spamhaus", "url": "https://example.org/drop.txt"}]
	}`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, BackendNFTables, cfg.Backend)
	require.Equal(t, DefaultTable, cfg.Table)
	require.Equal(t, 15*time.Second, cfg.FeedTimeoutDuration())
	require.False(t, cfg.WarnOnNoChangeEnabled())
	require.Empty(t, cfg.HookChain(ChainInput), "nftables backend has no default hooks")

	l, ok := cfg.List("spamhaus")
	require.True(t, ok)
	require.Equal(t, "setguard-spamhaus", l.SetName)
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "setguard.yaml", `
backend: ipset
hooks:
  input: ""
whitelist:
  set_name: trusted
blocklists:
  - name: ipsum
    min_entries: 10
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Empty(t, cfg.HookChain(ChainInput), "explicit empty hook means direct install")

	l, ok := cfg.List(WhitelistName)
	require.True(t, ok)
	require.Equal(t, "trusted", l.SetName)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.hcl"))
	require.Error(t, err)
	require.Equal(t, errors.KindConfig, errors.GetKind(err))

	_, err = LoadFile(writeFile(t, "bad.hcl", `blocklist "x" {`))
	require.Error(t, err)
	require.Equal(t, errors.KindConfig, errors.GetKind(err))

	_, err = LoadFile(writeFile(t, "bad.yaml", "unknown_key: 1\nblocklists: [{name: a}]\n"))
	require.Error(t, err)
	require.Equal(t, errors.KindConfig, errors.GetKind(err))

	_, err = LoadFile(writeFile(t, "empty.hcl", `backend = "ipset"`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one")
}
