package config

import (
	"path/filepath"
	"strings"
	"time"

	"grimm.is/setguard/internal/brand"
)

const (
	DefaultHeadroom            = 4096
	DefaultFeedTimeout         = 60 * time.Second
	DefaultMaxFeedBytes        = 64 << 20
	DefaultMaxRejectedExamples = 5
	DefaultStatusLogLines      = 10
	DefaultTable               = "setguard"

	// MaxSetNameLen is the longest name the kernel accepts for an ipset.
	MaxSetNameLen = 31
	// MaxLogPrefixLen is the iptables LOG prefix limit.
	MaxLogPrefixLen = 29
	// MaxListNameLen keeps "setguard-<name>" within the 28 byte chain name limit.
	MaxListNameLen = 19
)

// Framework hook chains used by the ipset backend when no hooks block is given.
var DefaultIPTablesHooks = Hooks{
	Input:   "ufw-before-input",
	Output:  "ufw-before-output",
	Forward: "ufw-before-forward",
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendIPSet
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.StateDir == "" {
		c.StateDir = brand.GetStateDir()
	}
	if c.MaxRejectedExamples == 0 {
		c.MaxRejectedExamples = DefaultMaxRejectedExamples
	}
	if c.MaxFeedBytes == 0 {
		c.MaxFeedBytes = DefaultMaxFeedBytes
	}
	if c.StatusLogLines == 0 {
		c.StatusLogLines = DefaultStatusLogLines
	}
	if c.Hooks == nil && c.Backend == BackendIPSet {
		hooks := DefaultIPTablesHooks
		c.Hooks = &hooks
	}
	if c.Syslog != nil {
		if c.Syslog.Network == "" {
			c.Syslog.Network = "unixgram"
		}
		if c.Syslog.Address == "" {
			c.Syslog.Address = "/dev/log"
		}
		if c.Syslog.Facility == 0 {
			c.Syslog.Facility = 1
		}
	}

	if w := c.Whitelist; w != nil {
		if w.SetName == "" {
			w.SetName = brand.LowerName + "-" + WhitelistName
		}
		if len(w.Chains) == 0 {
			w.Chains = append([]string(nil), AllChains...)
		}
	}
	for _, b := range c.Blocklists {
		if b.SetName == "" {
			b.SetName = brand.LowerName + "-" + b.Name
		}
		if len(b.Chains) == 0 {
			b.Chains = append([]string(nil), AllChains...)
		}
		if b.LogPrefix == "" {
			b.LogPrefix = defaultLogPrefix(b.Name)
		}
	}
}

// StatePath is the sqlite database holding generation history.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir, "state.db")
}

func defaultLogPrefix(name string) string {
	p := "[" + strings.ToUpper(brand.LowerName+" "+name)
	if len(p) > MaxLogPrefixLen-2 {
		p = p[:MaxLogPrefixLen-2]
	}
	return p + "] "
}
