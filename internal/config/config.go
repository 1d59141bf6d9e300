// Package config defines the setguard configuration schema.
//
// A Config is decoded once per invocation, defaulted and validated, and then
// treated as read-only by every component that receives it.
package config

import (
	"time"
)

// Backends
const (
	BackendIPSet    = "ipset"
	BackendNFTables = "nftables"
)

// Chain directions
const (
	ChainInput   = "input"
	ChainOutput  = "output"
	ChainForward = "forward"
)

// AllChains lists the traffic directions in evaluation order.
var AllChains = []string{ChainInput, ChainOutput, ChainForward}

// WhitelistName is the logical name of the whitelist target.
const WhitelistName = "whitelist"

// Config is the root configuration.
type Config struct {
	Backend             string       `hcl:"backend,optional" json:"backend,omitempty" yaml:"backend,omitempty"`
	Table               string       `hcl:"table,optional" json:"table,omitempty" yaml:"table,omitempty"` // nftables table
	NetNS               string       `hcl:"netns,optional" json:"netns,omitempty" yaml:"netns,omitempty"` // e.g. /run/netns/edge
	StateDir            string       `hcl:"state_dir,optional" json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	LogFile             string       `hcl:"log_file,optional" json:"log_file,omitempty" yaml:"log_file,omitempty"`
	LogLevel            string       `hcl:"log_level,optional" json:"log_level,omitempty" yaml:"log_level,omitempty"`
	MetricsFile         string       `hcl:"metrics_file,optional" json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`
	RouteCheck          bool         `hcl:"route_check,optional" json:"route_check,omitempty" yaml:"route_check,omitempty"`
	MaxRejectedExamples int          `hcl:"max_rejected_examples,optional" json:"max_rejected_examples,omitempty" yaml:"max_rejected_examples,omitempty"`
	WarnOnNoChange      *bool        `hcl:"warn_on_no_change,optional" json:"warn_on_no_change,omitempty" yaml:"warn_on_no_change,omitempty"`
	FeedTimeout         string       `hcl:"feed_timeout,optional" json:"feed_timeout,omitempty" yaml:"feed_timeout,omitempty"`
	MaxFeedBytes        int64        `hcl:"max_feed_bytes,optional" json:"max_feed_bytes,omitempty" yaml:"max_feed_bytes,omitempty"`
	SeedOwnerUID        *int         `hcl:"seed_owner_uid,optional" json:"seed_owner_uid,omitempty" yaml:"seed_owner_uid,omitempty"`
	StatusLogLines      int          `hcl:"status_log_lines,optional" json:"status_log_lines,omitempty" yaml:"status_log_lines,omitempty"`
	Syslog              *Syslog      `hcl:"syslog,block" json:"syslog,omitempty" yaml:"syslog,omitempty"`
	Hooks               *Hooks       `hcl:"hooks,block" json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Whitelist           *Whitelist   `hcl:"whitelist,block" json:"whitelist,omitempty" yaml:"whitelist,omitempty"`
	Blocklists          []*Blocklist `hcl:"blocklist,block" json:"blocklists,omitempty" yaml:"blocklists,omitempty"`
}

// Syslog configures the per-list log sink.
type Syslog struct {
	Enabled  *bool  `hcl:"enabled,optional" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Network  string `hcl:"network,optional" json:"network,omitempty" yaml:"network,omitempty"`
	Address  string `hcl:"address,optional" json:"address,omitempty" yaml:"address,omitempty"`
	Facility int    `hcl:"facility,optional" json:"facility,omitempty" yaml:"facility,omitempty"`
}

// Hooks names the framework-managed chains rules are preferably installed into.
// An empty name means the default chain for that direction is used directly.
type Hooks struct {
	Input   string `hcl:"input,optional" json:"input,omitempty" yaml:"input,omitempty"`
	Output  string `hcl:"output,optional" json:"output,omitempty" yaml:"output,omitempty"`
	Forward string `hcl:"forward,optional" json:"forward,omitempty" yaml:"forward,omitempty"`
}

// Whitelist is the trusted-address list. Its rules accept traffic.
type Whitelist struct {
	SetName       string          `hcl:"set_name,optional" json:"set_name,omitempty" yaml:"set_name,omitempty"`
	SeedFile      string          `hcl:"seed_file,optional" json:"seed_file,omitempty" yaml:"seed_file,omitempty"`
	Headroom      *int            `hcl:"headroom,optional" json:"headroom,omitempty" yaml:"headroom,omitempty"`
	Chains        []string        `hcl:"chains,optional" json:"chains,omitempty" yaml:"chains,omitempty"`
	WhitelistOnly map[string]bool `hcl:"whitelist_only,optional" json:"whitelist_only,omitempty" yaml:"whitelist_only,omitempty"`
}

// Blocklist is a feed-backed deny list.
type Blocklist struct {
	Name       string   `hcl:"name,label" json:"name" yaml:"name"`
	SetName    string   `hcl:"set_name,optional" json:"set_name,omitempty" yaml:"set_name,omitempty"`
	SeedFile   string   `hcl:"seed_file,optional" json:"seed_file,omitempty" yaml:"seed_file,omitempty"`
	URL        string   `hcl:"url,optional" json:"url,omitempty" yaml:"url,omitempty"`
	MinEntries int      `hcl:"min_entries,optional" json:"min_entries,omitempty" yaml:"min_entries,omitempty"`
	Headroom   *int     `hcl:"headroom,optional" json:"headroom,omitempty" yaml:"headroom,omitempty"`
	Chains     []string `hcl:"chains,optional" json:"chains,omitempty" yaml:"chains,omitempty"`
	LogPrefix  string   `hcl:"log_prefix,optional" json:"log_prefix,omitempty" yaml:"log_prefix,omitempty"`
	Refresh    string   `hcl:"refresh,optional" json:"refresh,omitempty" yaml:"refresh,omitempty"`
}

// ListKind distinguishes accept lists from deny lists.
type ListKind int

const (
	KindWhitelist ListKind = iota
	KindBlocklist
)

func (k ListKind) String() string {
	if k == KindWhitelist {
		return "whitelist"
	}
	return "blocklist"
}

// List is the flattened, defaulted view of a whitelist or blocklist block.
type List struct {
	Name          string
	Kind          ListKind
	SetName       string
	SeedFile      string
	URL           string
	MinEntries    int
	Headroom      int
	Chains        []string
	WhitelistOnly map[string]bool
	LogPrefix     string
	Refresh       time.Duration
}

// IsWhitelist reports whether the list drives accept rules.
func (l List) IsWhitelist() bool {
	return l.Kind == KindWhitelist
}

// Lists returns every configured list, whitelist first, then blocklists in file order.
func (c *Config) Lists() []List {
	var lists []List
	if c.Whitelist != nil {
		w := c.Whitelist
		lists = append(lists, List{
			Name:          WhitelistName,
			Kind:          KindWhitelist,
			SetName:       w.SetName,
			SeedFile:      w.SeedFile,
			Headroom:      derefInt(w.Headroom, DefaultHeadroom),
			Chains:        w.Chains,
			WhitelistOnly: w.WhitelistOnly,
		})
	}
	for _, b := range c.Blocklists {
		refresh, _ := parseDuration(b.Refresh)
		lists = append(lists, List{
			Name:       b.Name,
			Kind:       KindBlocklist,
			SetName:    b.SetName,
			SeedFile:   b.SeedFile,
			URL:        b.URL,
			MinEntries: b.MinEntries,
			Headroom:   derefInt(b.Headroom, DefaultHeadroom),
			Chains:     b.Chains,
			LogPrefix:  b.LogPrefix,
			Refresh:    refresh,
		})
	}
	return lists
}

// List looks a list up by logical name.
func (c *Config) List(name string) (List, bool) {
	for _, l := range c.Lists() {
		if l.Name == name {
			return l, true
		}
	}
	return List{}, false
}

// HookChain returns the configured framework hook for a direction.
func (c *Config) HookChain(direction string) string {
	if c.Hooks == nil {
		return ""
	}
	switch direction {
	case ChainInput:
		return c.Hooks.Input
	case ChainOutput:
		return c.Hooks.Output
	case ChainForward:
		return c.Hooks.Forward
	}
	return ""
}

// FeedTimeoutDuration returns the per-request feed timeout.
func (c *Config) FeedTimeoutDuration() time.Duration {
	d, err := parseDuration(c.FeedTimeout)
	if err != nil || d <= 0 {
		return DefaultFeedTimeout
	}
	return d
}

// WarnOnNoChangeEnabled reports whether an unchanged feed count is logged as a warning.
func (c *Config) WarnOnNoChangeEnabled() bool {
	return c.WarnOnNoChange == nil || *c.WarnOnNoChange
}

// SeedOwner returns the uid that must own seed files.
func (c *Config) SeedOwner() int {
	return derefInt(c.SeedOwnerUID, 0)
}

// SyslogEnabled reports whether list events go to syslog.
func (c *Config) SyslogEnabled() bool {
	return c.Syslog != nil && (c.Syslog.Enabled == nil || *c.Syslog.Enabled)
}

func derefInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
