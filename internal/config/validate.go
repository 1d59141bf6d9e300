package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

var validSetNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateSetName checks a named-set identifier against backend limits.
func ValidateSetName(name string) error {
	if name == "" {
		return fmt.Errorf("set name is required")
	}
	if len(name) > MaxSetNameLen {
		return fmt.Errorf("set name %q exceeds %d characters", name, MaxSetNameLen)
	}
	if !validSetNameRegex.MatchString(name) {
		return fmt.Errorf("set name %q may only contain letters, digits, '_' and '-'", name)
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks a defaulted config. It never touches the host.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Backend {
	case BackendIPSet, BackendNFTables:
	default:
		add("backend", "unknown backend %q (want %q or %q)", c.Backend, BackendIPSet, BackendNFTables)
	}
	if c.Backend == BackendNFTables && !validSetNameRegex.MatchString(c.Table) {
		add("table", "invalid table name %q", c.Table)
	}
	if _, err := parseDuration(c.FeedTimeout); err != nil {
		add("feed_timeout", "%v", err)
	}
	if c.MaxFeedBytes < 0 {
		add("max_feed_bytes", "must not be negative")
	}
	if c.MaxRejectedExamples < 0 {
		add("max_rejected_examples", "must not be negative")
	}
	if c.SeedOwnerUID != nil && *c.SeedOwnerUID < 0 {
		add("seed_owner_uid", "must not be negative")
	}
	if c.Syslog != nil {
		switch c.Syslog.Network {
		case "unixgram", "unix", "udp", "tcp":
		default:
			add("syslog.network", "unsupported network %q", c.Syslog.Network)
		}
	}
	if c.Whitelist == nil && len(c.Blocklists) == 0 {
		add("lists", "at least one whitelist or blocklist block is required")
	}

	seenNames := map[string]bool{}
	seenSets := map[string]string{}
	for _, l := range c.Lists() {
		field := l.Kind.String()
		if l.Kind == KindBlocklist {
			field = fmt.Sprintf("blocklist[%s]", l.Name)
			if l.Name == "" || !validSetNameRegex.MatchString(l.Name) {
				add(field, "invalid list name %q", l.Name)
			}
			if l.Name == WhitelistName || l.Name == "all" {
				add(field, "list name %q is reserved", l.Name)
			}
			if len(l.Name) > MaxListNameLen {
				add(field, "list name exceeds %d characters", MaxListNameLen)
			}
		}
		if seenNames[l.Name] {
			add(field, "duplicate list name")
		}
		seenNames[l.Name] = true

		if err := ValidateSetName(l.SetName); err != nil {
			add(field+".set_name", "%v", err)
		}
		if other, ok := seenSets[l.SetName]; ok {
			add(field+".set_name", "set %q already used by %s", l.SetName, other)
		}
		seenSets[l.SetName] = l.Name

		if l.Headroom < 0 {
			add(field+".headroom", "must not be negative")
		}
		if l.MinEntries < 0 {
			add(field+".min_entries", "must not be negative")
		}
		for _, ch := range l.Chains {
			if !slices.Contains(AllChains, ch) {
				add(field+".chains", "unknown chain %q", ch)
			}
		}
		for ch := range l.WhitelistOnly {
			if !slices.Contains(AllChains, ch) {
				add(field+".whitelist_only", "unknown chain %q", ch)
			}
		}
		if len(l.LogPrefix) > MaxLogPrefixLen {
			add(field+".log_prefix", "longer than %d characters", MaxLogPrefixLen)
		}
		if l.URL != "" {
			u, err := url.Parse(l.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add(field+".url", "must be an http(s) URL")
			}
		}
	}

	for _, b := range c.Blocklists {
		if d, err := parseDuration(b.Refresh); err != nil {
			add(fmt.Sprintf("blocklist[%s].refresh", b.Name), "%v", err)
		} else if d != 0 && d < time.Minute {
			add(fmt.Sprintf("blocklist[%s].refresh", b.Name), "must be at least 1m")
		}
	}

	return errs
}
