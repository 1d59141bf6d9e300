// Package rules keeps the filter rules that reference managed sets in place.
//
// Every rule carries a descriptive tag of the form
//
//	setguard:<list>:<direction>:<role>[:fallback]
//
// and rules are only ever found and removed through that tag.
package rules

import (
	"strings"

	"grimm.is/setguard/internal/brand"
)

// Match selects which packet address is looked up in a set.
type Match int

const (
	MatchNone Match = iota
	MatchSource
	MatchDestination
)

func (m Match) String() string {
	switch m {
	case MatchSource:
		return "src"
	case MatchDestination:
		return "dst"
	}
	return "any"
}

// Action is the rule verdict.
type Action int

const (
	ActionAccept Action = iota
	ActionDrop
	ActionJump
	ActionLog
)

// Rule is a backend-neutral filter rule.
type Rule struct {
	Set       string
	Match     Match
	Action    Action
	Target    string // jump target chain
	LogPrefix string
	Tag       string
}

// Installed is a tagged rule as found in a chain.
type Installed struct {
	Chain    string
	Tag      string
	Position int // 1-based
	Packets  uint64
	Bytes    uint64
}

// RuleStore is the packet filter's rule API.
type RuleStore interface {
	// Insert places r at the 1-based position in chain; 0 appends.
	Insert(chain string, position int, r Rule) error
	// DeleteTagged removes every rule in chain whose tag starts with prefix
	// and reports how many were removed.
	DeleteTagged(chain, prefix string) (int, error)
	// List returns the tagged rules of chain in evaluation order.
	List(chain string) ([]Installed, error)
	ResetCounters(chain, prefix string) error

	ChainExists(chain string) (bool, error)
	CreateChain(chain string) error
	FlushChain(chain string) error
	DeleteChain(chain string) error
}

const (
	fallbackSuffix = ":fallback"

	roleDrop = "drop"
	roleLog  = "log"

	logDirection = "log"
)

// Tag builds a rule tag.
func Tag(list, direction, role string, fallback bool) string {
	t := TagPrefix(list, direction) + role
	if fallback {
		t += fallbackSuffix
	}
	return t
}

// TagPrefix matches every rule of list in direction.
func TagPrefix(list, direction string) string {
	return ListPrefix(list) + direction + ":"
}

// ListPrefix matches every rule of list.
func ListPrefix(list string) string {
	return brand.LowerName + ":" + list + ":"
}

// IsFallback reports whether a tag marks a rule installed in a default chain
// because the preferred hook chain was missing.
func IsFallback(tag string) bool {
	return strings.HasSuffix(tag, fallbackSuffix)
}

// LogChain names the dedicated log and drop chain of a blocklist.
func LogChain(list string) string {
	return brand.ListTag(list)
}
