package rules

import (
	"bufio"
	"bytes"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"grimm.is/setguard/internal/errors"
)

// LOG target rate limit.
const (
	logLimit = "5/min"
	logBurst = "10"
)

var commentRe = regexp.MustCompile(`/\* (\S+) \*/`)

// IPTablesStore manages rules through the iptables binary.
type IPTablesStore struct {
	runner CommandRunner
	binary string
}

// NewIPTablesStore creates a store using runner, or the default runner when nil.
func NewIPTablesStore(runner CommandRunner) *IPTablesStore {
	if runner == nil {
		runner = DefaultCommandRunner
	}
	return &IPTablesStore{runner: runner, binary: "iptables"}
}

func (s *IPTablesStore) run(args ...string) error {
	return s.runner.Run(s.binary, append([]string{"-w"}, args...)...)
}

func ruleArgs(r Rule) []string {
	var args []string
	if r.Set != "" {
		args = append(args, "-m", "set", "--match-set", r.Set, r.Match.String())
	}
	if r.Tag != "" {
		args = append(args, "-m", "comment", "--comment", r.Tag)
	}
	switch r.Action {
	case ActionAccept:
		args = append(args, "-j", "ACCEPT")
	case ActionDrop:
		args = append(args, "-j", "DROP")
	case ActionJump:
		args = append(args, "-j", r.Target)
	case ActionLog:
		args = append(args, "-m", "limit", "--limit", logLimit, "--limit-burst", logBurst,
			"-j", "LOG", "--log-prefix", r.LogPrefix)
	}
	return args
}

func (s *IPTablesStore) Insert(chain string, position int, r Rule) error {
	args := []string{"-A", chain}
	if position > 0 {
		args = []string{"-I", chain, strconv.Itoa(position)}
	}
	if err := s.run(append(args, ruleArgs(r)...)...); err != nil {
		return errors.Attr(errors.Wrapf(err, errors.KindStore, "insert rule into %s", chain), "tag", r.Tag)
	}
	return nil
}

func (s *IPTablesStore) DeleteTagged(chain, prefix string) (int, error) {
	installed, err := s.List(chain)
	if err != nil {
		return 0, err
	}
	positions := matching(installed, prefix)
	// highest first so earlier positions stay valid
	slices.Reverse(positions)
	for _, pos := range positions {
		if err := s.run("-D", chain, strconv.Itoa(pos)); err != nil {
			return 0, errors.Wrapf(err, errors.KindStore, "delete rule %d from %s", pos, chain)
		}
	}
	return len(positions), nil
}

func (s *IPTablesStore) List(chain string) ([]Installed, error) {
	out, err := s.runner.Output(s.binary, "-w", "-L", chain, "-v", "-n", "-x", "--line-numbers")
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindStore, "list chain %s", chain)
	}
	return parseListing(chain, out), nil
}

func (s *IPTablesStore) ResetCounters(chain, prefix string) error {
	installed, err := s.List(chain)
	if err != nil {
		return err
	}
	for _, pos := range matching(installed, prefix) {
		if err := s.run("-Z", chain, strconv.Itoa(pos)); err != nil {
			return errors.Wrapf(err, errors.KindStore, "zero counters of rule %d in %s", pos, chain)
		}
	}
	return nil
}

// ChainExists reports false for any listing failure; iptables exits 1 both
// for a missing chain and for a missing table.
func (s *IPTablesStore) ChainExists(chain string) (bool, error) {
	if _, err := s.runner.Output(s.binary, "-w", "-n", "-L", chain); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *IPTablesStore) CreateChain(chain string) error {
	if err := s.run("-N", chain); err != nil {
		return errors.Wrapf(err, errors.KindStore, "create chain %s", chain)
	}
	return nil
}

func (s *IPTablesStore) FlushChain(chain string) error {
	if err := s.run("-F", chain); err != nil {
		return errors.Wrapf(err, errors.KindStore, "flush chain %s", chain)
	}
	return nil
}

func (s *IPTablesStore) DeleteChain(chain string) error {
	if err := s.run("-X", chain); err != nil {
		return errors.Wrapf(err, errors.KindStore, "delete chain %s", chain)
	}
	return nil
}

// parseListing reads `iptables -L -v -n -x --line-numbers` output:
//
//	num pkts bytes target prot opt in out source destination [extra]
func parseListing(chain string, out []byte) []Installed {
	var rules []Installed
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pos, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		m := commentRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pkts, _ := strconv.ParseUint(fields[1], 10, 64)
		byteCount, _ := strconv.ParseUint(fields[2], 10, 64)
		rules = append(rules, Installed{
			Chain:    chain,
			Tag:      m[1],
			Position: pos,
			Packets:  pkts,
			Bytes:    byteCount,
		})
	}
	return rules
}

func matching(installed []Installed, prefix string) []int {
	var positions []int
	for _, r := range installed {
		if strings.HasPrefix(r.Tag, prefix) {
			positions = append(positions, r.Position)
		}
	}
	return positions
}

var _ RuleStore = (*IPTablesStore)(nil)
