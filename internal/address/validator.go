package address

import (
	"bufio"
	"io"
	"iter"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// DefaultMaxExamples is how many rejected tokens are kept for diagnostics.
const DefaultMaxExamples = 5

// MaxRunBytes bounds a single run of candidate characters.
const MaxRunBytes = 64 * 1024

// RouteChecker resolves whether an address is reachable through the routing table.
type RouteChecker interface {
	Routable(addr netip.Addr) (bool, error)
}

// Options configures a Validator.
type Options struct {
	// RouteCheck, when set, rejects every record it reports as unroutable.
	RouteCheck RouteChecker
	// MaxExamples caps the retained rejected tokens. Zero means DefaultMaxExamples.
	MaxExamples int
	// MinBits rejects records with a shorter prefix. hash:net sets cannot
	// hold /0.
	MinBits int
}

// Validator turns raw text into Records. A single bad token never stops it;
// it is counted and up to MaxExamples of them are kept.
//
// A Validator accumulates statistics across every sequence it produces.
type Validator struct {
	opts Options

	mu       sync.Mutex
	accepted int
	rejected int
	examples []string
	err      error
}

// NewValidator creates a Validator.
func NewValidator(opts Options) *Validator {
	if opts.MaxExamples <= 0 {
		opts.MaxExamples = DefaultMaxExamples
	}
	return &Validator{opts: opts}
}

// Records returns a lazy sequence of the records found in r.
// Only maximal runs of digits, dots and slashes that contain a dot are
// candidates; everything else is commentary and ignored. Candidates must match
// A.B.C.D[/0-32] exactly with every octet in [0,255]; bare addresses become /32.
// Line length is not limited, but a single run longer than MaxRunBytes is a
// read error. A read error ends the sequence and is reported by Err.
func (v *Validator) Records(r io.Reader) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 4096), MaxRunBytes)
		scanner.Split(scanRuns)
		for scanner.Scan() {
			tok := scanner.Text()
			if strings.IndexByte(tok, '.') < 0 {
				continue
			}
			rec, ok := v.check(tok)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			v.mu.Lock()
			v.err = err
			v.mu.Unlock()
		}
	}
}

// Collect drains Records(r) into a slice.
func (v *Validator) Collect(r io.Reader) []Record {
	var out []Record
	for rec := range v.Records(r) {
		out = append(out, rec)
	}
	return out
}

func (v *Validator) check(tok string) (Record, bool) {
	rec, ok := parseToken(tok)
	if ok && int(rec.Bits) < v.opts.MinBits {
		ok = false
	}
	if ok && v.opts.RouteCheck != nil {
		routable, err := v.opts.RouteCheck.Routable(rec.Addr())
		ok = err == nil && routable
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !ok {
		v.rejected++
		if len(v.examples) < v.opts.MaxExamples {
			v.examples = append(v.examples, tok)
		}
		return Record{}, false
	}
	v.accepted++
	return rec, true
}

// Accepted returns the number of records yielded so far.
func (v *Validator) Accepted() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accepted
}

// Rejected returns the number of candidates rejected so far.
func (v *Validator) Rejected() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rejected
}

// Examples returns up to MaxExamples rejected candidates in input order.
func (v *Validator) Examples() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.examples...)
}

// Err returns the first read error seen by any sequence.
func (v *Validator) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// cidrGrammar is A.B.C.D with an optional /N; ranges are checked separately.
var cidrGrammar = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})(?:/(\d{1,2}))?$`)

func isRunByte(c byte) bool {
	return c >= '0' && c <= '9' || c == '.' || c == '/'
}

// scanRuns is a bufio.SplitFunc yielding the maximal runs of [0-9./].
func scanRuns(data []byte, atEOF bool) (int, []byte, error) {
	start := 0
	for start < len(data) && !isRunByte(data[start]) {
		start++
	}
	for i := start; i < len(data); i++ {
		if !isRunByte(data[i]) {
			return i + 1, data[start:i], nil
		}
	}
	if atEOF && start < len(data) {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

// parseToken applies the strict A.B.C.D[/N] grammar.
func parseToken(tok string) (Record, bool) {
	m := cidrGrammar.FindStringSubmatch(tok)
	if m == nil {
		return Record{}, false
	}

	var base uint32
	for _, o := range m[1:5] {
		n, _ := strconv.Atoi(o)
		if n > 255 {
			return Record{}, false
		}
		base = base<<8 | uint32(n)
	}

	bits := 32
	if m[5] != "" {
		bits, _ = strconv.Atoi(m[5])
		if bits > 32 {
			return Record{}, false
		}
	}
	return Record{Base: base, Bits: uint8(bits)}, true
}
