//go:build linux
// +build linux

package ipset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
	"slices"

	"github.com/google/nftables"
	"go4.org/netipx"
	"golang.org/x/sys/unix"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/kernel"
)

// loadChunk bounds the elements sent per netlink message.
const loadChunk = 1024

// countSuffix names the companion set holding the number of records loaded
// into a set. Set names from configuration never contain a dot.
const countSuffix = ".count"

// NFTStore keeps named sets as IPv4 interval sets in one inet table.
// Overlapping and adjacent prefixes are merged into a single interval, so
// Members is the minimal prefix cover of the membership. Count is the number
// of distinct records loaded, kept in a companion integer set that moves with
// the membership on Swap.
type NFTStore struct {
	conn  kernel.NFTablesConn
	table *nftables.Table
}

// NewNFTStore returns a store managing sets in table.
func NewNFTStore(conn kernel.NFTablesConn, table string) *NFTStore {
	return &NFTStore{
		conn:  conn,
		table: &nftables.Table{Name: table, Family: nftables.TableFamilyINet},
	}
}

func (s *NFTStore) set(name string) *nftables.Set {
	return &nftables.Set{
		Table:    s.table,
		Name:     name,
		KeyType:  nftables.TypeIPAddr,
		Interval: true,
	}
}

func (s *NFTStore) countSet(name string) *nftables.Set {
	return &nftables.Set{
		Table:   s.table,
		Name:    name + countSuffix,
		KeyType: nftables.TypeInteger,
	}
}

func countElements(n int) []nftables.SetElement {
	return []nftables.SetElement{{Key: binary.BigEndian.AppendUint32(nil, uint32(n))}}
}

// loadedCount reads the companion set of name. ok is false when there is none.
func (s *NFTStore) loadedCount(name string) (n int, ok bool) {
	elems, err := s.conn.GetSetElements(s.countSet(name))
	if err != nil || len(elems) != 1 || len(elems[0].Key) != 4 {
		return 0, false
	}
	return int(binary.BigEndian.Uint32(elems[0].Key)), true
}

func (s *NFTStore) lookup(name string) (*nftables.Set, error) {
	sets, err := s.conn.GetSets(s.table)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, nil
		}
		return nil, err
	}
	for _, set := range sets {
		if set.Name == name {
			return set, nil
		}
	}
	return nil, nil
}

// Create ignores capacity; nftables sets grow without a fixed maximum.
func (s *NFTStore) Create(name string, _ int) (bool, error) {
	existing, err := s.lookup(name)
	if err != nil {
		return false, storeErr(err, "create", name)
	}
	if existing != nil {
		return true, nil
	}
	s.conn.AddTable(s.table)
	if err := s.conn.AddSet(s.set(name), nil); err != nil {
		return false, storeErr(err, "create", name)
	}
	if err := s.conn.AddSet(s.countSet(name), countElements(0)); err != nil {
		return false, storeErr(err, "create", name)
	}
	if err := s.conn.Flush(); err != nil {
		return false, storeErr(err, "create", name)
	}
	return false, nil
}

func (s *NFTStore) Destroy(name string) error {
	_, counted := s.loadedCount(name)
	s.conn.DelSet(s.set(name))
	if counted {
		s.conn.DelSet(s.countSet(name))
	}
	if err := s.conn.Flush(); err != nil {
		return storeErr(err, "destroy", name)
	}
	return nil
}

func (s *NFTStore) Flush(name string) error {
	s.conn.FlushSet(s.set(name))
	if err := s.setCount(name, 0); err != nil {
		return storeErr(err, "flush", name)
	}
	if err := s.conn.Flush(); err != nil {
		return storeErr(err, "flush", name)
	}
	return nil
}

func (s *NFTStore) BulkLoad(name string, records []address.Record) error {
	elems, err := intervalElements(records)
	if err != nil {
		return storeErr(err, "load", name)
	}
	set := s.set(name)
	for chunk := range slices.Chunk(elems, loadChunk) {
		if err := s.conn.SetAddElements(set, chunk); err != nil {
			return storeErr(err, "load", name)
		}
	}
	prev, _ := s.loadedCount(name)
	if err := s.setCount(name, prev+distinct(records)); err != nil {
		return storeErr(err, "load", name)
	}
	if err := s.conn.Flush(); err != nil {
		return storeErr(err, "load", name)
	}
	return nil
}

// setCount queues a rewrite of the companion set of name. A set created
// without one keeps reporting its merged membership.
func (s *NFTStore) setCount(name string, n int) error {
	if _, ok := s.loadedCount(name); !ok {
		return nil
	}
	cs := s.countSet(name)
	s.conn.FlushSet(cs)
	return s.conn.SetAddElements(cs, countElements(n))
}

func distinct(records []address.Record) int {
	seen := make(map[address.Record]struct{}, len(records))
	for _, r := range records {
		seen[r.Masked()] = struct{}{}
	}
	return len(seen)
}

// Swap replaces the elements of both sets in one batch. nftables has no set
// rename, and readers of a set never observe a half-applied batch.
func (s *NFTStore) Swap(a, b string) error {
	setA, setB := s.set(a), s.set(b)
	elemsA, err := s.conn.GetSetElements(setA)
	if err != nil {
		return storeErr(err, "swap", a)
	}
	elemsB, err := s.conn.GetSetElements(setB)
	if err != nil {
		return storeErr(err, "swap", b)
	}

	s.conn.FlushSet(setA)
	s.conn.FlushSet(setB)
	for chunk := range slices.Chunk(elemsB, loadChunk) {
		if err := s.conn.SetAddElements(setA, chunk); err != nil {
			return storeErr(err, "swap", a)
		}
	}
	for chunk := range slices.Chunk(elemsA, loadChunk) {
		if err := s.conn.SetAddElements(setB, chunk); err != nil {
			return storeErr(err, "swap", b)
		}
	}
	countA, ok := s.loadedCount(a)
	if !ok {
		countA = len(recordsFromElements(elemsA))
	}
	countB, ok := s.loadedCount(b)
	if !ok {
		countB = len(recordsFromElements(elemsB))
	}
	if err := s.setCount(a, countB); err != nil {
		return storeErr(err, "swap", a)
	}
	if err := s.setCount(b, countA); err != nil {
		return storeErr(err, "swap", b)
	}
	if err := s.conn.Flush(); err != nil {
		return storeErr(err, "swap", a)
	}
	return nil
}

func (s *NFTStore) List(name string) (Info, error) {
	set, err := s.lookup(name)
	if err != nil {
		return Info{}, storeErr(err, "list", name)
	}
	if set == nil {
		return Info{}, storeErr(ErrNotFound, "list", name)
	}
	elems, err := s.conn.GetSetElements(set)
	if err != nil {
		return Info{}, storeErr(err, "list", name)
	}
	members := recordsFromElements(elems)
	count, ok := s.loadedCount(name)
	if !ok {
		count = len(members)
	}
	return Info{Name: name, Count: count, Members: members}, nil
}

func (s *NFTStore) Exists(name string) (bool, error) {
	set, err := s.lookup(name)
	if err != nil {
		return false, storeErr(err, "query", name)
	}
	return set != nil, nil
}

// intervalElements merges records into disjoint ranges and renders each as a
// start element plus an interval end one past the last address.
func intervalElements(records []address.Record) ([]nftables.SetElement, error) {
	var b netipx.IPSetBuilder
	for _, r := range records {
		b.AddPrefix(r.Masked().Prefix())
	}
	ipset, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("build interval set: %w", err)
	}
	var elems []nftables.SetElement
	for _, r := range ipset.Ranges() {
		elems = append(elems, nftables.SetElement{Key: r.From().AsSlice()})
		if end := r.To().Next(); end.IsValid() {
			elems = append(elems, nftables.SetElement{Key: end.AsSlice(), IntervalEnd: true})
		}
	}
	return elems, nil
}

func recordsFromElements(elems []nftables.SetElement) []address.Record {
	elems = slices.Clone(elems)
	slices.SortFunc(elems, func(a, b nftables.SetElement) int {
		if c := bytes.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		// an end at X sorts before a start at X
		switch {
		case a.IntervalEnd == b.IntervalEnd:
			return 0
		case a.IntervalEnd:
			return -1
		default:
			return 1
		}
	})

	var out []address.Record
	var start netip.Addr
	open := false
	emit := func(from, to netip.Addr) {
		for _, p := range netipx.IPRangeFrom(from, to).Prefixes() {
			if rec, err := address.RecordFrom(p.Addr(), p.Bits()); err == nil {
				out = append(out, rec)
			}
		}
	}
	for _, e := range elems {
		ip, ok := netipFromSlice(e.Key)
		if !ok {
			continue
		}
		if e.IntervalEnd {
			if open {
				emit(start, ip.Prev())
				open = false
			}
			continue
		}
		start, open = ip, true
	}
	if open {
		emit(start, netip.AddrFrom4([4]byte{255, 255, 255, 255}))
	}
	return out
}

var _ Store = (*NFTStore)(nil)
