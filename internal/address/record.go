// Package address extracts IPv4 prefixes from untrusted text.
package address

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Record is a validated IPv4 prefix. Host bits are kept exactly as given.
type Record struct {
	Base uint32
	Bits uint8
}

// RecordFrom builds a Record from an IPv4 address and prefix length.
func RecordFrom(addr netip.Addr, bits int) (Record, error) {
	if !addr.Is4() && !addr.Is4In6() {
		return Record{}, fmt.Errorf("%s is not an IPv4 address", addr)
	}
	if bits < 0 || bits > 32 {
		return Record{}, fmt.Errorf("prefix length %d out of range", bits)
	}
	b := addr.Unmap().As4()
	return Record{Base: binary.BigEndian.Uint32(b[:]), Bits: uint8(bits)}, nil
}

// MustParse parses a CIDR or bare address and panics on failure. For tests and constants.
func MustParse(s string) Record {
	r, ok := parseToken(s)
	if !ok {
		panic("address: invalid record " + s)
	}
	return r
}

// Addr returns the base address.
func (r Record) Addr() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], r.Base)
	return netip.AddrFrom4(b)
}

// Prefix returns the record as a netip.Prefix without masking host bits.
func (r Record) Prefix() netip.Prefix {
	return netip.PrefixFrom(r.Addr(), int(r.Bits))
}

// Masked returns the record with host bits cleared.
func (r Record) Masked() Record {
	if r.Bits == 0 {
		return Record{}
	}
	mask := ^uint32(0) << (32 - r.Bits)
	return Record{Base: r.Base & mask, Bits: r.Bits}
}

// String renders the record in CIDR notation, always with an explicit length.
func (r Record) String() string {
	return fmt.Sprintf("%s/%d", r.Addr(), r.Bits)
}
