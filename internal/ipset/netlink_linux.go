//go:build linux
// +build linux

package ipset

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/errors"
)

// setType is the ipset type every managed set uses. hash:net matches a
// prefix exactly as loaded, host bits included.
const setType = "hash:net"

// NetlinkStore manages kernel ipsets over netlink.
type NetlinkStore struct {
	h *netlink.Handle
}

// NewNetlinkStore returns a store using h, or the current namespace when h is nil.
func NewNetlinkStore(h *netlink.Handle) *NetlinkStore {
	if h == nil {
		h = &netlink.Handle{}
	}
	return &NetlinkStore{h: h}
}

func (s *NetlinkStore) Create(name string, capacity int) (bool, error) {
	exists, err := s.Exists(name)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	opts := netlink.IpsetCreateOptions{
		Family:      unix.AF_INET,
		Revision:    1,
		MaxElements: uint32(capacity),
	}
	if err := s.h.IpsetCreate(name, setType, opts); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return true, nil
		}
		return false, storeErr(err, "create", name)
	}
	return false, nil
}

func (s *NetlinkStore) Destroy(name string) error {
	if err := s.h.IpsetDestroy(name); err != nil {
		return storeErr(err, "destroy", name)
	}
	return nil
}

func (s *NetlinkStore) Flush(name string) error {
	if err := s.h.IpsetFlush(name); err != nil {
		return storeErr(err, "flush", name)
	}
	return nil
}

func (s *NetlinkStore) BulkLoad(name string, records []address.Record) error {
	for _, r := range records {
		if r.Bits == 0 {
			return storeErr(fmt.Errorf("%s: zero-length prefix is not storable in %s", r, setType), "load", name)
		}
		entry := &netlink.IPSetEntry{
			IP:      r.Addr().AsSlice(),
			CIDR:    r.Bits,
			Replace: true,
		}
		if err := s.h.IpsetAdd(name, entry); err != nil {
			return storeErr(fmt.Errorf("%s: %w", r, err), "load", name)
		}
	}
	return nil
}

func (s *NetlinkStore) Swap(a, b string) error {
	if err := s.h.IpsetSwap(a, b); err != nil {
		return storeErr(err, "swap", a)
	}
	return nil
}

func (s *NetlinkStore) List(name string) (Info, error) {
	res, err := s.h.IpsetList(name)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return Info{}, storeErr(ErrNotFound, "list", name)
		}
		return Info{}, storeErr(err, "list", name)
	}
	info := Info{
		Name:     name,
		Capacity: int(res.MaxElements),
		Members:  make([]address.Record, 0, len(res.Entries)),
	}
	for _, e := range res.Entries {
		ip, ok := netipFromSlice(e.IP)
		if !ok {
			continue
		}
		bits := int(e.CIDR)
		if bits == 0 {
			bits = 32
		}
		rec, err := address.RecordFrom(ip, bits)
		if err != nil {
			continue
		}
		info.Members = append(info.Members, rec)
	}
	info.Count = max(int(res.NumEntries), len(info.Members))
	return info, nil
}

func (s *NetlinkStore) Exists(name string) (bool, error) {
	_, err := s.h.IpsetList(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.ENOENT) {
		return false, nil
	}
	return false, storeErr(err, "query", name)
}

var _ Store = (*NetlinkStore)(nil)
