package ipset

import "net/netip"

func netipFromSlice(b []byte) (netip.Addr, bool) {
	ip, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}
