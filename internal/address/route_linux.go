//go:build linux

package address

import (
	"errors"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// NetlinkRouteChecker asks the kernel routing table about each address.
type NetlinkRouteChecker struct {
	handle *netlink.Handle
}

// NewNetlinkRouteChecker uses h, or the current namespace when h is nil.
func NewNetlinkRouteChecker(h *netlink.Handle) *NetlinkRouteChecker {
	if h == nil {
		h = &netlink.Handle{}
	}
	return &NetlinkRouteChecker{handle: h}
}

// Routable reports false for addresses with no route or a reject-type route.
func (c *NetlinkRouteChecker) Routable(addr netip.Addr) (bool, error) {
	routes, err := c.handle.RouteGet(addr.AsSlice())
	if err != nil {
		if errors.Is(err, unix.ENETUNREACH) || errors.Is(err, unix.EHOSTUNREACH) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EINVAL) {
			return false, nil
		}
		return false, err
	}
	if len(routes) == 0 {
		return false, nil
	}
	switch routes[0].Type {
	case unix.RTN_UNREACHABLE, unix.RTN_BLACKHOLE, unix.RTN_PROHIBIT, unix.RTN_THROW:
		return false, nil
	}
	return true, nil
}
