//go:build linux
// +build linux

// Package kernel opens the netlink and nftables handles every enforcement
// backend talks through, optionally inside a named network namespace.
package kernel

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// Handles holds namespace-scoped kernel handles.
type Handles struct {
	nsPath  string
	ns      netns.NsHandle
	Netlink *netlink.Handle
}

// Open returns handles for the namespace at nsPath, or for the current
// namespace when nsPath is empty.
func Open(nsPath string) (*Handles, error) {
	h := &Handles{nsPath: nsPath, ns: netns.None()}
	if nsPath == "" {
		nl, err := netlink.NewHandle()
		if err != nil {
			return nil, fmt.Errorf("failed to open netlink handle: %w", err)
		}
		h.Netlink = nl
		return h, nil
	}

	ns, err := netns.GetFromPath(nsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open namespace %s: %w", nsPath, err)
	}
	nl, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("failed to open netlink handle in %s: %w", nsPath, err)
	}
	h.ns = ns
	h.Netlink = nl
	return h, nil
}

// NamespacePath returns the namespace path the handles were opened in.
func (h *Handles) NamespacePath() string {
	return h.nsPath
}

// NFTables opens an nftables connection in the same namespace.
func (h *Handles) NFTables() (NFTablesConn, error) {
	var opts []nftables.ConnOption
	if h.ns.IsOpen() {
		opts = append(opts, nftables.WithNetNSFd(int(h.ns)))
	}
	conn, err := nftables.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create nftables connection: %w", err)
	}
	return NewRealNFTablesConn(conn), nil
}

// Close releases the netlink socket and namespace handle.
func (h *Handles) Close() error {
	if h.Netlink != nil {
		h.Netlink.Close()
	}
	if h.ns.IsOpen() {
		return h.ns.Close()
	}
	return nil
}
