//go:build linux

package cmd

import (
	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/ipset"
	"grimm.is/setguard/internal/kernel"
	"grimm.is/setguard/internal/rules"
)

// backend bundles the stores of the configured enforcement layer.
type backend struct {
	Sets    ipset.Store
	Rules   rules.RuleStore
	Routes  address.RouteChecker
	handles *kernel.Handles
}

func (b *backend) Close() error {
	return b.handles.Close()
}

func openBackend(cfg *config.Config) (*backend, error) {
	h, err := kernel.Open(cfg.NetNS)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStore, "failed to open kernel handles")
	}
	b := &backend{handles: h, Routes: address.NewNetlinkRouteChecker(h.Netlink)}

	switch cfg.Backend {
	case config.BackendNFTables:
		conn, err := h.NFTables()
		if err != nil {
			h.Close()
			return nil, errors.Wrap(err, errors.KindStore, "failed to open nftables")
		}
		b.Sets = ipset.NewNFTStore(conn, cfg.Table)
		b.Rules = rules.NewNFTRuleStore(conn, cfg.Table)
	default:
		var runner rules.CommandRunner = rules.DefaultCommandRunner
		if cfg.NetNS != "" {
			runner = &rules.NamespaceRunner{Runner: runner, Path: cfg.NetNS}
		}
		b.Sets = ipset.NewNetlinkStore(h.Netlink)
		b.Rules = rules.NewIPTablesStore(runner)
	}
	return b, nil
}
