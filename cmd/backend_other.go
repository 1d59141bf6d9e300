//go:build !linux

package cmd

import (
	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/ipset"
	"grimm.is/setguard/internal/rules"
)

type backend struct {
	Sets   ipset.Store
	Rules  rules.RuleStore
	Routes address.RouteChecker
}

func (b *backend) Close() error { return nil }

func openBackend(cfg *config.Config) (*backend, error) {
	return nil, errors.Errorf(errors.KindUnsupported, "backend %s requires linux", cfg.Backend)
}
