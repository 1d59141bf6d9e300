// Package lifecycle drives the named sets and filter rules of each configured
// list through start, stop, status, flush-all and the periodic update path.
//
// Every action is a short, self-contained unit of work. Actions on different
// lists touch disjoint resources; actions on the same list must not overlap.
package lifecycle

import (
	"context"
	"io"
	"slices"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/clock"
	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/ipset"
	"grimm.is/setguard/internal/logging"
	"grimm.is/setguard/internal/rules"
)

// Action names an invocation.
type Action string

const (
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionStatus   Action = "status"
	ActionFlushAll Action = "flush-all"
	ActionUpdate   Action = "update"
	ActionSeedLoad Action = "seed-load"
)

// TargetAll selects every configured list.
const TargetAll = "all"

// ParseAction maps an action name to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStart, ActionStop, ActionStatus, ActionFlushAll, ActionUpdate, ActionSeedLoad:
		return a, nil
	}
	return "", errors.Errorf(errors.KindUnsupported, "unsupported action %q", s)
}

// Fetcher downloads a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options wires a Controller.
type Options struct {
	Config  *config.Config
	Sets    ipset.Store
	Rules   rules.RuleStore
	Fetcher Fetcher
	// Routes is consulted only when route_check is enabled.
	Routes   address.RouteChecker
	Detacher Detacher
	Logger   *logging.Logger
	// ListLogger returns the logger for events of one list. The default is
	// Logger scoped with the list attribute.
	ListLogger func(list string) (*logging.Logger, io.Closer)
	Clock      clock.Clock
}

// Controller dispatches actions.
type Controller struct {
	cfg        *config.Config
	sets       ipset.Store
	rules      rules.RuleStore
	chains     rules.Chains
	fetcher    Fetcher
	routes     address.RouteChecker
	detacher   Detacher
	logger     *logging.Logger
	listLogger func(list string) (*logging.Logger, io.Closer)
	clock      clock.Clock
}

// New creates a controller.
func New(opts Options) *Controller {
	c := &Controller{
		cfg:        opts.Config,
		sets:       opts.Sets,
		rules:      opts.Rules,
		chains:     rules.ChainsFor(opts.Config),
		fetcher:    opts.Fetcher,
		routes:     opts.Routes,
		detacher:   opts.Detacher,
		logger:     opts.Logger,
		listLogger: opts.ListLogger,
		clock:      opts.Clock,
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	if c.listLogger == nil {
		base := c.logger
		c.listLogger = func(list string) (*logging.Logger, io.Closer) {
			return base.WithList(list), nopCloser{}
		}
	}
	if c.detacher == nil {
		c.detacher = &GoroutineDetacher{Logger: c.logger}
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	return c
}

// Dispatch runs action for target, which is a list name or "all". With
// "all", lists are processed whitelist first, and in reverse for stop. Every
// list is attempted; the fatal errors are joined. Reports are returned only
// for status.
func (c *Controller) Dispatch(ctx context.Context, action Action, target string) ([]*Report, error) {
	lists, err := c.Targets(target)
	if err != nil {
		return nil, err
	}
	if action == ActionStop {
		slices.Reverse(lists)
	}

	var reports []*Report
	var errs []error
	for _, l := range lists {
		var err error
		switch action {
		case ActionStart:
			err = c.Start(l)
		case ActionStop:
			err = c.Stop(l)
		case ActionStatus:
			reports = append(reports, c.Status(l))
		case ActionFlushAll:
			err = c.FlushAll(l)
		case ActionUpdate:
			if target == TargetAll && l.URL == "" {
				continue
			}
			err = c.Update(ctx, l)
		case ActionSeedLoad:
			err = c.SeedLoad(l)
		default:
			return nil, errors.Errorf(errors.KindUnsupported, "unsupported action %q", action)
		}
		if err != nil && errors.IsFatal(err) {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// Targets resolves a target name to lists in configuration order.
func (c *Controller) Targets(target string) ([]config.List, error) {
	if target == TargetAll {
		lists := c.cfg.Lists()
		if len(lists) == 0 {
			return nil, errors.New(errors.KindConfig, "no lists configured")
		}
		return lists, nil
	}
	l, ok := c.cfg.List(target)
	if !ok {
		return nil, errors.Attr(errors.Errorf(errors.KindConfig, "unknown list %q", target), "list", target)
	}
	return []config.List{l}, nil
}

func (c *Controller) synchronizer(logger *logging.Logger) *rules.Synchronizer {
	return rules.NewSynchronizer(c.rules, c.chains, logger)
}

func (c *Controller) validator() *address.Validator {
	opts := address.Options{MaxExamples: c.cfg.MaxRejectedExamples}
	if c.cfg.Backend == config.BackendIPSet {
		opts.MinBits = 1
	}
	if c.cfg.RouteCheck {
		opts.RouteCheck = c.routes
	}
	return address.NewValidator(opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
