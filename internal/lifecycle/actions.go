package lifecycle

import (
	"bytes"
	"context"
	"io"
	"strings"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/logging"
	"grimm.is/setguard/internal/reconcile"
	"grimm.is/setguard/internal/state"
)

// Start creates the named set of l, loads its seed file and installs its
// rules. The whitelist set is created empty and its rules installed before
// the seed load is handed to the Detacher; blocklists load inline first so
// their drop rules never reference a set that is still filling.
func (c *Controller) Start(l config.List) error {
	logger, closer := c.listLogger(l.Name)
	defer closer.Close()

	if l.IsWhitelist() {
		existed, err := c.sets.Create(l.SetName, l.Headroom)
		if err != nil {
			logger.Error("failed to create set", "set", l.SetName, "error", err)
			return err
		}
		if !existed {
			logger.Info("created set", "set", l.SetName, "capacity", l.Headroom)
		}
		if err := c.synchronizer(logger).Install(l); err != nil {
			logger.Error("failed to install rules", "error", err)
			return err
		}
		if err := c.detacher.Detach(l.Name, func() error { return c.SeedLoad(l) }); err != nil {
			logger.Warn("detached seed load unavailable, loading inline", "error", err)
			return c.SeedLoad(l)
		}
		return nil
	}

	if err := c.SeedLoad(l); err != nil {
		return err
	}
	if err := c.synchronizer(logger).Install(l); err != nil {
		logger.Error("failed to install rules", "error", err)
		return err
	}
	return nil
}

// SeedLoad replaces the membership of l with its seed file. A missing,
// insecure or unreadable seed yields an empty generation.
func (c *Controller) SeedLoad(l config.List) error {
	logger, closer := c.listLogger(l.Name)
	defer closer.Close()

	records, rejected := c.readSeed(logger, l)
	return c.publish(logger, l, state.SourceSeed, records, rejected, reconcile.Options{
		Headroom: l.Headroom,
	})
}

// Update fetches the feed of l and publishes it as the next generation.
// The live set is left untouched on any failure.
func (c *Controller) Update(ctx context.Context, l config.List) error {
	logger, closer := c.listLogger(l.Name)
	defer closer.Close()

	if l.URL == "" {
		return errors.Attr(errors.Errorf(errors.KindConfig, "list %s has no feed url", l.Name), "list", l.Name)
	}
	if c.fetcher == nil {
		return errors.New(errors.KindInternal, "no feed fetcher configured")
	}

	logger.Info("fetching feed", "url", l.URL)
	data, err := c.fetcher.Fetch(ctx, l.URL)
	if err != nil {
		c.fail(logger, l, state.SourceFeed, 0, err)
		return err
	}

	v := c.validator()
	records := v.Collect(bytes.NewReader(data))
	if err := v.Err(); err != nil {
		err = errors.Wrap(err, errors.KindValidation, "feed could not be read completely")
		c.fail(logger, l, state.SourceFeed, v.Rejected(), err)
		return err
	}
	logRejected(logger, v)

	return c.publish(logger, l, state.SourceFeed, records, v.Rejected(), reconcile.Options{
		Headroom:       l.Headroom,
		MinEntries:     l.MinEntries,
		WarnOnNoChange: c.cfg.WarnOnNoChangeEnabled(),
	})
}

// Stop removes the rules of l, then destroys its set if there is one.
func (c *Controller) Stop(l config.List) error {
	logger, closer := c.listLogger(l.Name)
	defer closer.Close()

	if err := c.synchronizer(logger).Remove(l); err != nil {
		logger.Error("failed to remove rules", "error", err)
		return err
	}

	exists, err := c.sets.Exists(l.SetName)
	if err != nil {
		return err
	}
	if !exists {
		logger.Info("set not present, nothing to destroy", "set", l.SetName)
		return nil
	}
	if err := c.sets.Destroy(l.SetName); err != nil {
		logger.Error("failed to destroy set", "set", l.SetName, "error", err)
		return err
	}
	logger.Info("destroyed set", "set", l.SetName)
	return nil
}

// FlushAll empties the set of l and zeroes its rule counters. The set and
// the rules stay in place.
func (c *Controller) FlushAll(l config.List) error {
	logger, closer := c.listLogger(l.Name)
	defer closer.Close()

	exists, err := c.sets.Exists(l.SetName)
	if err != nil {
		return err
	}
	if exists {
		if err := c.sets.Flush(l.SetName); err != nil {
			logger.Error("failed to flush set", "set", l.SetName, "error", err)
			return err
		}
		logger.Info("flushed set", "set", l.SetName)
	} else {
		logger.Info("set not present, nothing to flush", "set", l.SetName)
	}

	if err := c.synchronizer(logger).ResetCounters(l); err != nil {
		logger.Error("failed to reset rule counters", "error", err)
		return err
	}
	return nil
}

func (c *Controller) readSeed(logger *logging.Logger, l config.List) ([]address.Record, int) {
	if l.SeedFile == "" {
		logger.Debug("no seed file configured")
		return nil, 0
	}
	f, err := address.OpenSeed(l.SeedFile, c.cfg.SeedOwner())
	if err != nil {
		logger.Warn("seed file unusable, loading an empty set", "error", err)
		return nil, 0
	}
	defer f.Close()
	return c.collect(logger, f)
}

func (c *Controller) collect(logger *logging.Logger, r io.Reader) ([]address.Record, int) {
	v := c.validator()
	records := v.Collect(r)
	if err := v.Err(); err != nil {
		logger.Warn("seed file unreadable, loading an empty set", "error", err)
		return nil, v.Rejected()
	}
	logRejected(logger, v)
	return records, v.Rejected()
}

func (c *Controller) publish(logger *logging.Logger, l config.List, source string, records []address.Record, rejected int, opts reconcile.Options) error {
	staged, err := reconcile.NewBuilder(c.sets, logger).Stage(l.SetName, records, opts)
	if err != nil {
		c.fail(logger, l, source, rejected, err)
		return err
	}
	res, err := reconcile.NewPublisher(c.sets, logger).Publish(staged)
	if err != nil {
		c.fail(logger, l, source, rejected, err)
		return err
	}

	c.persist(logger, l, state.Generation{
		List:     l.Name,
		Set:      res.Set,
		Source:   source,
		Outcome:  state.OutcomePublished,
		Count:    res.Count,
		Capacity: res.Capacity,
		Rejected: rejected,
		At:       c.clock.Now(),
	})
	return nil
}

func (c *Controller) fail(logger *logging.Logger, l config.List, source string, rejected int, err error) {
	args := []any{"source", source, "error", err}
	for k, v := range errors.GetAttributes(err) {
		args = append(args, k, v)
	}
	logger.Error("generation not published, live set unchanged", args...)

	c.persist(logger, l, state.Generation{
		List:     l.Name,
		Set:      l.SetName,
		Source:   source,
		Outcome:  state.OutcomeFailed,
		Rejected: rejected,
		Error:    err.Error(),
		At:       c.clock.Now(),
	})
}

func logRejected(logger *logging.Logger, v *address.Validator) {
	if n := v.Rejected(); n > 0 {
		logger.Warn("rejected malformed records", "count", n, "examples", strings.Join(v.Examples(), " "))
	}
}
