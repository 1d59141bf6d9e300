// Package reconcile stages new set generations and publishes them into the
// enforcement layer.
//
// A generation is always built under a throwaway name and only becomes
// visible to filter rules through Publisher.Publish, which swaps it with the
// live set in one step.
package reconcile

import (
	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/ipset"
	"grimm.is/setguard/internal/logging"
)

// Options controls how a generation is staged.
type Options struct {
	// Headroom is added to the record count to size the staged set.
	Headroom int
	// MinEntries rejects generations with fewer distinct records. 0 disables the check.
	MinEntries int
	// WarnOnNoChange logs a warning when the count equals the live count.
	WarnOnNoChange bool
}

// Staged is a fully loaded generation waiting to be published.
type Staged struct {
	Target   string
	TempName string
	Count    int
	Capacity int
	Previous int
}

// Builder stages generations in a Store.
type Builder struct {
	store  ipset.Store
	logger *logging.Logger
}

// NewBuilder creates a builder.
func NewBuilder(store ipset.Store, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Builder{store: store, logger: logger.WithComponent("builder")}
}

// Stage loads records into a new temporary set sized for them plus headroom.
// Nothing is created when the minimum check fails, and the temporary set is
// destroyed again if loading fails.
func (b *Builder) Stage(target string, records []address.Record, opts Options) (*Staged, error) {
	unique := Dedup(records)
	count := len(unique)

	if opts.MinEntries > 0 && count < opts.MinEntries {
		err := errors.Errorf(errors.KindValidation,
			"%s: %d records is below the minimum of %d", target, count, opts.MinEntries)
		err = errors.Attr(err, "count", count)
		return nil, errors.Attr(err, "min_entries", opts.MinEntries)
	}

	previous, err := b.liveCount(target)
	if err != nil {
		return nil, err
	}
	if opts.WarnOnNoChange && count > 0 && count == previous {
		b.logger.Warn("record count unchanged since the last generation, feed may be stale",
			"set", target, "count", count)
	}

	staged := &Staged{
		Target:   target,
		TempName: ipset.TempName(),
		Count:    count,
		Capacity: count + opts.Headroom,
		Previous: previous,
	}
	if _, err := b.store.Create(staged.TempName, staged.Capacity); err != nil {
		return nil, err
	}
	if err := b.store.BulkLoad(staged.TempName, unique); err != nil {
		b.Discard(staged)
		return nil, err
	}

	b.logger.Debug("staged generation",
		"set", target, "temp", staged.TempName, "count", count, "capacity", staged.Capacity)
	return staged, nil
}

// Discard destroys a staged set that will not be published.
func (b *Builder) Discard(staged *Staged) {
	if err := b.store.Destroy(staged.TempName); err != nil {
		b.logger.Error("failed to remove staging set", "set", staged.TempName, "error", err)
	}
}

func (b *Builder) liveCount(target string) (int, error) {
	exists, err := b.store.Exists(target)
	if err != nil || !exists {
		return 0, err
	}
	info, err := b.store.List(target)
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}

// Dedup drops repeated records, keeping first occurrences in order.
func Dedup(records []address.Record) []address.Record {
	seen := make(map[address.Record]struct{}, len(records))
	out := make([]address.Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
