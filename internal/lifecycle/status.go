package lifecycle

import (
	"time"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/logging"
	"grimm.is/setguard/internal/rules"
	"grimm.is/setguard/internal/state"
)

// Report is the read-only view of one list. Unavailable pieces are recorded
// as absent with the reason in the matching *Error field. A list that was
// never published has a nil LastPublish and no StateError.
type Report struct {
	List string
	Kind string
	Set  string

	SetExists   bool
	SetCount    int
	SetCapacity int
	SetError    string

	SeedFile     string
	SeedPresent  bool
	SeedCount    int
	SeedRejected int
	SeedError    string

	Rules      []rules.Installed
	RulesError string

	LastPublish *state.Generation
	Failures    int
	StateError  string

	Logs []logging.LogEntry

	GeneratedAt time.Time
}

// Status inspects l. It never creates, changes or removes anything.
func (c *Controller) Status(l config.List) *Report {
	r := &Report{
		List:        l.Name,
		Kind:        l.Kind.String(),
		Set:         l.SetName,
		SeedFile:    l.SeedFile,
		GeneratedAt: c.clock.Now(),
	}

	if exists, err := c.sets.Exists(l.SetName); err != nil {
		r.SetError = err.Error()
	} else if exists {
		if info, err := c.sets.List(l.SetName); err != nil {
			r.SetError = err.Error()
		} else {
			r.SetExists = true
			r.SetCount = info.Count
			r.SetCapacity = info.Capacity
		}
	}

	c.inspectSeed(r, l)

	if installed, err := c.synchronizer(c.logger.WithList(l.Name)).Counters(l); err != nil {
		r.RulesError = err.Error()
	} else {
		r.Rules = installed
	}

	if st, err := c.openState(true); err != nil {
		if !errors.Is(err, state.ErrNoState) {
			r.StateError = err.Error()
		}
	} else {
		if g, err := st.LastPublished(l.Name); err != nil {
			r.StateError = err.Error()
		} else {
			r.LastPublish = g
		}
		if n, err := st.FailureTotal(l.Name); err == nil {
			r.Failures = n
		}
		st.Close()
	}

	if entries, err := logging.RecentEntries(c.cfg.LogFile, l.Name, c.cfg.StatusLogLines); err == nil {
		r.Logs = entries
	}
	return r
}

func (c *Controller) inspectSeed(r *Report, l config.List) {
	if l.SeedFile == "" {
		return
	}
	f, err := address.OpenSeed(l.SeedFile, c.cfg.SeedOwner())
	if err != nil {
		r.SeedError = err.Error()
		return
	}
	defer f.Close()

	v := c.validator()
	for range v.Records(f) {
	}
	if err := v.Err(); err != nil {
		r.SeedError = err.Error()
		return
	}
	r.SeedPresent = true
	r.SeedCount = v.Accepted()
	r.SeedRejected = v.Rejected()
}
