package lifecycle

import (
	"os"

	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/logging"
	"grimm.is/setguard/internal/metrics"
	"grimm.is/setguard/internal/state"
)

// persist records g in the generation history and rewrites the metrics
// textfile of its list. Neither is allowed to fail the action.
func (c *Controller) persist(logger *logging.Logger, l config.List, g state.Generation) {
	var last *state.Generation
	if g.Outcome == state.OutcomePublished {
		last = &g
	}
	failures := 0

	st, err := c.openState(false)
	if err != nil {
		logger.Warn("generation history unavailable", "error", err)
	} else {
		defer st.Close()
		if err := st.Record(g); err != nil {
			logger.Warn("failed to record generation", "error", err)
		}
		if p, err := st.LastPublished(l.Name); err == nil && p != nil {
			last = p
		}
		if n, err := st.FailureTotal(l.Name); err == nil {
			failures = n
		}
	}

	c.exportMetrics(logger, l, last, failures)
}

func (c *Controller) openState(readOnly bool) (*state.SQLiteStore, error) {
	if !readOnly {
		if err := os.MkdirAll(c.cfg.StateDir, 0o700); err != nil {
			return nil, err
		}
	}
	opts := state.DefaultOptions(c.cfg.StatePath())
	opts.ReadOnly = readOnly
	opts.Clock = c.clock
	return state.Open(opts)
}

func (c *Controller) exportMetrics(logger *logging.Logger, l config.List, last *state.Generation, failures int) {
	if c.cfg.MetricsFile == "" {
		return
	}

	rec := metrics.NewRecorder()
	if last != nil {
		rec.RecordPublish(l.Name, last.Set, last.Count, last.Capacity, last.Rejected, last.At)
	}
	rec.RecordFailures(l.Name, failures)

	if installed, err := c.synchronizer(logger).Counters(l); err == nil {
		for _, r := range installed {
			rec.RecordRule(l.Name, r.Chain, r.Tag, r.Packets, r.Bytes)
		}
	}

	path := metrics.TextfilePath(c.cfg.MetricsFile, l.Name)
	if err := rec.WriteTextfile(path); err != nil {
		logger.Warn("failed to write metrics", "path", path, "error", err)
	}
}
