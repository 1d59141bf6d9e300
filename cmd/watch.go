package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/logging"
	"grimm.is/setguard/internal/scheduler"
)

// recentFailures is how many failures per list the exit summary repeats.
const recentFailures = 3

// RunWatch runs the update path of every blocklist on its refresh interval
// until SIGINT or SIGTERM. SIGHUP runs every update immediately. Updates of
// the same list never overlap.
func RunWatch(configFile string) error {
	env, err := Open(configFile)
	if err != nil {
		return err
	}
	defer env.Close()

	sched := scheduler.New(env.Logger)
	for _, l := range env.Config.Lists() {
		if l.URL == "" || l.Refresh <= 0 {
			continue
		}
		if err := sched.AddTask(&scheduler.Task{
			ID:         l.Name,
			Name:       l.Name,
			Schedule:   scheduler.Every(l.Refresh),
			RunOnStart: true,
			Func:       updateTask(env, l.Name),
		}); err != nil {
			return errors.Wrap(err, errors.KindInternal, "failed to schedule update")
		}
	}
	if len(sched.GetStatus()) == 0 {
		return errors.New(errors.KindConfig, "no blocklist has both url and refresh set")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sig)

	runUntilSignal(sched, env.Logger, sig)
	printSummary(os.Stdout, sched, logging.GetAppLogBuffer())
	return nil
}

// runUntilSignal drives sched until a signal other than SIGHUP arrives.
func runUntilSignal(sched *scheduler.Scheduler, logger *logging.Logger, sig <-chan os.Signal) {
	sched.Start()
	for s := range sig {
		if s == syscall.SIGHUP {
			triggerAll(sched, logger)
			continue
		}
		logger.Info("shutting down", "signal", s.String())
		break
	}
	sched.Stop()
}

func triggerAll(sched *scheduler.Scheduler, logger *logging.Logger) {
	for _, st := range sched.GetStatus() {
		started, err := sched.RunTask(st.ID)
		switch {
		case err != nil:
			logger.Warn("update could not be triggered", "list", st.Name, "error", err)
		case !started:
			logger.Info("update already running", "list", st.Name)
		default:
			logger.Info("update triggered", "list", st.Name)
		}
	}
}

func printSummary(w io.Writer, sched *scheduler.Scheduler, buf *logging.RingBuffer) {
	for _, st := range sched.GetStatus() {
		Printer.Fprintf(w, "%-20s runs %d, failures %d, skipped %d\n", st.Name, st.RunCount, st.ErrorCount, st.SkipCount)
		var failures []logging.AppLogEntry
		for _, e := range buf.GetBySource(st.Name, 0) {
			if e.Level == "error" {
				failures = append(failures, e)
			}
		}
		if len(failures) > recentFailures {
			failures = failures[len(failures)-recentFailures:]
		}
		for _, e := range failures {
			Printer.Fprintf(w, "  %s %s\n", e.Timestamp.Format("2006-01-02T15:04:05"), e.Message)
		}
	}
}

// updateTask resolves the list on every run, so a task always acts on the
// configuration the process loaded.
func updateTask(env *Env, list string) scheduler.TaskFunc {
	return func(ctx context.Context) error {
		lists, err := env.Controller.Targets(list)
		if err != nil {
			return err
		}
		return env.Controller.Update(ctx, lists[0])
	}
}
