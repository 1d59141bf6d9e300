package cmd

import (
	"bytes"
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/setguard/internal/logging"
	"grimm.is/setguard/internal/scheduler"
)

func TestRunUntilSignal_HangupTriggersUpdates(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: &logs})

	var runs atomic.Int32
	sched := scheduler.New(logger)
	require.NoError(t, sched.AddTask(&scheduler.Task{
		ID:       "spamhaus",
		Name:     "spamhaus",
		Schedule: scheduler.Every(time.Hour),
		Func: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	sig := make(chan os.Signal, 2)
	sig <- syscall.SIGHUP
	sig <- syscall.SIGTERM
	runUntilSignal(sched, logger, sig)

	require.EqualValues(t, 1, runs.Load())
	require.Contains(t, logs.String(), "update triggered")
	require.Contains(t, logs.String(), "shutting down")
	require.EqualValues(t, 1, sched.GetStatus()[0].RunCount)
}

func TestPrintSummary_RepeatsRecentFailuresPerList(t *testing.T) {
	sched := scheduler.New(nil)
	noop := func(context.Context) error { return nil }
	for _, name := range []string{"ipsum", "spamhaus"} {
		require.NoError(t, sched.AddTask(&scheduler.Task{ID: name, Name: name, Schedule: scheduler.Every(time.Hour), Func: noop}))
	}

	buf := logging.NewRingBuffer(16)
	at := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	for _, m := range []string{"fail 1", "fail 2", "fail 3", "fail 4"} {
		buf.Add(logging.AppLogEntry{Timestamp: at, Level: "error", Source: "ipsum", Message: m})
	}
	buf.Add(logging.AppLogEntry{Timestamp: at, Level: "info", Source: "ipsum", Message: "published"})
	buf.Add(logging.AppLogEntry{Timestamp: at, Level: "error", Source: "spamhaus", Message: "status 503"})

	var out bytes.Buffer
	printSummary(&out, sched, buf)

	got := out.String()
	require.Contains(t, got, "ipsum")
	require.NotContains(t, got, "fail 1")
	require.Contains(t, got, "fail 2")
	require.Contains(t, got, "fail 4")
	require.NotContains(t, got, "published")
	require.Contains(t, got, "status 503")
}
