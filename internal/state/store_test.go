package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/setguard/internal/clock"
)

func TestRecordAndHistory(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1_700_000_000, 0))
	store, err := Open(Options{Path: ":memory:", Retain: 3, Clock: clk})
	require.NoError(t, err)
	defer store.Close()

	for i := 1; i <= 5; i++ {
		clk.Advance(time.Hour)
		require.NoError(t, store.Record(Generation{
			List: "ipsum", Set: "setguard-ipsum", Source: SourceFeed, Outcome: OutcomePublished, Count: i * 10,
		}))
	}
	require.NoError(t, store.Record(Generation{List: "other", Set: "x", Source: SourceSeed, Outcome: OutcomePublished}))

	hist, err := store.History("ipsum", 10)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, 50, hist[0].Count)
	require.Equal(t, clk.Now().Unix(), hist[0].At.Unix())
}

func TestLastPublishedSkipsFailures(t *testing.T) {
	store, err := Open(Options{Path: ":memory:"})
	require.NoError(t, err)
	defer store.Close()

	g, err := store.LastPublished("ipsum")
	require.NoError(t, err)
	require.Nil(t, g)

	require.NoError(t, store.Record(Generation{List: "ipsum", Set: "s", Source: SourceFeed, Outcome: OutcomePublished, Count: 7}))
	require.NoError(t, store.Record(Generation{List: "ipsum", Set: "s", Source: SourceFeed, Outcome: OutcomeFailed, Error: "HTTP 500"}))

	g, err = store.LastPublished("ipsum")
	require.NoError(t, err)
	require.Equal(t, 7, g.Count)

	total, err := store.FailureTotal("ipsum")
	require.NoError(t, err)
	require.Equal(t, 1, total)
	total, err = store.FailureTotal("other")
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	_, err := Open(Options{Path: path, ReadOnly: true})
	require.ErrorIs(t, err, ErrNoState)
	require.NoFileExists(t, path)

	rw, err := Open(DefaultOptions(path))
	require.NoError(t, err)
	require.NoError(t, rw.Record(Generation{List: "whitelist", Set: "s", Source: SourceSeed, Outcome: OutcomePublished, Count: 2}))
	require.NoError(t, rw.Close())

	ro, err := Open(Options{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	g, err := ro.LastPublished("whitelist")
	require.NoError(t, err)
	require.Equal(t, 2, g.Count)
	require.Error(t, ro.Record(Generation{List: "whitelist", Set: "s", Source: SourceSeed, Outcome: OutcomePublished}))
}
