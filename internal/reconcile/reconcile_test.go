package reconcile

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/ipset"
	"grimm.is/setguard/internal/logging"
)

func testLogger() (*logging.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return logging.New(logging.Config{Level: logging.LevelDebug, Output: &buf}), &buf
}

func generate(n int) []address.Record {
	out := make([]address.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, address.MustParse(fmt.Sprintf("10.%d.%d.0/24", i/256, i%256)))
	}
	return out
}

func seedLive(t *testing.T, store *ipset.MemoryStore, name string, recs []address.Record) {
	t.Helper()
	_, err := store.Create(name, len(recs)+10)
	require.NoError(t, err)
	require.NoError(t, store.BulkLoad(name, recs))
}

func TestStageAndPublish_SeedScenario(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, _ := testLogger()
	b := NewBuilder(store, logger)
	p := NewPublisher(store, logger)

	recs := []address.Record{address.MustParse("10.0.0.0/8"), address.MustParse("192.168.1.1")}
	staged, err := b.Stage("setguard-whitelist", recs, Options{Headroom: 16})
	require.NoError(t, err)
	require.Equal(t, 18, staged.Capacity)

	res, err := p.Publish(staged)
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)

	info, err := store.List("setguard-whitelist")
	require.NoError(t, err)
	got := []string{info.Members[0].String(), info.Members[1].String()}
	require.ElementsMatch(t, []string{"10.0.0.0/8", "192.168.1.1/32"}, got)
	require.GreaterOrEqual(t, info.Capacity, info.Count)
	require.Equal(t, []string{"setguard-whitelist"}, store.Names(), "no staging set may remain")
}

func TestStage_EmptySeedYieldsEmptySetWithHeadroom(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, _ := testLogger()

	staged, err := NewBuilder(store, logger).Stage("live", nil, Options{Headroom: 4096})
	require.NoError(t, err)
	_, err = NewPublisher(store, logger).Publish(staged)
	require.NoError(t, err)

	info, err := store.List("live")
	require.NoError(t, err)
	require.Zero(t, info.Count)
	require.GreaterOrEqual(t, info.Capacity, 4096)
}

func TestStage_BelowMinimumLeavesLiveUntouched(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, _ := testLogger()
	seedLive(t, store, "live", generate(1200))

	_, err := NewBuilder(store, logger).Stage("live", generate(500), Options{MinEntries: 1000, Headroom: 10})
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.KindValidation))
	require.True(t, errors.IsFatal(err))

	info, err := store.List("live")
	require.NoError(t, err)
	require.Equal(t, 1200, info.Count)
	require.Equal(t, []string{"live"}, store.Names())
}

func TestStage_WarnsWhenCountUnchanged(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, buf := testLogger()
	seedLive(t, store, "live", generate(3))

	staged, err := NewBuilder(store, logger).Stage("live", generate(3), Options{WarnOnNoChange: true})
	require.NoError(t, err)
	require.Equal(t, 3, staged.Previous)
	require.Contains(t, buf.String(), "[warn]")
	require.Contains(t, buf.String(), "record count unchanged")

	_, err = NewPublisher(store, logger).Publish(staged)
	require.NoError(t, err)
	require.True(t, store.Called("swap", staged.TempName))
}

func TestStage_NoWarningForEmptyOrDisabled(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, buf := testLogger()
	_, err := store.Create("live", 10)
	require.NoError(t, err)

	_, err = NewBuilder(store, logger).Stage("live", nil, Options{WarnOnNoChange: true})
	require.NoError(t, err)

	seedLive(t, store, "other", generate(2))
	_, err = NewBuilder(store, logger).Stage("other", generate(2), Options{})
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "[warn]")
}

func TestStage_CollapsesDuplicates(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, _ := testLogger()
	recs := append(generate(3), generate(3)...)

	staged, err := NewBuilder(store, logger).Stage("live", recs, Options{MinEntries: 3})
	require.NoError(t, err)
	require.Equal(t, 3, staged.Count)
	require.Equal(t, 3, staged.Capacity)
}

func TestStage_LoadFailureRemovesTempSet(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, _ := testLogger()
	store.Fail["load"] = stderrors.New("out of memory")

	_, err := NewBuilder(store, logger).Stage("live", generate(2), Options{})
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.KindStore))
	require.Empty(t, store.Names())
}

func TestPublish_SwapFailureIsAllOrNothing(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, _ := testLogger()
	seedLive(t, store, "live", generate(5))

	staged, err := NewBuilder(store, logger).Stage("live", generate(8), Options{})
	require.NoError(t, err)

	store.Fail["swap"] = stderrors.New("incompatible sets")
	_, err = NewPublisher(store, logger).Publish(staged)
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.KindStore))

	info, err := store.List("live")
	require.NoError(t, err)
	require.Equal(t, 5, info.Count)
	require.Equal(t, []string{"live"}, store.Names())
}

func TestPublish_CleanupFailureIsOnlyAWarning(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, buf := testLogger()
	seedLive(t, store, "live", generate(5))

	staged, err := NewBuilder(store, logger).Stage("live", generate(8), Options{})
	require.NoError(t, err)

	store.Fail["destroy:"+staged.TempName] = stderrors.New("set in use")
	res, err := NewPublisher(store, logger).Publish(staged)
	require.NoError(t, err)
	require.Equal(t, 8, res.Count)
	require.Equal(t, 5, res.Previous)
	require.Contains(t, buf.String(), "could not be destroyed")

	info, err := store.List("live")
	require.NoError(t, err)
	require.Equal(t, 8, info.Count)
}

func TestPublish_CreatesMissingLiveSet(t *testing.T) {
	store := ipset.NewMemoryStore()
	logger, _ := testLogger()

	staged, err := NewBuilder(store, logger).Stage("live", generate(4), Options{Headroom: 1})
	require.NoError(t, err)
	_, err = NewPublisher(store, logger).Publish(staged)
	require.NoError(t, err)

	info, err := store.List("live")
	require.NoError(t, err)
	require.Equal(t, 4, info.Count)
	require.Equal(t, 5, info.Capacity)
}

func TestDedup(t *testing.T) {
	in := []address.Record{
		address.MustParse("1.1.1.1"),
		address.MustParse("1.1.1.1/32"),
		address.MustParse("1.1.1.0/24"),
	}
	require.Len(t, Dedup(in), 2)
}
