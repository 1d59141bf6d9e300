//go:build linux
// +build linux

package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/ipset"
	"grimm.is/setguard/internal/kernel"
)

func TestNFTStore_PublishedCountRoundTrips(t *testing.T) {
	store := ipset.NewNFTStore(kernel.NewFakeNFTablesConn(), "setguard")
	logger, buf := testLogger()

	recs := []address.Record{
		address.MustParse("10.0.0.0/24"),
		address.MustParse("10.0.1.0/24"),
		address.MustParse("10.0.0.0/8"),
	}
	staged, err := NewBuilder(store, logger).Stage("live", recs, Options{WarnOnNoChange: true})
	require.NoError(t, err)
	res, err := NewPublisher(store, logger).Publish(staged)
	require.NoError(t, err)
	require.Equal(t, 3, res.Count)

	info, err := store.List("live")
	require.NoError(t, err)
	require.Equal(t, 3, info.Count)
	require.NotContains(t, buf.String(), "record count unchanged")

	staged, err = NewBuilder(store, logger).Stage("live", recs, Options{WarnOnNoChange: true})
	require.NoError(t, err)
	require.Equal(t, 3, staged.Previous)
	require.Contains(t, buf.String(), "record count unchanged")

	_, err = NewPublisher(store, logger).Publish(staged)
	require.NoError(t, err)
	exists, err := store.Exists(staged.TempName)
	require.NoError(t, err)
	require.False(t, exists)
}
