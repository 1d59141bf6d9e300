//go:build linux
// +build linux

package ipset

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/kernel"
)

func records(ss ...string) []address.Record {
	out := make([]address.Record, 0, len(ss))
	for _, s := range ss {
		out = append(out, address.MustParse(s))
	}
	return out
}

func strs(rs []address.Record) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.String())
	}
	return out
}

func TestNFTStore_CreateLoadList(t *testing.T) {
	conn := kernel.NewFakeNFTablesConn()
	s := NewNFTStore(conn, "setguard")

	ok, err := s.Exists("live")
	require.NoError(t, err)
	require.False(t, ok, "missing table means missing set")

	existed, err := s.Create("live", 4096)
	require.NoError(t, err)
	require.False(t, existed)

	existed, err = s.Create("live", 4096)
	require.NoError(t, err)
	require.True(t, existed)

	require.NoError(t, s.BulkLoad("live", records("10.0.0.0/8", "192.168.1.1", "255.255.255.0/24")))

	info, err := s.List("live")
	require.NoError(t, err)
	require.Equal(t, 3, info.Count)
	require.Equal(t, 0, info.Capacity)
	require.ElementsMatch(t, []string{"10.0.0.0/8", "192.168.1.1/32", "255.255.255.0/24"}, strs(info.Members))
}

func TestNFTStore_MergesAdjacentPrefixes(t *testing.T) {
	conn := kernel.NewFakeNFTablesConn()
	s := NewNFTStore(conn, "setguard")
	_, err := s.Create("live", 0)
	require.NoError(t, err)

	require.NoError(t, s.BulkLoad("live", records("10.0.0.0/25", "10.0.0.128/25", "10.0.0.7")))

	info, err := s.List("live")
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.0/24"}, strs(info.Members))
	require.Equal(t, 3, info.Count, "count is the number of records loaded, not the merged cover")
}

func TestNFTStore_CountSurvivesOverlap(t *testing.T) {
	conn := kernel.NewFakeNFTablesConn()
	s := NewNFTStore(conn, "setguard")
	_, _ = s.Create("live", 0)
	_, _ = s.Create("tmp", 0)
	require.NoError(t, s.BulkLoad("live", records("1.1.1.1", "2.2.2.2")))
	require.NoError(t, s.BulkLoad("tmp", records("10.0.0.0/24", "10.0.1.0/24", "10.0.0.0/8", "10.0.0.0/8")))

	tmp, err := s.List("tmp")
	require.NoError(t, err)
	require.Equal(t, 3, tmp.Count)

	require.NoError(t, s.Swap("tmp", "live"))

	live, err := s.List("live")
	require.NoError(t, err)
	require.Equal(t, 3, live.Count)
	require.Equal(t, []string{"10.0.0.0/8"}, strs(live.Members))

	tmp, err = s.List("tmp")
	require.NoError(t, err)
	require.Equal(t, 2, tmp.Count)
}

func TestNFTStore_Swap(t *testing.T) {
	conn := kernel.NewFakeNFTablesConn()
	s := NewNFTStore(conn, "setguard")
	_, _ = s.Create("live", 0)
	_, _ = s.Create("tmp", 0)
	require.NoError(t, s.BulkLoad("live", records("1.1.1.1")))
	require.NoError(t, s.BulkLoad("tmp", records("2.2.2.0/24", "3.3.3.3")))

	require.NoError(t, s.Swap("tmp", "live"))

	live, err := s.List("live")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"2.2.2.0/24", "3.3.3.3/32"}, strs(live.Members))

	tmp, err := s.List("tmp")
	require.NoError(t, err)
	require.Equal(t, []string{"1.1.1.1/32"}, strs(tmp.Members))
}

func TestNFTStore_SwapFailureLeavesBothSets(t *testing.T) {
	conn := kernel.NewFakeNFTablesConn()
	s := NewNFTStore(conn, "setguard")
	_, _ = s.Create("live", 0)
	_, _ = s.Create("tmp", 0)
	require.NoError(t, s.BulkLoad("live", records("1.1.1.1")))
	require.NoError(t, s.BulkLoad("tmp", records("2.2.2.2")))

	conn.FlushErr = stderrors.New("netlink batch rejected")
	require.Error(t, s.Swap("tmp", "live"))

	live, err := s.List("live")
	require.NoError(t, err)
	require.Equal(t, []string{"1.1.1.1/32"}, strs(live.Members))
}

func TestNFTStore_DestroyAndFlush(t *testing.T) {
	conn := kernel.NewFakeNFTablesConn()
	s := NewNFTStore(conn, "setguard")
	_, _ = s.Create("live", 0)
	require.NoError(t, s.BulkLoad("live", records("1.1.1.1")))

	require.NoError(t, s.Flush("live"))
	info, err := s.List("live")
	require.NoError(t, err)
	require.Zero(t, info.Count)

	require.NoError(t, s.Destroy("live"))
	ok, err := s.Exists("live")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.Exists("live" + countSuffix)
	require.NoError(t, err)
	require.False(t, ok, "companion count set is destroyed with its set")

	_, err = s.List("live")
	require.ErrorIs(t, err, ErrNotFound)
	require.Error(t, s.Destroy("live"))
}
