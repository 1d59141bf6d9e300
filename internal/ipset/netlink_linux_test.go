//go:build linux

package ipset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/testutil"
)

func TestNetlinkStore_Kernel(t *testing.T) {
	testutil.RequireKernel(t)

	s := NewNetlinkStore(nil)
	live, temp := "setguard-test", TempName()
	t.Cleanup(func() {
		s.Destroy(live)
		s.Destroy(temp)
	})

	existed, err := s.Create(live, 16)
	require.NoError(t, err)
	require.False(t, existed)
	existed, err = s.Create(live, 16)
	require.NoError(t, err)
	require.True(t, existed)

	require.NoError(t, s.BulkLoad(live, []address.Record{address.MustParse("10.0.0.0/8")}))

	_, err = s.Create(temp, 16)
	require.NoError(t, err)
	require.NoError(t, s.BulkLoad(temp, []address.Record{
		address.MustParse("192.168.1.1"),
		address.MustParse("172.16.0.0/12"),
	}))

	require.NoError(t, s.Swap(temp, live))
	info, err := s.List(live)
	require.NoError(t, err)
	require.Equal(t, 2, info.Count)

	require.NoError(t, s.Destroy(temp))
	exists, err := s.Exists(temp)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.Flush(live))
	info, err = s.List(live)
	require.NoError(t, err)
	require.Zero(t, info.Count)
}
