//go:build linux
// +build linux

package kernel

import (
	"testing"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/stretchr/testify/require"
)

func TestFakeNFTablesConn_BatchIsAllOrNothing(t *testing.T) {
	conn := NewFakeNFTablesConn()
	table := conn.AddTable(&nftables.Table{Name: "t", Family: nftables.TableFamilyINet})
	chain := conn.AddChain(&nftables.Chain{Name: "c", Table: table})
	require.NoError(t, conn.Flush())

	conn.AddRule(&nftables.Rule{Table: table, Chain: chain, UserData: []byte("a")})
	conn.FlushChain(&nftables.Chain{Name: "missing", Table: table})
	require.Error(t, conn.Flush())

	rules, err := conn.GetRules(table, chain)
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestFakeNFTablesConn_RulePositions(t *testing.T) {
	conn := NewFakeNFTablesConn()
	table := conn.AddTable(&nftables.Table{Name: "t", Family: nftables.TableFamilyINet})
	chain := conn.AddChain(&nftables.Chain{Name: "c", Table: table})
	conn.AddRule(&nftables.Rule{Table: table, Chain: chain, UserData: []byte("b")})
	conn.InsertRule(&nftables.Rule{Table: table, Chain: chain, UserData: []byte("a")})
	require.NoError(t, conn.Flush())

	rules, err := conn.GetRules(table, chain)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, "a", string(rules[0].UserData))

	conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Position: rules[0].Handle, UserData: []byte("a2")})
	require.NoError(t, conn.Flush())
	rules, _ = conn.GetRules(table, chain)
	require.Equal(t, "a2", string(rules[1].UserData))

	require.NoError(t, conn.DelRule(rules[0]))
	require.NoError(t, conn.Flush())
	rules, _ = conn.GetRules(table, chain)
	require.Len(t, rules, 2)
}

func TestFakeNFTablesConn_ReferencedObjectsAreBusy(t *testing.T) {
	conn := NewFakeNFTablesConn()
	table := conn.AddTable(&nftables.Table{Name: "t", Family: nftables.TableFamilyINet})
	base := conn.AddChain(&nftables.Chain{Name: "base", Table: table})
	sub := conn.AddChain(&nftables.Chain{Name: "sub", Table: table})
	set := &nftables.Set{Table: table, Name: "s", KeyType: nftables.TypeIPAddr, Interval: true}
	require.NoError(t, conn.AddSet(set, nil))
	conn.AddRule(&nftables.Rule{Table: table, Chain: base, Exprs: []expr.Any{
		&expr.Lookup{SourceRegister: 1, SetName: "s"},
		&expr.Verdict{Kind: expr.VerdictJump, Chain: "sub"},
	}})
	require.NoError(t, conn.Flush())

	conn.DelSet(set)
	require.Error(t, conn.Flush())
	conn.DelChain(sub)
	require.Error(t, conn.Flush())
	require.True(t, conn.HasChain("t", "sub"))
}
