package account

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

type fakeLister struct {
	accts []*Account
	err   error
}

func (f *fakeLister) List() ([]*Account, error) { return f.accts, f.err }

func addr(b byte) types.Address {
	h := make([]byte, types.Hash160Size)
	h[0] = b
	return types.NewAddress(8964, types.AddressTypeDefault, h)
}

func TestRegistry_EmptyBeforeReload(t *testing.T) {
	r := NewRegistry(&fakeLister{})
	require.False(t, r.IsLocal(addr(1)))
	require.Nil(t, r.RelatedLocalAddresses([]types.Address{addr(1)}))
	require.Equal(t, 0, r.Len())
}

func TestRegistry_Reload(t *testing.T) {
	src := &fakeLister{accts: []*Account{{Address: addr(1)}, {Address: addr(2)}}}
	r := NewRegistry(src)
	require.NoError(t, r.Reload())

	require.True(t, r.IsLocal(addr(1)))
	require.True(t, r.IsLocal(addr(2)))
	require.False(t, r.IsLocal(addr(3)))
	require.Equal(t, []types.Address{addr(1), addr(2)}, r.Addresses())
}

func TestRegistry_RelatedLocalAddresses(t *testing.T) {
	r := NewRegistry(&fakeLister{accts: []*Account{{Address: addr(1)}, {Address: addr(2)}}})
	require.NoError(t, r.Reload())

	got := r.RelatedLocalAddresses([]types.Address{addr(3), addr(2), addr(1), addr(2)})
	require.Equal(t, []types.Address{addr(2), addr(1)}, got)
}

func TestRegistry_FailedReloadKeepsSnapshot(t *testing.T) {
	src := &fakeLister{accts: []*Account{{Address: addr(1)}}}
	r := NewRegistry(src)
	require.NoError(t, r.Reload())

	src.accts = nil
	src.err = errors.New("disk gone")
	require.Error(t, r.Reload())
	require.True(t, r.IsLocal(addr(1)))
}

func TestRegistry_WithStore(t *testing.T) {
	s, _ := newTestStore(t)
	r := NewRegistry(s)
	s.OnChange(func() { _ = r.Reload() })

	acct, err := s.Create("", "")
	require.NoError(t, err)
	require.True(t, r.IsLocal(acct.Address))

	require.NoError(t, s.Remove(acct.Address, ""))
	require.False(t, r.IsLocal(acct.Address))
}
