package account

import (
	"sort"
	"sync/atomic"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Lister supplies the accounts the registry tracks.
type Lister interface {
	List() ([]*Account, error)
}

type addrSet map[types.Address]struct{}

// Registry is the in-memory set of locally controlled addresses. Readers
// see an immutable snapshot; Reload swaps in a new one.
type Registry struct {
	src  Lister
	snap atomic.Pointer[addrSet]
}

// NewRegistry creates an empty registry backed by src. Call Reload to fill it.
func NewRegistry(src Lister) *Registry {
	return &Registry{src: src}
}

// Reload replaces the address set with the accounts src currently lists.
// On error the previous set stays in place.
func (r *Registry) Reload() error {
	accts, err := r.src.List()
	if err != nil {
		log.Account.Warn().Err(err).Msg("Account registry reload failed, keeping previous set")
		return err
	}
	set := make(addrSet, len(accts))
	for _, a := range accts {
		set[a.Address] = struct{}{}
	}
	r.snap.Store(&set)
	return nil
}

func (r *Registry) current() addrSet {
	if p := r.snap.Load(); p != nil {
		return *p
	}
	return nil
}

// IsLocal reports whether addr belongs to a local account.
func (r *Registry) IsLocal(addr types.Address) bool {
	_, ok := r.current()[addr]
	return ok
}

// RelatedLocalAddresses returns the candidates that are local, in candidate
// order and without duplicates.
func (r *Registry) RelatedLocalAddresses(candidates []types.Address) []types.Address {
	set := r.current()
	if len(set) == 0 {
		return nil
	}
	var out []types.Address
	seen := make(map[types.Address]struct{})
	for _, c := range candidates {
		if _, ok := set[c]; !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Addresses returns the local addresses in byte order.
func (r *Registry) Addresses() []types.Address {
	set := r.current()
	out := make([]types.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Len returns the number of local addresses.
func (r *Registry) Len() int {
	return len(r.current())
}
