package nft

import (
	"sort"

	"nftescrow/native/escrow"
)

// Directory resolves registry addresses to registries.
type Directory struct {
	registries map[[20]byte]*Registry
}

func NewDirectory(registries ...*Registry) *Directory {
	d := &Directory{registries: make(map[[20]byte]*Registry)}
	for _, r := range registries {
		d.Register(r)
	}
	return d
}

// Register adds or replaces the registry under its own address.
func (d *Directory) Register(r *Registry) {
	if r == nil {
		return
	}
	d.registries[r.Address()] = r
}

// Registry returns the registry for addr.
func (d *Directory) Registry(addr [20]byte) (*Registry, bool) {
	r, ok := d.registries[addr]
	return r, ok
}

// Custody implements escrow.CustodyDirectory.
func (d *Directory) Custody(addr [20]byte) (escrow.AssetCustody, bool) {
	r, ok := d.registries[addr]
	if !ok {
		return nil, false
	}
	return r, true
}

// Registries lists the known registries ordered by name.
func (d *Directory) Registries() []*Registry {
	out := make([]*Registry, 0, len(d.registries))
	for _, r := range d.registries {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
