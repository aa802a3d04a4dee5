package state

import "github.com/eth2030/evmexec/core/types"

// accessList tracks warm addresses and storage slots per EIP-2929. An address
// with a nil slot set is warm without any warm slots.
type accessList struct {
	addresses map[types.Address]map[types.Hash]struct{}
}

func newAccessList() *accessList {
	return &accessList{
		addresses: make(map[types.Address]map[types.Hash]struct{}),
	}
}

// addAddress returns true if the address was newly added.
func (al *accessList) addAddress(addr types.Address) bool {
	if _, ok := al.addresses[addr]; ok {
		return false
	}
	al.addresses[addr] = nil
	return true
}

// addSlot reports whether the address and the slot were newly added.
func (al *accessList) addSlot(addr types.Address, slot types.Hash) (addrAdded, slotAdded bool) {
	slots, ok := al.addresses[addr]
	if !ok {
		addrAdded = true
	}
	if _, warm := slots[slot]; warm {
		return addrAdded, false
	}
	if slots == nil {
		slots = make(map[types.Hash]struct{})
		al.addresses[addr] = slots
	}
	slots[slot] = struct{}{}
	return addrAdded, true
}

func (al *accessList) containsAddress(addr types.Address) bool {
	_, ok := al.addresses[addr]
	return ok
}

func (al *accessList) containsSlot(addr types.Address, slot types.Hash) (addressOk bool, slotOk bool) {
	slots, ok := al.addresses[addr]
	if !ok {
		return false, false
	}
	_, slotOk = slots[slot]
	return true, slotOk
}

func (al *accessList) deleteAddress(addr types.Address) {
	delete(al.addresses, addr)
}

func (al *accessList) deleteSlot(addr types.Address, slot types.Hash) {
	if slots, ok := al.addresses[addr]; ok {
		delete(slots, slot)
	}
}
