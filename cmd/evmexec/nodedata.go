package main

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
)

// overlayNodeData answers from the fixture pre-state for the accounts it
// defines and from the remote node for everything else.
type overlayNodeData struct {
	local  *state.NodeDataStore
	known  map[types.Address]bool
	remote state.NodeDataService
}

var _ state.NodeDataService = (*overlayNodeData)(nil)

func (o *overlayNodeData) source(addr types.Address) state.NodeDataService {
	if o.known[addr] {
		return o.local
	}
	return o.remote
}

func (o *overlayNodeData) GetBalance(addr types.Address) (*uint256.Int, error) {
	return o.source(addr).GetBalance(addr)
}

func (o *overlayNodeData) GetCode(addr types.Address) ([]byte, error) {
	return o.source(addr).GetCode(addr)
}

func (o *overlayNodeData) GetStorageAt(addr types.Address, key types.Hash) (types.Hash, error) {
	return o.source(addr).GetStorageAt(addr, key)
}

func (o *overlayNodeData) GetTransactionCount(addr types.Address) (uint64, error) {
	return o.source(addr).GetTransactionCount(addr)
}

func (o *overlayNodeData) GetBlockHash(number uint64) (types.Hash, error) {
	if h, _ := o.local.GetBlockHash(number); !h.IsZero() {
		return h, nil
	}
	return o.remote.GetBlockHash(number)
}
