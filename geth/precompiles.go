// Package geth bridges the executor to go-ethereum: the BLS12-381
// precompiles come from go-ethereum's Prague precompile set and remote
// account state is read over JSON-RPC.
package geth

import (
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/core/vm"
)

// EIP-2537 precompile addresses.
var (
	BLS12G1AddAddress      = types.BytesToAddress([]byte{0x0b})
	BLS12G1MSMAddress      = types.BytesToAddress([]byte{0x0c})
	BLS12G2AddAddress      = types.BytesToAddress([]byte{0x0d})
	BLS12G2MSMAddress      = types.BytesToAddress([]byte{0x0e})
	BLS12PairingAddress    = types.BytesToAddress([]byte{0x0f})
	BLS12MapFpToG1Address  = types.BytesToAddress([]byte{0x10})
	BLS12MapFp2ToG2Address = types.BytesToAddress([]byte{0x11})
)

const blsFirst, blsLast byte = 0x0b, 0x11

// BLSProvider serves the BLS12-381 precompiles at 0x0b-0x11 using
// go-ethereum's implementations.
type BLSProvider struct {
	contracts gethvm.PrecompiledContracts
}

var _ vm.PrecompileProvider = (*BLSProvider)(nil)

// NewBLSProvider returns a provider over go-ethereum's Prague set.
func NewBLSProvider() *BLSProvider {
	contracts := make(gethvm.PrecompiledContracts, blsLast-blsFirst+1)
	for b := blsFirst; b <= blsLast; b++ {
		addr := gethcommon.BytesToAddress([]byte{b})
		contracts[addr] = gethvm.PrecompiledContractsPrague[addr]
	}
	return &BLSProvider{contracts: contracts}
}

func (p *BLSProvider) contract(addr types.Address) gethvm.PrecompiledContract {
	return p.contracts[gethcommon.Address(addr)]
}

// CanHandle implements vm.PrecompileProvider.
func (p *BLSProvider) CanHandle(addr types.Address) bool {
	return p.contract(addr) != nil
}

// GetGasCost implements vm.PrecompileProvider.
func (p *BLSProvider) GetGasCost(addr types.Address, input []byte) uint64 {
	if c := p.contract(addr); c != nil {
		return c.RequiredGas(input)
	}
	return 0
}

// Execute implements vm.PrecompileProvider. Malformed input surfaces as a
// precompile argument error.
func (p *BLSProvider) Execute(addr types.Address, input []byte) ([]byte, error) {
	c := p.contract(addr)
	if c == nil {
		return nil, vm.ErrNotImplemented
	}
	out, err := c.Run(input)
	if err != nil {
		return nil, &vm.PrecompileArgumentError{Precompile: c.Name(), Reason: err.Error()}
	}
	return out, nil
}
