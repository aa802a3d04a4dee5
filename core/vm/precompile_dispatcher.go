package vm

import (
	"bytes"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/crypto"
)

// PrecompileProvider serves precompiles outside the native 0x01-0x09 range,
// such as KZG point evaluation or the BLS12-381 operations.
type PrecompileProvider interface {
	CanHandle(addr types.Address) bool
	GetGasCost(addr types.Address, input []byte) uint64
	Execute(addr types.Address, input []byte) ([]byte, error)
}

// PrecompileDispatcher routes calls to providers first and then to the
// native precompiles.
type PrecompileDispatcher struct {
	providers []PrecompileProvider
}

// NewPrecompileDispatcher returns a dispatcher over the given providers.
func NewPrecompileDispatcher(providers ...PrecompileProvider) *PrecompileDispatcher {
	return &PrecompileDispatcher{providers: providers}
}

func (d *PrecompileDispatcher) provider(addr types.Address) PrecompileProvider {
	for _, p := range d.providers {
		if p.CanHandle(addr) {
			return p
		}
	}
	return nil
}

// IsPrecompile reports whether addr is served by a provider or natively.
func (d *PrecompileDispatcher) IsPrecompile(addr types.Address) bool {
	if d.provider(addr) != nil {
		return true
	}
	_, ok := nativePrecompiles[addr]
	return ok
}

// RequiredGas returns the gas a call to addr with input costs.
func (d *PrecompileDispatcher) RequiredGas(addr types.Address, input []byte) uint64 {
	if p := d.provider(addr); p != nil {
		return p.GetGasCost(addr, input)
	}
	if c, ok := nativePrecompiles[addr]; ok {
		return c.RequiredGas(input)
	}
	return 0
}

// Run charges gas and executes the precompile at addr.
func (d *PrecompileDispatcher) Run(addr types.Address, input []byte, gas uint64) ([]byte, uint64, error) {
	if p := d.provider(addr); p != nil {
		return RunPrecompiledContract(&providerContract{addr: addr, p: p}, input, gas)
	}
	if c, ok := nativePrecompiles[addr]; ok {
		return RunPrecompiledContract(c, input, gas)
	}
	return nil, gas, nil
}

// providerContract adapts a provider bound to one address.
type providerContract struct {
	addr types.Address
	p    PrecompileProvider
}

func (c *providerContract) RequiredGas(input []byte) uint64 {
	return c.p.GetGasCost(c.addr, input)
}

func (c *providerContract) Run(input []byte) ([]byte, error) {
	return c.p.Execute(c.addr, input)
}

// KZG point evaluation (EIP-4844).
const (
	PointEvaluationGas         uint64 = 50000
	pointEvaluationInputLength        = 192
)

var (
	// KZGPointEvaluationAddress is the address served by KZGProvider.
	KZGPointEvaluationAddress = types.BytesToAddress([]byte{0x0a})

	blsModulus = uint256.MustFromHex("0x73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001")
)

// KZGProvider serves the point evaluation precompile at 0x0a.
type KZGProvider struct{}

// CanHandle implements PrecompileProvider.
func (KZGProvider) CanHandle(addr types.Address) bool {
	return addr == KZGPointEvaluationAddress
}

// GetGasCost implements PrecompileProvider.
func (KZGProvider) GetGasCost(types.Address, []byte) uint64 {
	return PointEvaluationGas
}

// Execute verifies the proof. Input is versioned_hash || z || y ||
// commitment || proof; output is FIELD_ELEMENTS_PER_BLOB || BLS_MODULUS.
func (KZGProvider) Execute(_ types.Address, input []byte) ([]byte, error) {
	if len(input) != pointEvaluationInputLength {
		return nil, &PrecompileArgumentError{Precompile: "kzg point evaluation", Reason: "input must be exactly 192 bytes"}
	}
	var (
		commitment [crypto.KZGBytesPerCommitment]byte
		proof      [crypto.KZGBytesPerProof]byte
		z, y       [crypto.KZGBytesPerFieldElement]byte
	)
	copy(z[:], input[32:64])
	copy(y[:], input[64:96])
	copy(commitment[:], input[96:144])
	copy(proof[:], input[144:192])

	versioned := crypto.KZGToVersionedHash(commitment)
	if !bytes.Equal(versioned[:], input[:32]) {
		return nil, &PrecompileArgumentError{Precompile: "kzg point evaluation", Reason: "mismatched versioned hash"}
	}
	if err := crypto.VerifyKZGPointEvaluation(commitment, z, y, proof); err != nil {
		return nil, err
	}
	out := make([]byte, 64)
	new(uint256.Int).SetUint64(crypto.KZGFieldElementsPerBlob).PutUint256(out[:32])
	blsModulus.PutUint256(out[32:])
	return out, nil
}
