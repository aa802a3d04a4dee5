package vm

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto/blake2b"
	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/ripemd160"

	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/crypto"
)

// PrecompiledContract is a natively implemented contract at a fixed address.
type PrecompiledContract interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// Native precompile gas schedule.
const (
	EcrecoverGas        uint64 = 3000
	Sha256BaseGas       uint64 = 60
	Sha256PerWordGas    uint64 = 12
	Ripemd160BaseGas    uint64 = 600
	Ripemd160PerWordGas uint64 = 120
	IdentityBaseGas     uint64 = 15
	IdentityPerWordGas  uint64 = 3
	ModExpMinGas        uint64 = 200

	Bn256AddGas             uint64 = 150
	Bn256ScalarMulGas       uint64 = 6000
	Bn256PairingBaseGas     uint64 = 45000
	Bn256PairingPerPointGas uint64 = 34000

	Blake2FInputLength = 213
)

// nativePrecompiles are always served at 0x01-0x09.
var nativePrecompiles = map[types.Address]PrecompiledContract{
	types.BytesToAddress([]byte{0x01}): &ecrecover{},
	types.BytesToAddress([]byte{0x02}): &sha256hash{},
	types.BytesToAddress([]byte{0x03}): &ripemd160hash{},
	types.BytesToAddress([]byte{0x04}): &dataCopy{},
	types.BytesToAddress([]byte{0x05}): &bigModExp{},
	types.BytesToAddress([]byte{0x06}): &bn256Add{},
	types.BytesToAddress([]byte{0x07}): &bn256ScalarMul{},
	types.BytesToAddress([]byte{0x08}): &bn256Pairing{},
	types.BytesToAddress([]byte{0x09}): &blake2F{},
}

// RunPrecompiledContract charges the required gas from suppliedGas and runs
// p. Running out of gas yields an *OutOfGasError and no output.
func RunPrecompiledContract(p PrecompiledContract, input []byte, suppliedGas uint64) (ret []byte, remainingGas uint64, err error) {
	gasCost := p.RequiredGas(input)
	if suppliedGas < gasCost {
		return nil, 0, &OutOfGasError{Required: gasCost, Remaining: suppliedGas}
	}
	suppliedGas -= gasCost
	output, err := p.Run(input)
	return output, suppliedGas, err
}

// ECRECOVER (0x01). Invalid or unrecoverable signatures produce 32 zero bytes.
type ecrecover struct{}

func (c *ecrecover) RequiredGas(input []byte) uint64 {
	return EcrecoverGas
}

func (c *ecrecover) Run(input []byte) ([]byte, error) {
	const ecRecoverInputLength = 128
	failed := make([]byte, 32)

	input = types.RightPadBytes(input, ecRecoverInputLength)
	r := new(big.Int).SetBytes(input[64:96])
	s := new(big.Int).SetBytes(input[96:128])
	v := input[63] - 27

	if !allZero(input[32:63]) || (input[63] != 27 && input[63] != 28) {
		return failed, nil
	}
	if !crypto.ValidateSignatureValues(v, r, s, false) {
		return failed, nil
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, input[64:128])
	sig[64] = v

	addr, err := crypto.Ecrecover(input[:32], sig)
	if err != nil {
		return failed, nil
	}
	return types.LeftPadBytes(addr[:], 32), nil
}

// SHA256 (0x02).
type sha256hash struct{}

func (c *sha256hash) RequiredGas(input []byte) uint64 {
	return uint64(len(input)+31)/32*Sha256PerWordGas + Sha256BaseGas
}

func (c *sha256hash) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

// RIPEMD160 (0x03). The 20-byte digest is left-padded to 32 bytes.
type ripemd160hash struct{}

func (c *ripemd160hash) RequiredGas(input []byte) uint64 {
	return uint64(len(input)+31)/32*Ripemd160PerWordGas + Ripemd160BaseGas
}

func (c *ripemd160hash) Run(input []byte) ([]byte, error) {
	h := ripemd160.New()
	h.Write(input)
	return types.LeftPadBytes(h.Sum(nil), 32), nil
}

// IDENTITY (0x04).
type dataCopy struct{}

func (c *dataCopy) RequiredGas(input []byte) uint64 {
	return uint64(len(input)+31)/32*IdentityPerWordGas + IdentityBaseGas
}

func (c *dataCopy) Run(in []byte) ([]byte, error) {
	return types.CopyBytes(in), nil
}

// MODEXP (0x05) priced per EIP-2565.
type bigModExp struct{}

var (
	big1      = big.NewInt(1)
	big3      = big.NewInt(3)
	big7      = big.NewInt(7)
	big8      = big.NewInt(8)
	big32     = big.NewInt(32)
	bigMaxU64 = new(big.Int).SetUint64(math.MaxUint64)
)

func (c *bigModExp) RequiredGas(input []byte) uint64 {
	header := types.RightPadBytes(input, 96)
	baseLen := new(big.Int).SetBytes(header[0:32])
	expLen := new(big.Int).SetBytes(header[32:64])
	modLen := new(big.Int).SetBytes(header[64:96])

	var data []byte
	if len(input) > 96 {
		data = input[96:]
	}

	// The head of the exponent: its first (at most) 32 bytes.
	var expHead *big.Int
	if !baseLen.IsUint64() || baseLen.Uint64() > uint64(len(data)) {
		expHead = new(big.Int)
	} else {
		headLen := uint64(32)
		if expLen.Cmp(big32) < 0 {
			headLen = expLen.Uint64()
		}
		expHead = new(big.Int).SetBytes(getData(data, baseLen.Uint64(), headLen))
	}

	// iteration count
	adjExpLen := new(big.Int)
	if expLen.Cmp(big32) > 0 {
		adjExpLen.Sub(expLen, big32)
		adjExpLen.Mul(adjExpLen, big8)
	}
	if bitlen := expHead.BitLen(); bitlen > 0 {
		adjExpLen.Add(adjExpLen, big.NewInt(int64(bitlen-1)))
	}
	if adjExpLen.Sign() == 0 {
		adjExpLen.Set(big1)
	}

	// multiplication complexity: ceil(max(baseLen, modLen) / 8)^2
	maxLen := baseLen
	if modLen.Cmp(maxLen) > 0 {
		maxLen = modLen
	}
	words := new(big.Int).Add(maxLen, big7)
	words.Div(words, big8)
	gas := words.Mul(words, words)

	gas.Mul(gas, adjExpLen)
	gas.Div(gas, big3)
	if gas.Cmp(bigMaxU64) > 0 {
		return math.MaxUint64
	}
	if gas.Uint64() < ModExpMinGas {
		return ModExpMinGas
	}
	return gas.Uint64()
}

func (c *bigModExp) Run(input []byte) ([]byte, error) {
	header := types.RightPadBytes(input, 96)
	var (
		baseLen = new(big.Int).SetBytes(header[0:32]).Uint64()
		expLen  = new(big.Int).SetBytes(header[32:64]).Uint64()
		modLen  = new(big.Int).SetBytes(header[64:96]).Uint64()
	)
	if baseLen == 0 && modLen == 0 {
		return []byte{}, nil
	}
	var data []byte
	if len(input) > 96 {
		data = input[96:]
	}
	var (
		base = new(big.Int).SetBytes(getData(data, 0, baseLen))
		exp  = new(big.Int).SetBytes(getData(data, baseLen, expLen))
		mod  = new(big.Int).SetBytes(getData(data, baseLen+expLen, modLen))
	)
	var out []byte
	switch {
	case mod.Sign() == 0:
		out = nil
	case exp.Sign() == 0:
		// x^0 mod m is 1 for any x, including zero, unless m is 1.
		out = new(big.Int).Mod(big1, mod).Bytes()
	case base.Sign() == 0:
		out = nil
	default:
		out = new(big.Int).Exp(base, exp, mod).Bytes()
	}
	return types.LeftPadBytes(out, int(modLen)), nil
}

// BN128 add, scalar multiplication and pairing (0x06-0x08) are reserved and
// priced per EIP-1108 but not provided.
type bn256Add struct{}

func (c *bn256Add) RequiredGas(input []byte) uint64 { return Bn256AddGas }

func (c *bn256Add) Run(input []byte) ([]byte, error) { return nil, ErrNotImplemented }

type bn256ScalarMul struct{}

func (c *bn256ScalarMul) RequiredGas(input []byte) uint64 { return Bn256ScalarMulGas }

func (c *bn256ScalarMul) Run(input []byte) ([]byte, error) { return nil, ErrNotImplemented }

type bn256Pairing struct{}

func (c *bn256Pairing) RequiredGas(input []byte) uint64 {
	return Bn256PairingBaseGas + uint64(len(input)/192)*Bn256PairingPerPointGas
}

func (c *bn256Pairing) Run(input []byte) ([]byte, error) { return nil, ErrNotImplemented }

// BLAKE2F (0x09), EIP-152. The input must be exactly 213 bytes with a final
// block flag of 0 or 1.
type blake2F struct{}

func (c *blake2F) RequiredGas(input []byte) uint64 {
	if len(input) != Blake2FInputLength {
		return 0
	}
	return uint64(binary.BigEndian.Uint32(input[0:4]))
}

func (c *blake2F) Run(input []byte) ([]byte, error) {
	if len(input) != Blake2FInputLength {
		return nil, &PrecompileArgumentError{Precompile: "blake2f", Reason: "input must be exactly 213 bytes"}
	}
	var final bool
	switch input[212] {
	case 0:
	case 1:
		final = true
	default:
		return nil, &PrecompileArgumentError{Precompile: "blake2f", Reason: "final block flag must be 0 or 1"}
	}
	var (
		rounds = binary.BigEndian.Uint32(input[0:4])
		h      [8]uint64
		m      [16]uint64
		t      [2]uint64
	)
	for i := 0; i < 8; i++ {
		offset := 4 + i*8
		h[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	for i := 0; i < 16; i++ {
		offset := 68 + i*8
		m[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	t[0] = binary.LittleEndian.Uint64(input[196:204])
	t[1] = binary.LittleEndian.Uint64(input[204:212])

	blake2b.F(&h, m, t, final, rounds)

	output := make([]byte, 64)
	for i := 0; i < 8; i++ {
		offset := i * 8
		binary.LittleEndian.PutUint64(output[offset:offset+8], h[i])
	}
	return output, nil
}

// getData returns data[start:start+size] right-padded with zeros, tolerating
// ranges that start or end past the input.
func getData(data []byte, start, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end > length || end < start {
		end = length
	}
	return types.RightPadBytes(data[start:end], int(size))
}

func allZero(b []byte) bool {
	for _, byte := range b {
		if byte != 0 {
			return false
		}
	}
	return true
}
