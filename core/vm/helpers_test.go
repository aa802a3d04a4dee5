package vm

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
)

var (
	testOrigin   = types.HexToAddress("0x1000000000000000000000000000000000000001")
	testContract = types.HexToAddress("0x2000000000000000000000000000000000000002")
	testOther    = types.HexToAddress("0x3000000000000000000000000000000000000003")
)

// asm assembles bytecode in tests.
type asm []byte

func (a asm) op(ops ...OpCode) asm {
	for _, op := range ops {
		a = append(a, byte(op))
	}
	return a
}

// push emits the shortest PUSHn for data. An empty slice emits PUSH0.
func (a asm) push(data ...byte) asm {
	if len(data) == 0 {
		return append(a, byte(PUSH0))
	}
	a = append(a, byte(PUSH1)+byte(len(data)-1))
	return append(a, data...)
}

func (a asm) pushAddr(addr types.Address) asm { return a.push(addr.Bytes()...) }

func (a asm) pushUint(v uint64) asm {
	b := new(uint256.Int).SetUint64(v).Bytes()
	if len(b) == 0 {
		b = []byte{0}
	}
	return a.push(b...)
}

func newTestState() (*state.NodeDataStore, *state.ExecutionStateService) {
	store := state.NewNodeDataStore()
	return store, state.NewExecutionStateService(store)
}

func newTestContext(st *state.ExecutionStateService, addr types.Address) *ProgramContext {
	return &ProgramContext{
		Caller:      testOrigin,
		Address:     addr,
		CodeAddress: addr,
		Value:       new(uint256.Int),
		Origin:      testOrigin,
		GasPrice:    uint256.NewInt(1),
		ChainID:     1,
		State:       st,
		Block: &BlockContext{
			Number:    100,
			Timestamp: 1_700_000_000,
			GasLimit:  30_000_000,
			BaseFee:   uint256.NewInt(7),
		},
		EnforceGasSentry: true,
	}
}

// rootContext is the context a transaction's outermost call is derived
// from: the sender acting as the parent frame.
func rootContext(st *state.ExecutionStateService) *ProgramContext {
	return newTestContext(st, testOrigin)
}

func newTestSimulator(trace bool) *EVMSimulator {
	return NewEVMSimulator(DefaultHardforkConfig(1), TraceConfig{Enabled: trace})
}

// runCode executes code as testContract against fresh state.
func runCode(t *testing.T, code []byte, gas uint64) (*Program, *ProgramResult) {
	t.Helper()
	_, st := newTestState()
	p := NewProgram(code, newTestContext(st, testContract), gas, 0)
	return p, newTestSimulator(false).Execute(p)
}

// runTop executes code and returns the top of the stack.
func runTop(t *testing.T, code []byte) *uint256.Int {
	t.Helper()
	p, res := runCode(t, code, 1_000_000)
	if res.Error != nil {
		t.Fatalf("execution failed: %v", res.Error)
	}
	if p.Stack.Len() == 0 {
		t.Fatal("empty stack")
	}
	return p.Stack.Peek()
}

func repeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
