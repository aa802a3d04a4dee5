package vm

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/types"
)

func TestSStoreGas(t *testing.T) {
	h := func(v byte) types.Hash { return types.BytesToHash([]byte{v}) }
	tests := []struct {
		name                     string
		original, current, value types.Hash
		gas                      uint64
		refund                   int64
	}{
		{"noop", h(1), h(1), h(1), 100, 0},
		{"create slot", h(0), h(0), h(1), 20000, 0},
		{"clear slot", h(1), h(1), h(0), 2900, 4800},
		{"modify slot", h(1), h(1), h(2), 2900, 0},
		{"dirty restore zero", h(0), h(1), h(0), 100, 19900},
		{"dirty restore original", h(1), h(2), h(1), 100, 2800},
		{"dirty clear", h(1), h(2), h(0), 100, 4800},
		{"dirty uncleared", h(1), h(0), h(2), 100, -4800},
		{"dirty uncleared to original", h(1), h(0), h(1), 100, -2000},
		{"dirty modify", h(0), h(1), h(2), 100, 0},
	}
	for _, tt := range tests {
		gas, refund := SStoreGas(tt.original, tt.current, tt.value)
		if gas != tt.gas || refund != tt.refund {
			t.Errorf("%s: got (%d, %d), want (%d, %d)", tt.name, gas, refund, tt.gas, tt.refund)
		}
	}
}

func TestSStore_ClearThenRestoreRefund(t *testing.T) {
	store, st := newTestState()
	slot := types.Hash{}
	store.SetStorage(testContract, slot, types.BytesToHash([]byte{1}))

	code := asm{}.push(0).push(0).op(SSTORE).push(1).push(0).op(SSTORE)
	p := NewProgram(code, newTestContext(st, testContract), 100_000, 0)
	sim := newTestSimulator(false)
	for range 3 {
		if err := sim.Step(p); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if p.RefundCounter != 4800 {
		t.Fatalf("refund after clear = %d, want 4800", p.RefundCounter)
	}
	if used := p.TotalGasUsed; used != 3+3+ColdSloadCost+SstoreResetGas {
		t.Errorf("gas used after clear = %d", used)
	}
	res := sim.Execute(p)
	if !res.Success {
		t.Fatalf("execution failed: %v", res.Error)
	}
	if res.Refund != 2800 {
		t.Errorf("refund after restore = %d, want 2800", res.Refund)
	}
	if got := st.GetFromStorage(testContract, slot); got != types.BytesToHash([]byte{1}) {
		t.Errorf("slot = %s, want 1", got)
	}
}

func TestSStore_Sentry(t *testing.T) {
	code := asm{}.push(1).push(0).op(SSTORE)
	// Two pushes leave exactly the stipend.
	_, res := runCode(t, code, 6+SstoreSentryGasEIP2200)
	if !errors.Is(res.Error, ErrSStoreSentry) {
		t.Fatalf("err = %v, want ErrSStoreSentry", res.Error)
	}

	_, st := newTestState()
	ctx := newTestContext(st, testContract)
	ctx.EnforceGasSentry = false
	res = newTestSimulator(false).Execute(NewProgram(code, ctx, 6+SstoreSentryGasEIP2200, 0))
	if !errors.Is(res.Error, ErrOutOfGas) {
		t.Fatalf("without sentry: err = %v, want ErrOutOfGas", res.Error)
	}
}

func TestSLoad_ColdThenWarm(t *testing.T) {
	code := asm{}.push(0).op(SLOAD).push(0).op(SLOAD)
	_, res := runCode(t, code, 10_000)
	if res.Error != nil {
		t.Fatalf("execution failed: %v", res.Error)
	}
	if want := 3 + ColdSloadCost + 3 + WarmStorageReadCost; res.GasUsed != want {
		t.Errorf("gas used = %d, want %d", res.GasUsed, want)
	}
}

func TestBalance_ColdThenWarm(t *testing.T) {
	code := asm{}.pushAddr(testOther).op(BALANCE).pushAddr(testOther).op(BALANCE)
	_, res := runCode(t, code, 10_000)
	if res.Error != nil {
		t.Fatalf("execution failed: %v", res.Error)
	}
	if want := 3 + ColdAccountAccessCost + 3 + WarmStorageReadCost; res.GasUsed != want {
		t.Errorf("gas used = %d, want %d", res.GasUsed, want)
	}
}

func TestEffectiveRefund(t *testing.T) {
	tests := []struct {
		refund int64
		used   uint64
		want   uint64
	}{
		{5000, 10000, 2000},
		{1000, 10000, 1000},
		{0, 10000, 0},
		{-4800, 10000, 0},
	}
	for _, tt := range tests {
		if got := EffectiveRefund(tt.refund, tt.used); got != tt.want {
			t.Errorf("EffectiveRefund(%d, %d) = %d, want %d", tt.refund, tt.used, got, tt.want)
		}
	}

	p := NewProgram(nil, nil, 20000, 0)
	if err := p.UpdateGasUsed(10000); err != nil {
		t.Fatal(err)
	}
	p.AddRefund(5000)
	if got := p.GetEffectiveRefund(); got != 2000 {
		t.Errorf("GetEffectiveRefund = %d, want 2000", got)
	}
}

func TestMemoryGasCost(t *testing.T) {
	mem := NewMemory()
	fee, err := MemoryGasCost(mem, 32)
	if err != nil || fee != 3 {
		t.Fatalf("first word: fee %d err %v, want 3", fee, err)
	}
	mem.Resize(32)
	if fee, _ := MemoryGasCost(mem, 32); fee != 0 {
		t.Errorf("no growth charged %d", fee)
	}
	if fee, _ := MemoryGasCost(mem, 64); fee != 3 {
		t.Errorf("second word charged %d, want 3", fee)
	}
	if fee, _ := MemoryGasCost(NewMemory(), 1024); fee != 32*3+32*32/512 {
		t.Errorf("32 words charged %d, want %d", fee, 32*3+32*32/512)
	}
	if _, err := MemoryGasCost(NewMemory(), 0x2000000000); !errors.Is(err, ErrGasUintOverflow) {
		t.Errorf("huge size: err = %v, want ErrGasUintOverflow", err)
	}
}

func TestCallGas(t *testing.T) {
	tests := []struct {
		available, base uint64
		requested       *uint256.Int
		want            uint64
	}{
		{6400, 0, uint256.NewInt(100_000), 6300},
		{6400, 0, uint256.NewInt(100), 100},
		{6500, 100, new(uint256.Int).SetAllOne(), 6300},
	}
	for _, tt := range tests {
		got, err := callGas(tt.available, tt.base, tt.requested)
		if err != nil || got != tt.want {
			t.Errorf("callGas(%d, %d, %s) = %d, %v; want %d", tt.available, tt.base, tt.requested.Hex(), got, err, tt.want)
		}
	}
	if _, err := callGas(10, 20, uint256.NewInt(1)); !errors.Is(err, ErrOutOfGas) {
		t.Errorf("base above available: err = %v", err)
	}
}

func TestLogGas(t *testing.T) {
	// LOG2 over 3 bytes of memory.
	code := asm{}.push(2).push(1).push(3).push(0).op(LOG2)
	_, res := runCode(t, code, 10_000)
	if res.Error != nil {
		t.Fatalf("execution failed: %v", res.Error)
	}
	want := 4*GasFastestStep + GasLog + 2*GasLogTopic + 3*GasLogData + GasMemory
	if res.GasUsed != want {
		t.Errorf("gas used = %d, want %d", res.GasUsed, want)
	}
}

func TestCreate_InitCodeTooLarge(t *testing.T) {
	size := uint64(MaxInitCodeSize + 1)
	code := asm{}.pushUint(size).push(0).push(0).op(CREATE)
	_, res := runCode(t, code, 10_000_000)
	if !errors.Is(res.Error, ErrMaxInitCodeSizeExceeded) {
		t.Fatalf("err = %v, want ErrMaxInitCodeSizeExceeded", res.Error)
	}
}
