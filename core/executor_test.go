package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/core/vm"
	"github.com/eth2030/evmexec/metrics"
)

var (
	sender   = types.HexToAddress("0x00000000000000000000000000000000000a11ce")
	contract = types.HexToAddress("0x00000000000000000000000000000000000c0de0")
	coinbase = types.HexToAddress("0x00000000000000000000000000000000000cb000")
)

const testChainID = 137

func newTestBlock() *vm.BlockContext {
	return &vm.BlockContext{
		Number:    1000,
		Timestamp: 1_700_000_000,
		Coinbase:  coinbase,
		GasLimit:  30_000_000,
		BaseFee:   uint256.NewInt(7),
	}
}

func newFundedStore() *state.NodeDataStore {
	store := state.NewNodeDataStore()
	store.SetBalance(sender, uint256.NewInt(1_000_000_000_000))
	return store
}

func newTestExecutor(fork vm.Fork) *TransactionExecutor {
	return NewTransactionExecutor(ExecutorConfig{
		Hardfork: vm.DefaultHardforkConfig(testChainID).WithFork(fork),
	})
}

func legacyTx(to *types.Address, gas uint64, data []byte) *types.Transaction {
	return &types.Transaction{
		Type:     types.LegacyTxType,
		ChainID:  testChainID,
		From:     sender,
		To:       to,
		Value:    new(uint256.Int),
		Gas:      gas,
		GasPrice: uint256.NewInt(10),
		Data:     data,
	}
}

func mustExecute(t *testing.T, e *TransactionExecutor, tx *types.Transaction, st *state.ExecutionStateService) *ExecutionResult {
	t.Helper()
	res, err := e.Execute(tx, newTestBlock(), st)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func ops(b ...any) []byte {
	var code []byte
	for _, x := range b {
		switch v := x.(type) {
		case vm.OpCode:
			code = append(code, byte(v))
		case int:
			code = append(code, byte(v))
		case []byte:
			code = append(code, v...)
		}
	}
	return code
}

func TestExecute_ValueTransfer(t *testing.T) {
	st := state.NewExecutionStateService(newFundedStore())
	to := types.Address{0x42}
	tx := legacyTx(&to, 50_000, nil)
	tx.Value = uint256.NewInt(1000)
	before := st.GetBalance(sender).Uint64()

	res := mustExecute(t, newTestExecutor(vm.Prague), tx, st)
	if res.Failed() {
		t.Fatalf("transfer failed: %v", res.Err)
	}
	if res.UsedGas != TxGas {
		t.Errorf("used gas = %d, want %d", res.UsedGas, TxGas)
	}
	if got, want := st.GetBalance(sender).Uint64(), before-1000-TxGas*10; got != want {
		t.Errorf("sender balance = %d, want %d", got, want)
	}
	if got := st.GetBalance(to).Uint64(); got != 1000 {
		t.Errorf("recipient balance = %d, want 1000", got)
	}
	// Legacy price 10 over base fee 7.
	if got := st.GetBalance(coinbase).Uint64(); got != TxGas*3 {
		t.Errorf("coinbase balance = %d, want %d", got, TxGas*3)
	}
	if st.GetNonce(sender) != 1 {
		t.Errorf("sender nonce = %d, want 1", st.GetNonce(sender))
	}
}

func TestExecute_DynamicFee(t *testing.T) {
	st := state.NewExecutionStateService(newFundedStore())
	to := types.Address{0x42}
	tx := legacyTx(&to, 21000, nil)
	tx.Type = types.DynamicFeeTxType
	tx.MaxFeePerGas = uint256.NewInt(20)
	tx.MaxPriorityFeePerGas = uint256.NewInt(2)
	before := st.GetBalance(sender).Uint64()

	mustExecute(t, newTestExecutor(vm.Prague), tx, st)
	if got, want := st.GetBalance(sender).Uint64(), before-TxGas*9; got != want {
		t.Errorf("sender balance = %d, want %d", got, want)
	}
	if got := st.GetBalance(coinbase).Uint64(); got != TxGas*2 {
		t.Errorf("coinbase balance = %d, want %d", got, TxGas*2)
	}
}

func TestExecute_RefundCap(t *testing.T) {
	store := newFundedStore()
	store.SetStorage(contract, types.Hash{}, types.BytesToHash([]byte{1}))
	store.SetStorage(contract, types.BytesToHash([]byte{1}), types.BytesToHash([]byte{1}))
	// Clear slots 0 and 1.
	store.SetCode(contract, ops(vm.PUSH1, 0, vm.PUSH1, 0, vm.SSTORE, vm.PUSH1, 0, vm.PUSH1, 1, vm.SSTORE))
	st := state.NewExecutionStateService(store)

	res := mustExecute(t, newTestExecutor(vm.Prague), legacyTx(&contract, 100_000, nil), st)
	if res.Failed() {
		t.Fatalf("execution failed: %v", res.Err)
	}
	preRefund := TxGas + 2*(3+3+vm.ColdSloadCost+vm.SstoreResetGas)
	if want := preRefund / 5; res.Refund != want {
		t.Errorf("refund = %d, want capped %d", res.Refund, want)
	}
	if res.UsedGas != preRefund-res.Refund {
		t.Errorf("used gas = %d, want %d", res.UsedGas, preRefund-res.Refund)
	}
}

func TestExecute_RevertKeepsNonceAndCharges(t *testing.T) {
	store := newFundedStore()
	store.SetCode(contract, ops(vm.PUSH1, 1, vm.PUSH1, 0, vm.SSTORE, vm.PUSH1, 0, vm.PUSH1, 0, vm.REVERT))
	st := state.NewExecutionStateService(store)
	before := st.GetBalance(sender).Uint64()

	res := mustExecute(t, newTestExecutor(vm.Prague), legacyTx(&contract, 100_000, nil), st)
	if !errors.Is(res.Err, vm.ErrExecutionReverted) {
		t.Fatalf("err = %v, want revert", res.Err)
	}
	if res.Refund != 0 {
		t.Errorf("refund = %d on revert", res.Refund)
	}
	if got := st.GetFromStorage(contract, types.Hash{}); !got.IsZero() {
		t.Errorf("reverted store persisted: %s", got)
	}
	if st.GetNonce(sender) != 1 {
		t.Errorf("sender nonce = %d, want 1", st.GetNonce(sender))
	}
	if got, want := st.GetBalance(sender).Uint64(), before-res.UsedGas*10; got != want {
		t.Errorf("sender balance = %d, want %d", got, want)
	}
}

func TestExecute_OutOfGasConsumesAll(t *testing.T) {
	store := newFundedStore()
	store.SetCode(contract, ops(vm.JUMPDEST, vm.PUSH1, 0, vm.JUMP))
	st := state.NewExecutionStateService(store)

	res := mustExecute(t, newTestExecutor(vm.Prague), legacyTx(&contract, 30_000, nil), st)
	if !errors.Is(res.Err, vm.ErrOutOfGas) {
		t.Fatalf("err = %v, want out of gas", res.Err)
	}
	if res.UsedGas != 30_000 {
		t.Errorf("used gas = %d, want 30000", res.UsedGas)
	}
}

func TestExecute_Create(t *testing.T) {
	st := state.NewExecutionStateService(newFundedStore())
	// Deploys the single byte 0x00.
	initCode := ops(vm.PUSH1, 0, vm.PUSH1, 0, vm.MSTORE8, vm.PUSH1, 1, vm.PUSH1, 0, vm.RETURN)
	tx := legacyTx(nil, 100_000, initCode)

	res := mustExecute(t, newTestExecutor(vm.Prague), tx, st)
	if res.Failed() {
		t.Fatalf("create failed: %v", res.Err)
	}
	want := vm.CreateAddress(sender, 0)
	if res.ContractAddress != want {
		t.Fatalf("contract address = %s, want %s", res.ContractAddress, want)
	}
	if code := st.GetCode(want); !bytes.Equal(code, []byte{0x00}) {
		t.Errorf("deployed code = %x", code)
	}
	if st.GetNonce(sender) != 1 || st.GetNonce(want) != 1 {
		t.Errorf("nonces: sender %d, contract %d", st.GetNonce(sender), st.GetNonce(want))
	}
	igas, _ := IntrinsicGas(initCode, nil, 0, true)
	if res.IntrinsicGas != igas {
		t.Errorf("intrinsic gas = %d, want %d", res.IntrinsicGas, igas)
	}
	// 18 gas of init code plus the deposit for one byte.
	if want := igas + 18 + vm.GasCreateData; res.UsedGas != want {
		t.Errorf("used gas = %d, want %d", res.UsedGas, want)
	}
}

func TestExecute_CalldataFloor(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 100)
	to := types.Address{0x42}
	floor, _ := FloorDataGas(data)
	igas, _ := IntrinsicGas(data, nil, 0, false)

	tests := []struct {
		fork vm.Fork
		want uint64
	}{
		{vm.Prague, floor},
		{vm.Cancun, igas},
	}
	for _, tt := range tests {
		st := state.NewExecutionStateService(newFundedStore())
		res := mustExecute(t, newTestExecutor(tt.fork), legacyTx(&to, 50_000, data), st)
		if res.UsedGas != tt.want {
			t.Errorf("%s: used gas = %d, want %d", tt.fork, res.UsedGas, tt.want)
		}
	}
}

func TestExecute_Logs(t *testing.T) {
	store := newFundedStore()
	store.SetCode(contract, ops(vm.PUSH1, 0xbe, vm.PUSH1, 0, vm.MSTORE8, vm.PUSH1, 0x77, vm.PUSH1, 1, vm.PUSH1, 0, vm.LOG1))
	st := state.NewExecutionStateService(store)
	e := newTestExecutor(vm.Prague)

	for i := range 2 {
		tx := legacyTx(&contract, 100_000, nil)
		tx.Nonce = uint64(i)
		res := mustExecute(t, e, tx, st)
		if len(res.Logs) != 1 {
			t.Fatalf("tx %d: %d logs, want 1", i, len(res.Logs))
		}
		l := res.Logs[0]
		if l.Address != contract || !bytes.Equal(l.Data, []byte{0xbe}) || l.Topics[0] != types.BytesToHash([]byte{0x77}) {
			t.Errorf("tx %d: log = %+v", i, l)
		}
	}
}

func TestExecute_Tracing(t *testing.T) {
	store := newFundedStore()
	store.SetCode(contract, ops(vm.PUSH1, 1, vm.PUSH1, 2, vm.ADD))
	st := state.NewExecutionStateService(store)
	e := NewTransactionExecutor(ExecutorConfig{Hardfork: vm.DefaultHardforkConfig(testChainID), Tracing: true})

	res := mustExecute(t, e, legacyTx(&contract, 100_000, nil), st)
	// Running off the end of the code executes an implicit STOP.
	if len(res.Trace) != 4 || res.Trace[3].Op != vm.STOP {
		t.Fatalf("trace has %d steps, want 4 ending in STOP", len(res.Trace))
	}
	if res.Trace[2].Op != vm.ADD || res.Trace[2].Depth != 0 {
		t.Errorf("last step = %s at depth %d", res.Trace[2].Op, res.Trace[2].Depth)
	}
}

func TestExecute_InvalidTransactions(t *testing.T) {
	to := types.Address{0x42}
	tests := []struct {
		name   string
		mutate func(*types.Transaction, *state.NodeDataStore)
		want   error
	}{
		{"nonce too low", func(tx *types.Transaction, s *state.NodeDataStore) { s.SetNonce(sender, 3) }, ErrNonceTooLow},
		{"nonce too high", func(tx *types.Transaction, s *state.NodeDataStore) { tx.Nonce = 1 }, ErrNonceTooHigh},
		{"intrinsic gas", func(tx *types.Transaction, s *state.NodeDataStore) { tx.Gas = 20_999 }, ErrIntrinsicGas},
		{"floor data gas", func(tx *types.Transaction, s *state.NodeDataStore) {
			tx.Data = bytes.Repeat([]byte{1}, 100)
			tx.Gas = 23_000
		}, ErrFloorDataGas},
		{"block gas limit", func(tx *types.Transaction, s *state.NodeDataStore) { tx.Gas = 30_000_001 }, ErrGasLimitReached},
		{"insufficient funds", func(tx *types.Transaction, s *state.NodeDataStore) { tx.Value = uint256.NewInt(1_000_000_000_000) }, ErrInsufficientFunds},
		{"cost overflow", func(tx *types.Transaction, s *state.NodeDataStore) { tx.GasPrice = new(uint256.Int).SetAllOne() }, ErrGasUintOverflowCost},
		{"fee cap below base fee", func(tx *types.Transaction, s *state.NodeDataStore) {
			tx.Type = types.DynamicFeeTxType
			tx.MaxFeePerGas = uint256.NewInt(6)
		}, ErrFeeCapTooLow},
		{"tip above fee cap", func(tx *types.Transaction, s *state.NodeDataStore) {
			tx.Type = types.DynamicFeeTxType
			tx.MaxFeePerGas = uint256.NewInt(10)
			tx.MaxPriorityFeePerGas = uint256.NewInt(11)
		}, ErrTipAboveFeeCap},
		{"sender has code", func(tx *types.Transaction, s *state.NodeDataStore) { s.SetCode(sender, []byte{0x00}) }, ErrSenderNoEOA},
		{"empty auth list", func(tx *types.Transaction, s *state.NodeDataStore) {
			tx.Type = types.SetCodeTxType
			tx.MaxFeePerGas = uint256.NewInt(10)
		}, ErrEmptyAuthList},
		{"unknown type", func(tx *types.Transaction, s *state.NodeDataStore) { tx.Type = 3 }, ErrTxTypeNotSupported},
		{"init code too large", func(tx *types.Transaction, s *state.NodeDataStore) {
			tx.To = nil
			tx.Data = make([]byte, vm.MaxInitCodeSize+1)
			tx.Gas = 10_000_000
		}, vm.ErrMaxInitCodeSizeExceeded},
	}
	for _, tt := range tests {
		store := newFundedStore()
		tx := legacyTx(&to, 50_000, nil)
		tt.mutate(tx, store)
		st := state.NewExecutionStateService(store)
		balance := st.GetBalance(sender).Clone()
		nonce := st.GetNonce(sender)
		rejected := metrics.TxRejected.Value()

		res, err := newTestExecutor(vm.Prague).Execute(tx, newTestBlock(), st)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
			continue
		}
		if res != nil {
			t.Errorf("%s: got a result for an invalid transaction", tt.name)
		}
		if !st.GetBalance(sender).Eq(balance) || st.GetNonce(sender) != nonce {
			t.Errorf("%s: state modified", tt.name)
		}
		if metrics.TxRejected.Value() != rejected+1 {
			t.Errorf("%s: rejection not counted", tt.name)
		}
	}
}

func TestExecute_SkipChecks(t *testing.T) {
	store := state.NewNodeDataStore()
	store.SetNonce(sender, 9)
	st := state.NewExecutionStateService(store)
	to := types.Address{0x42}
	e := NewTransactionExecutor(ExecutorConfig{
		Hardfork:          vm.DefaultHardforkConfig(testChainID),
		SkipNonceChecks:   true,
		SkipBalanceChecks: true,
	})
	res, err := e.Execute(legacyTx(&to, 50_000, nil), newTestBlock(), st)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Failed() || res.UsedGas != TxGas {
		t.Fatalf("result = %+v", res)
	}
	if !st.GetBalance(sender).IsZero() || !st.GetBalance(coinbase).IsZero() {
		t.Error("gas was bought with balance checks skipped")
	}
}

func setCodeTx(to types.Address, auths ...types.SignedAuthorization) *types.Transaction {
	return &types.Transaction{
		Type:                 types.SetCodeTxType,
		ChainID:              testChainID,
		From:                 sender,
		To:                   &to,
		Value:                new(uint256.Int),
		Gas:                  200_000,
		MaxFeePerGas:         uint256.NewInt(10),
		MaxPriorityFeePerGas: uint256.NewInt(1),
		AuthorizationList:    auths,
	}
}

func TestExecute_SetCodeRunsDelegate(t *testing.T) {
	key, authority := newKey(t)
	store := newFundedStore()
	store.SetBalance(authority, uint256.NewInt(1))
	store.SetCode(delegateAddr, ops(vm.PUSH1, 0x2a, vm.PUSH1, 0, vm.SSTORE))
	st := state.NewExecutionStateService(store)
	applied := metrics.AuthorizationsApplied.Value()

	tx := setCodeTx(authority, signAuth(t, key, testChainID, delegateAddr, 0))
	res := mustExecute(t, newTestExecutor(vm.Prague), tx, st)
	if res.Failed() {
		t.Fatalf("execution failed: %v", res.Err)
	}
	if got := st.GetFromStorage(authority, types.Hash{}); got != types.BytesToHash([]byte{0x2a}) {
		t.Errorf("authority slot 0 = %s, want 0x2a", got)
	}
	if got := st.GetFromStorage(delegateAddr, types.Hash{}); !got.IsZero() {
		t.Errorf("delegate storage written: %s", got)
	}
	if res.IntrinsicGas != TxGas+types.PerEmptyAccountCost {
		t.Errorf("intrinsic gas = %d", res.IntrinsicGas)
	}
	// The existing authority refund competes with the 1/5 cap.
	preRefund := res.UsedGas + res.Refund
	if want := min(types.PerEmptyAccountCost-types.PerAuthBaseCost, preRefund/5); res.Refund != want {
		t.Errorf("refund = %d, want %d", res.Refund, want)
	}
	if metrics.AuthorizationsApplied.Value() != applied+1 {
		t.Error("applied authorization not counted")
	}
}

func TestExecute_SetCodeSurvivesRevert(t *testing.T) {
	key, authority := newKey(t)
	store := newFundedStore()
	store.SetCode(delegateAddr, ops(vm.PUSH1, 0, vm.PUSH1, 0, vm.REVERT))
	st := state.NewExecutionStateService(store)

	tx := setCodeTx(authority, signAuth(t, key, 0, delegateAddr, 0))
	res := mustExecute(t, newTestExecutor(vm.Prague), tx, st)
	if !errors.Is(res.Err, vm.ErrExecutionReverted) {
		t.Fatalf("err = %v, want revert", res.Err)
	}
	if code := st.GetCode(authority); !bytes.Equal(code, types.AddressToDelegation(delegateAddr)) {
		t.Errorf("delegation lost on revert: code = %x", code)
	}
	if nonce := st.GetNonce(authority); nonce != 1 {
		t.Errorf("authority nonce = %d, want 1", nonce)
	}
	if res.Refund != 0 {
		t.Errorf("refund = %d for a new authority", res.Refund)
	}
}

func TestExecute_SetCodeSkippedTuple(t *testing.T) {
	key, authority := newKey(t)
	st := state.NewExecutionStateService(newFundedStore())
	skipped := metrics.AuthorizationsSkipped.Value()

	tx := setCodeTx(authority, signAuth(t, key, 1, delegateAddr, 0))
	res := mustExecute(t, newTestExecutor(vm.Prague), tx, st)
	if res.Failed() {
		t.Fatalf("skipped tuple failed the transaction: %v", res.Err)
	}
	if code := st.GetCode(authority); len(code) != 0 {
		t.Errorf("code = %x, want empty", code)
	}
	if metrics.AuthorizationsSkipped.Value() != skipped+1 {
		t.Error("skipped authorization not counted")
	}
}

func TestExecute_SetCodeBeforePrague(t *testing.T) {
	key, authority := newKey(t)
	st := state.NewExecutionStateService(newFundedStore())
	tx := setCodeTx(authority, signAuth(t, key, 0, delegateAddr, 0))
	if _, err := newTestExecutor(vm.Cancun).Execute(tx, newTestBlock(), st); !errors.Is(err, ErrTxTypeNotSupported) {
		t.Fatalf("err = %v, want ErrTxTypeNotSupported", err)
	}
}
