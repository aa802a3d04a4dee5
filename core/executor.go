package core

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/core/vm"
	"github.com/eth2030/evmexec/log"
	"github.com/eth2030/evmexec/metrics"
)

var logger = log.Module("core")

// Transaction validation errors. A transaction failing any of these checks
// is rejected before it touches state.
var (
	ErrNonceTooLow         = errors.New("nonce too low")
	ErrNonceTooHigh        = errors.New("nonce too high")
	ErrNonceMax            = errors.New("nonce has max value")
	ErrInsufficientFunds   = errors.New("insufficient funds for gas * price + value")
	ErrIntrinsicGas        = errors.New("intrinsic gas too low")
	ErrFloorDataGas        = errors.New("insufficient gas for floor data gas cost")
	ErrGasLimitReached     = errors.New("gas limit reached")
	ErrFeeCapTooLow        = errors.New("max fee per gas less than block base fee")
	ErrTipAboveFeeCap      = errors.New("max priority fee per gas higher than max fee per gas")
	ErrSenderNoEOA         = errors.New("sender not an eoa")
	ErrTxTypeNotSupported  = errors.New("transaction type not supported")
	ErrEmptyAuthList       = errors.New("set code transaction with empty auth list")
	ErrSetCodeTxCreate     = errors.New("set code transaction cannot create a contract")
	ErrGasUintOverflowCost = errors.New("transaction cost overflows uint256")
	ErrNodeData            = errors.New("node data unavailable")
)

// ExecutorConfig configures a TransactionExecutor.
type ExecutorConfig struct {
	Hardfork vm.HardforkConfig
	// Tracing records a step trace into every result. Trace refines what
	// is captured and where it is streamed.
	Tracing bool
	Trace   vm.TraceConfig
	// SkipNonceChecks accepts any transaction nonce and sender code.
	SkipNonceChecks bool
	// SkipBalanceChecks runs the transaction without buying gas: the gas
	// price is treated as zero and nothing is paid to the coinbase.
	SkipBalanceChecks bool
	// Logger overrides the package logger.
	Logger *log.Logger
}

// TransactionExecutor validates transactions, settles their gas and runs
// them through an EVMSimulator. It holds no per-transaction state, but the
// simulator it owns is not safe for concurrent use.
type TransactionExecutor struct {
	config ExecutorConfig
	sim    *vm.EVMSimulator
	log    *log.Logger
}

// NewTransactionExecutor creates an executor for config.
func NewTransactionExecutor(config ExecutorConfig) *TransactionExecutor {
	trace := config.Trace
	trace.Enabled = trace.Enabled || config.Tracing
	l := config.Logger
	if l == nil {
		l = logger
	}
	return &TransactionExecutor{
		config: config,
		sim:    vm.NewEVMSimulator(config.Hardfork, trace),
		log:    l,
	}
}

// Simulator returns the simulator transactions run on.
func (e *TransactionExecutor) Simulator() *vm.EVMSimulator { return e.sim }

// Execute validates tx against st and block, then applies it. Every
// execution outcome, including failure, is reported in the result. A
// returned error with a nil result means the transaction was invalid and st
// was not modified; with a non-nil result it means node data could not be
// fetched during execution and the result is unreliable.
func (e *TransactionExecutor) Execute(tx *types.Transaction, block *vm.BlockContext, st *state.ExecutionStateService) (*ExecutionResult, error) {
	timer := metrics.NewTimer(metrics.TxExecTime)
	defer timer.Stop()

	if block == nil {
		block = new(vm.BlockContext)
	}
	igas, floor, err := e.validate(tx, block, st)
	if err == nil {
		err = st.Error()
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrNodeData, err)
		}
	}
	if err != nil {
		metrics.TxRejected.Inc()
		e.log.Debug("transaction rejected", "from", tx.From, "nonce", tx.Nonce, "err", err)
		return nil, err
	}

	cfg := e.config.Hardfork
	price := tx.EffectiveGasPrice(block.BaseFee)
	if e.config.SkipBalanceChecks {
		price = new(uint256.Int)
	}

	// Buy gas. validate checked the balance covers it.
	if err := st.SubBalance(tx.From, new(uint256.Int).Mul(uint256.NewInt(tx.Gas), price)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	if !tx.IsCreate() {
		st.SetNonce(tx.From, st.GetNonce(tx.From)+1)
	}

	e.prepareAccessList(tx, block, st)

	var authRefund uint64
	if tx.Type == types.SetCodeTxType {
		authRefund = ProcessAuthorizations(st, tx.AuthorizationList, cfg.ChainID)
	}
	if !tx.IsCreate() && cfg.IsPrague() {
		if target, ok := types.ParseDelegation(st.GetCode(*tx.To)); ok {
			st.AddAddressToAccessList(target)
		}
	}

	root := &vm.ProgramContext{
		Caller:           tx.From,
		Address:          tx.From,
		CodeAddress:      tx.From,
		Value:            new(uint256.Int),
		Origin:           tx.From,
		GasPrice:         price,
		BlobHashes:       tx.BlobHashes,
		ChainID:          cfg.ChainID,
		State:            st,
		Block:            block,
		EnforceGasSentry: cfg.EnforceGasSentry,
	}
	logStart := len(st.Logs())
	gasLeft := tx.Gas - igas

	var res *vm.ProgramResult
	if tx.IsCreate() {
		res = e.sim.Create(root, tx.Data, gasLeft, tx.Value, 0)
	} else {
		res = e.sim.Call(root, *tx.To, tx.Data, gasLeft, tx.Value, 0)
	}

	// Settle gas. Refunds earned by a failed frame were reverted with it,
	// the authorization refund was not.
	gasUsed := tx.Gas - res.GasRemaining
	refundCounter := int64(authRefund)
	if res.Success {
		refundCounter += res.Refund
	}
	refund := vm.EffectiveRefund(refundCounter, gasUsed)
	gasUsed -= refund
	if cfg.IsPrague() && gasUsed < floor {
		gasUsed = floor
	}
	st.AddBalance(tx.From, new(uint256.Int).Mul(uint256.NewInt(tx.Gas-gasUsed), price))
	if !e.config.SkipBalanceChecks {
		tip := tx.EffectiveTip(block.BaseFee)
		st.AddBalance(block.Coinbase, new(uint256.Int).Mul(uint256.NewInt(gasUsed), tip))
	}

	result := &ExecutionResult{
		UsedGas:      gasUsed,
		Refund:       refund,
		IntrinsicGas: igas,
		Err:          res.Error,
		ReturnData:   res.ReturnData,
		Trace:        res.Trace,
	}
	if tx.IsCreate() && res.Success {
		result.ContractAddress = res.CreatedAddress
	}
	if logs := st.Logs(); len(logs) > logStart {
		result.Logs = logs[logStart:]
	}
	st.Finalise()

	metrics.EVMExecutions.Inc()
	metrics.EVMGasUsed.Add(int64(gasUsed))
	if result.Failed() {
		metrics.EVMFailures.Inc()
	}
	e.log.Debug("transaction executed", "from", tx.From, "to", tx.To, "gasUsed", gasUsed, "refund", refund, "err", res.Error)
	if err := st.Error(); err != nil {
		return result, fmt.Errorf("%w: %v", ErrNodeData, err)
	}
	return result, nil
}

// validate checks tx can be applied and returns its intrinsic gas and, under
// Prague, its calldata floor.
func (e *TransactionExecutor) validate(tx *types.Transaction, block *vm.BlockContext, st *state.ExecutionStateService) (igas, floor uint64, err error) {
	cfg := e.config.Hardfork
	switch tx.Type {
	case types.LegacyTxType, types.AccessListTxType, types.DynamicFeeTxType:
	case types.SetCodeTxType:
		if !cfg.IsPrague() {
			return 0, 0, fmt.Errorf("%w: type %d before prague", ErrTxTypeNotSupported, tx.Type)
		}
		if tx.IsCreate() {
			return 0, 0, ErrSetCodeTxCreate
		}
		if len(tx.AuthorizationList) == 0 {
			return 0, 0, ErrEmptyAuthList
		}
	default:
		return 0, 0, fmt.Errorf("%w: type %d", ErrTxTypeNotSupported, tx.Type)
	}
	if block.GasLimit != 0 && tx.Gas > block.GasLimit {
		return 0, 0, fmt.Errorf("%w: tx gas %d, block limit %d", ErrGasLimitReached, tx.Gas, block.GasLimit)
	}

	if !e.config.SkipNonceChecks {
		nonce := st.GetNonce(tx.From)
		switch {
		case tx.Nonce < nonce:
			return 0, 0, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, tx.From, tx.Nonce, nonce)
		case tx.Nonce > nonce:
			return 0, 0, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, tx.From, tx.Nonce, nonce)
		case nonce+1 < nonce:
			return 0, 0, fmt.Errorf("%w: address %s, nonce: %d", ErrNonceMax, tx.From, nonce)
		}
		// EIP-3607, relaxed by EIP-7702 for delegated accounts.
		if code := st.GetCode(tx.From); len(code) > 0 {
			if _, delegated := types.ParseDelegation(code); !delegated {
				return 0, 0, fmt.Errorf("%w: address %s, codesize: %d", ErrSenderNoEOA, tx.From, len(code))
			}
		}
	}

	if tx.DynamicFee() {
		feeCap, tip := orZero(tx.MaxFeePerGas), orZero(tx.MaxPriorityFeePerGas)
		if tip.Gt(feeCap) {
			return 0, 0, fmt.Errorf("%w: tip %s, fee cap %s", ErrTipAboveFeeCap, tip, feeCap)
		}
		if block.BaseFee != nil && !e.config.SkipBalanceChecks && feeCap.Lt(block.BaseFee) {
			return 0, 0, fmt.Errorf("%w: fee cap %s, base fee %s", ErrFeeCapTooLow, feeCap, block.BaseFee)
		}
	}

	if tx.IsCreate() && len(tx.Data) > vm.MaxInitCodeSize {
		return 0, 0, fmt.Errorf("%w: code size %d, limit %d", vm.ErrMaxInitCodeSizeExceeded, len(tx.Data), vm.MaxInitCodeSize)
	}
	igas, err = IntrinsicGas(tx.Data, tx.AccessList, uint64(len(tx.AuthorizationList)), tx.IsCreate())
	if err != nil {
		return 0, 0, err
	}
	if tx.Gas < igas {
		return 0, 0, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.Gas, igas)
	}
	if cfg.IsPrague() {
		if floor, err = FloorDataGas(tx.Data); err != nil {
			return 0, 0, err
		}
		if tx.Gas < floor {
			return 0, 0, fmt.Errorf("%w: have %d, want %d", ErrFloorDataGas, tx.Gas, floor)
		}
	}

	if !e.config.SkipBalanceChecks {
		if err := checkFunds(tx, st); err != nil {
			return 0, 0, err
		}
	}
	return igas, floor, nil
}

// checkFunds requires the sender to afford gas at the fee cap plus value.
func checkFunds(tx *types.Transaction, st *state.ExecutionStateService) error {
	price := orZero(tx.GasPrice)
	if tx.DynamicFee() {
		price = orZero(tx.MaxFeePerGas)
	}
	cost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(tx.Gas), price)
	if overflow {
		return ErrGasUintOverflowCost
	}
	if _, overflow = cost.AddOverflow(cost, orZero(tx.Value)); overflow {
		return ErrGasUintOverflowCost
	}
	if balance := st.GetBalance(tx.From); balance.Lt(cost) {
		return fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientFunds, tx.From, balance, cost)
	}
	return nil
}

// prepareAccessList warms the sender, recipient, coinbase, precompiles and
// the transaction's access list (EIP-2929, EIP-2930, EIP-3651).
func (e *TransactionExecutor) prepareAccessList(tx *types.Transaction, block *vm.BlockContext, st *state.ExecutionStateService) {
	st.AddAddressToAccessList(tx.From)
	if tx.To != nil {
		st.AddAddressToAccessList(*tx.To)
	}
	st.AddAddressToAccessList(block.Coinbase)
	for _, addr := range e.config.Hardfork.ActivePrecompiles() {
		st.AddAddressToAccessList(addr)
	}
	for _, tuple := range tx.AccessList {
		st.AddAddressToAccessList(tuple.Address)
		for _, key := range tuple.StorageKeys {
			st.AddSlotToAccessList(tuple.Address, key)
		}
	}
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
