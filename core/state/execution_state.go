// Package state holds the mutable world state of one execution together with
// its snapshot journal, EIP-2929 access list and EIP-1153 transient storage.
package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/crypto"
	"github.com/eth2030/evmexec/log"
)

var logger = log.Module("state")

var (
	// ErrInvalidSnapshot is returned when reverting or committing an id that
	// was never taken or has already been resolved.
	ErrInvalidSnapshot = errors.New("invalid snapshot operation")

	// ErrInsufficientBalance is returned by SubBalance when the account
	// cannot cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

func invalidSnapshot(id int) error {
	return fmt.Errorf("%w: snapshot %d is not outstanding", ErrInvalidSnapshot, id)
}

// ExecutionStateService is the single mutable source of truth for one
// execution. It is not safe for concurrent use; concurrent transactions must
// each own their own instance.
type ExecutionStateService struct {
	nodeData NodeDataService

	accounts    map[types.Address]*AccountExecutionState
	transient   map[types.Address]map[types.Hash]types.Hash
	blockHashes map[uint64]types.Hash
	accessList  *accessList
	logs        []*types.Log
	journal     *journal

	// nodeErr is the first node-data failure. Lookups that fail read as
	// empty values and the executor reports the error afterwards.
	nodeErr error
}

// NewExecutionStateService creates an empty state backed by nodeData. A nil
// nodeData makes every unknown account empty.
func NewExecutionStateService(nodeData NodeDataService) *ExecutionStateService {
	return &ExecutionStateService{
		nodeData:    nodeData,
		accounts:    make(map[types.Address]*AccountExecutionState),
		transient:   make(map[types.Address]map[types.Hash]types.Hash),
		blockHashes: make(map[uint64]types.Hash),
		accessList:  newAccessList(),
		journal:     newJournal(),
	}
}

// Error returns the first error reported by the node-data service.
func (s *ExecutionStateService) Error() error {
	return s.nodeErr
}

func (s *ExecutionStateService) setError(err error) {
	if err != nil && s.nodeErr == nil {
		logger.Warn("node data lookup failed", "err", err)
		s.nodeErr = err
	}
}

// CreateOrGetAccountExecutionState returns the account, creating an empty
// entry on first touch. Calling it repeatedly returns the same object.
func (s *ExecutionStateService) CreateOrGetAccountExecutionState(addr types.Address) *AccountExecutionState {
	acct, ok := s.accounts[addr]
	if !ok {
		acct = newAccountExecutionState(addr)
		s.accounts[addr] = acct
	}
	return acct
}

// --- lazy loading ---

func (s *ExecutionStateService) loadBalance(acct *AccountExecutionState) {
	if acct.balanceLoaded {
		return
	}
	acct.balanceLoaded = true
	if s.nodeData == nil {
		return
	}
	bal, err := s.nodeData.GetBalance(acct.Address)
	if err != nil {
		s.setError(fmt.Errorf("balance of %v: %w", acct.Address, err))
		return
	}
	if bal != nil {
		acct.InitialChainBalance = new(uint256.Int).Set(bal)
	}
}

func (s *ExecutionStateService) loadNonce(acct *AccountExecutionState) {
	if acct.nonceLoaded {
		return
	}
	acct.nonceLoaded = true
	if s.nodeData == nil {
		return
	}
	nonce, err := s.nodeData.GetTransactionCount(acct.Address)
	if err != nil {
		s.setError(fmt.Errorf("nonce of %v: %w", acct.Address, err))
		return
	}
	acct.Nonce = nonce
}

func (s *ExecutionStateService) loadCode(acct *AccountExecutionState) {
	if acct.codeLoaded {
		return
	}
	acct.codeLoaded = true
	if s.nodeData == nil {
		return
	}
	code, err := s.nodeData.GetCode(acct.Address)
	if err != nil {
		s.setError(fmt.Errorf("code of %v: %w", acct.Address, err))
		return
	}
	acct.Code = code
}

// loadSlot returns the current value of a slot, fetching it on first touch
// and recording the original value exactly once.
func (s *ExecutionStateService) loadSlot(acct *AccountExecutionState, key types.Hash) types.Hash {
	v, ok := acct.Storage[key]
	if !ok {
		if s.nodeData != nil && !acct.storageCleared {
			got, err := s.nodeData.GetStorageAt(acct.Address, key)
			if err != nil {
				s.setError(fmt.Errorf("storage %v of %v: %w", key, acct.Address, err))
			} else {
				v = got
			}
		}
		acct.Storage[key] = v
	}
	if _, ok := acct.OriginalStorageValues[key]; !ok {
		acct.OriginalStorageValues[key] = v
	}
	return v
}

// --- balance ---

// GetBalance returns the initial chain balance plus the internal delta.
func (s *ExecutionStateService) GetBalance(addr types.Address) *uint256.Int {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.loadBalance(acct)
	return acct.Balance()
}

// SetInitialChainBalance overrides the balance the account started with.
func (s *ExecutionStateService) SetInitialChainBalance(addr types.Address, balance *uint256.Int) {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.journal.append(initialBalanceChange{addr: addr, prev: acct.InitialChainBalance, prevLoaded: acct.balanceLoaded})
	acct.InitialChainBalance = new(uint256.Int).Set(balance)
	acct.balanceLoaded = true
}

// UpsertInternalBalance adds a signed delta to the account's balance.
func (s *ExecutionStateService) UpsertInternalBalance(addr types.Address, delta *big.Int) {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.loadBalance(acct)
	s.journal.append(internalBalanceChange{addr: addr, prev: acct.InternalBalance})
	acct.InternalBalance = new(big.Int).Add(acct.InternalBalance, delta)
}

// AddBalance credits amount to addr.
func (s *ExecutionStateService) AddBalance(addr types.Address, amount *uint256.Int) {
	s.UpsertInternalBalance(addr, amount.ToBig())
}

// SubBalance debits amount from addr, failing without change if the balance
// is too low.
func (s *ExecutionStateService) SubBalance(addr types.Address, amount *uint256.Int) error {
	if s.GetBalance(addr).Lt(amount) {
		return fmt.Errorf("%w: %v has %v, needs %v", ErrInsufficientBalance, addr, s.GetBalance(addr), amount)
	}
	s.UpsertInternalBalance(addr, new(big.Int).Neg(amount.ToBig()))
	return nil
}

// Transfer moves amount from one account to another.
func (s *ExecutionStateService) Transfer(from, to types.Address, amount *uint256.Int) error {
	if err := s.SubBalance(from, amount); err != nil {
		return err
	}
	s.AddBalance(to, amount)
	return nil
}

// --- nonce ---

// GetNonce returns the account nonce.
func (s *ExecutionStateService) GetNonce(addr types.Address) uint64 {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.loadNonce(acct)
	return acct.Nonce
}

// SetNonce sets the account nonce.
func (s *ExecutionStateService) SetNonce(addr types.Address, nonce uint64) {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.loadNonce(acct)
	s.journal.append(nonceChange{addr: addr, prev: acct.Nonce})
	acct.Nonce = nonce
}

// --- code ---

// GetCode returns the account code. Delegation designators are returned as
// stored; resolving them is up to the caller.
func (s *ExecutionStateService) GetCode(addr types.Address) []byte {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.loadCode(acct)
	return acct.Code
}

// GetCodeSize returns the length of the account code.
func (s *ExecutionStateService) GetCodeSize(addr types.Address) int {
	return len(s.GetCode(addr))
}

// GetCodeHash returns keccak256 of the code, or the zero hash when the
// account is empty as defined by EIP-161.
func (s *ExecutionStateService) GetCodeHash(addr types.Address) types.Hash {
	if s.Empty(addr) {
		return types.Hash{}
	}
	return crypto.Keccak256Hash(s.GetCode(addr))
}

// SaveCode replaces the account code.
func (s *ExecutionStateService) SaveCode(addr types.Address, code []byte) {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.loadCode(acct)
	s.journal.append(codeChange{addr: addr, prevCode: acct.Code})
	acct.Code = types.CopyBytes(code)
}

// --- persistent storage ---

// GetFromStorage returns the current value of a slot.
func (s *ExecutionStateService) GetFromStorage(addr types.Address, key types.Hash) types.Hash {
	return s.loadSlot(s.CreateOrGetAccountExecutionState(addr), key)
}

// GetOriginalStorage returns the value the slot had when the transaction
// first touched it.
func (s *ExecutionStateService) GetOriginalStorage(addr types.Address, key types.Hash) types.Hash {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.loadSlot(acct, key)
	return acct.OriginalStorageValues[key]
}

// SaveToStorage writes a slot.
func (s *ExecutionStateService) SaveToStorage(addr types.Address, key, value types.Hash) {
	acct := s.CreateOrGetAccountExecutionState(addr)
	prev := s.loadSlot(acct, key)
	s.journal.append(storageChange{addr: addr, key: key, prev: prev})
	acct.Storage[key] = value
}

// --- transient storage ---

// GetTransientStorage reads an EIP-1153 slot.
func (s *ExecutionStateService) GetTransientStorage(addr types.Address, key types.Hash) types.Hash {
	return s.transient[addr][key]
}

// SetTransientStorage writes an EIP-1153 slot.
func (s *ExecutionStateService) SetTransientStorage(addr types.Address, key, value types.Hash) {
	prev := s.GetTransientStorage(addr, key)
	if prev == value {
		return
	}
	s.journal.append(transientStorageChange{addr: addr, key: key, prev: prev})
	s.setTransient(addr, key, value)
}

func (s *ExecutionStateService) setTransient(addr types.Address, key, value types.Hash) {
	slots, ok := s.transient[addr]
	if !ok {
		slots = make(map[types.Hash]types.Hash)
		s.transient[addr] = slots
	}
	if value.IsZero() {
		delete(slots, key)
		return
	}
	slots[key] = value
}

// ClearTransientStorage empties transient storage at the end of a transaction.
func (s *ExecutionStateService) ClearTransientStorage() {
	s.transient = make(map[types.Address]map[types.Hash]types.Hash)
}

// --- existence ---

// Exist reports whether the account exists: it has a nonce, balance or code,
// or was created during this execution.
func (s *ExecutionStateService) Exist(addr types.Address) bool {
	if acct, ok := s.accounts[addr]; ok && acct.createdInTx {
		return true
	}
	return !s.Empty(addr)
}

// Empty reports whether the account has zero nonce, zero balance and no code.
func (s *ExecutionStateService) Empty(addr types.Address) bool {
	return s.GetNonce(addr) == 0 && s.GetBalance(addr).IsZero() && len(s.GetCode(addr)) == 0
}

// CreateContract marks addr as created by CREATE/CREATE2 in this transaction.
func (s *ExecutionStateService) CreateContract(addr types.Address) {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.journal.append(createContractChange{addr: addr, prev: acct.createdInTx})
	acct.createdInTx = true
}

// MarkSelfDestructed flags the account for deletion at Finalise. Callers are
// responsible for the EIP-6780 same-transaction check.
func (s *ExecutionStateService) MarkSelfDestructed(addr types.Address) {
	acct := s.CreateOrGetAccountExecutionState(addr)
	s.journal.append(selfDestructChange{addr: addr, prev: acct.selfDestructed})
	acct.selfDestructed = true
}

// HasSelfDestructed reports whether addr is marked for deletion.
func (s *ExecutionStateService) HasSelfDestructed(addr types.Address) bool {
	acct, ok := s.accounts[addr]
	return ok && acct.selfDestructed
}

// --- access list ---

// AddressInAccessList reports whether addr is warm.
func (s *ExecutionStateService) AddressInAccessList(addr types.Address) bool {
	return s.accessList.containsAddress(addr)
}

// SlotInAccessList reports whether addr and the slot are warm.
func (s *ExecutionStateService) SlotInAccessList(addr types.Address, slot types.Hash) (addressOk, slotOk bool) {
	return s.accessList.containsSlot(addr, slot)
}

// AddAddressToAccessList warms addr.
func (s *ExecutionStateService) AddAddressToAccessList(addr types.Address) {
	if s.accessList.addAddress(addr) {
		s.journal.append(accessListAddAccountChange{addr: addr})
	}
}

// AddSlotToAccessList warms addr and the slot.
func (s *ExecutionStateService) AddSlotToAccessList(addr types.Address, slot types.Hash) {
	addrAdded, slotAdded := s.accessList.addSlot(addr, slot)
	if addrAdded {
		s.journal.append(accessListAddAccountChange{addr: addr})
	}
	if slotAdded {
		s.journal.append(accessListAddSlotChange{addr: addr, slot: slot})
	}
}

// --- logs ---

// AddLog records an emitted log.
func (s *ExecutionStateService) AddLog(l *types.Log) {
	s.journal.append(addLogChange{})
	s.logs = append(s.logs, l)
}

// Logs returns the logs emitted so far.
func (s *ExecutionStateService) Logs() []*types.Log {
	return s.logs
}

// --- block hashes ---

// GetBlockHash returns the hash of a historical block, zero if unknown.
func (s *ExecutionStateService) GetBlockHash(number uint64) types.Hash {
	if h, ok := s.blockHashes[number]; ok {
		return h
	}
	var h types.Hash
	if s.nodeData != nil {
		got, err := s.nodeData.GetBlockHash(number)
		if err != nil {
			s.setError(fmt.Errorf("hash of block %d: %w", number, err))
		} else {
			h = got
		}
	}
	s.blockHashes[number] = h
	return h
}

// --- snapshots ---

// TakeSnapshot pushes a checkpoint and returns its id. Ids start at 0 and
// increase strictly.
func (s *ExecutionStateService) TakeSnapshot() int {
	return s.journal.snapshot()
}

// RevertToSnapshot undoes every change made since id was taken and drops id
// together with all younger snapshots.
func (s *ExecutionStateService) RevertToSnapshot(id int) error {
	return s.journal.revertToSnapshot(id, s)
}

// CommitSnapshot drops id and all younger snapshots without reverting.
func (s *ExecutionStateService) CommitSnapshot(id int) error {
	return s.journal.commitSnapshot(id)
}

// Finalise applies end-of-transaction effects: self-destructed accounts are
// wiped and transient storage is cleared. The journal is reset, so no
// snapshot taken earlier can be reverted afterwards.
func (s *ExecutionStateService) Finalise() {
	for addr, acct := range s.accounts {
		if !acct.selfDestructed {
			continue
		}
		logger.Debug("wiping self-destructed account", "addr", addr)
		acct.InitialChainBalance = new(uint256.Int)
		acct.InternalBalance = new(big.Int)
		acct.balanceLoaded = true
		acct.Nonce = 0
		acct.nonceLoaded = true
		acct.Code = nil
		acct.codeLoaded = true
		acct.Storage = make(map[types.Hash]types.Hash)
		acct.storageCleared = true
		acct.selfDestructed = false
	}
	for _, acct := range s.accounts {
		acct.createdInTx = false
		acct.OriginalStorageValues = make(map[types.Hash]types.Hash)
	}
	s.ClearTransientStorage()
	s.accessList = newAccessList()
	s.journal = newJournal()
}

// Accounts returns every account touched so far, keyed by address.
func (s *ExecutionStateService) Accounts() map[types.Address]*AccountExecutionState {
	return s.accounts
}
