package state

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/types"
)

// NodeDataService is the read-only view of chain state the execution falls
// back to on the first (cold) access of an account, slot or block hash.
// Implementations may perform network I/O; every answer is cached by the
// ExecutionStateService for the rest of the execution.
type NodeDataService interface {
	GetBalance(addr types.Address) (*uint256.Int, error)
	GetCode(addr types.Address) ([]byte, error)
	GetStorageAt(addr types.Address, key types.Hash) (types.Hash, error)
	GetTransactionCount(addr types.Address) (uint64, error)
	GetBlockHash(number uint64) (types.Hash, error)
}

// NodeDataStore is an in-memory NodeDataService. It is safe for concurrent
// use so one pre-state can back many independent executions.
type NodeDataStore struct {
	mu       sync.RWMutex
	accounts map[types.Address]*storedAccount
	hashes   map[uint64]types.Hash
}

type storedAccount struct {
	balance *uint256.Int
	nonce   uint64
	code    []byte
	storage map[types.Hash]types.Hash
}

// NewNodeDataStore returns an empty store.
func NewNodeDataStore() *NodeDataStore {
	return &NodeDataStore{
		accounts: make(map[types.Address]*storedAccount),
		hashes:   make(map[uint64]types.Hash),
	}
}

func (s *NodeDataStore) account(addr types.Address) *storedAccount {
	acct, ok := s.accounts[addr]
	if !ok {
		acct = &storedAccount{balance: new(uint256.Int), storage: make(map[types.Hash]types.Hash)}
		s.accounts[addr] = acct
	}
	return acct
}

// SetBalance sets the stored balance of addr.
func (s *NodeDataStore) SetBalance(addr types.Address, balance *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account(addr).balance = new(uint256.Int).Set(balance)
}

// SetNonce sets the stored nonce of addr.
func (s *NodeDataStore) SetNonce(addr types.Address, nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account(addr).nonce = nonce
}

// SetCode sets the stored code of addr.
func (s *NodeDataStore) SetCode(addr types.Address, code []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account(addr).code = types.CopyBytes(code)
}

// SetStorage sets a stored slot of addr.
func (s *NodeDataStore) SetStorage(addr types.Address, key, value types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account(addr).storage[key] = value
}

// SetBlockHash records the hash of block number.
func (s *NodeDataStore) SetBlockHash(number uint64, hash types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[number] = hash
}

// GetBalance implements NodeDataService.
func (s *NodeDataStore) GetBalance(addr types.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.accounts[addr]; ok {
		return new(uint256.Int).Set(acct.balance), nil
	}
	return new(uint256.Int), nil
}

// GetCode implements NodeDataService.
func (s *NodeDataStore) GetCode(addr types.Address) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.accounts[addr]; ok {
		return types.CopyBytes(acct.code), nil
	}
	return nil, nil
}

// GetStorageAt implements NodeDataService.
func (s *NodeDataStore) GetStorageAt(addr types.Address, key types.Hash) (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.accounts[addr]; ok {
		return acct.storage[key], nil
	}
	return types.Hash{}, nil
}

// GetTransactionCount implements NodeDataService.
func (s *NodeDataStore) GetTransactionCount(addr types.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.accounts[addr]; ok {
		return acct.nonce, nil
	}
	return 0, nil
}

// GetBlockHash implements NodeDataService.
func (s *NodeDataStore) GetBlockHash(number uint64) (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes[number], nil
}
