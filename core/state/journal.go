package state

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/types"
)

// journalEntry is a revertible state change.
type journalEntry interface {
	revert(s *ExecutionStateService)
}

// snapshotMark ties a snapshot id to the journal length when it was taken.
type snapshotMark struct {
	id    int
	index int
}

// journal tracks state modifications for snapshot/revert. Outstanding
// snapshots form a stack ordered by id.
type journal struct {
	entries   []journalEntry
	snapshots []snapshotMark
	nextID    int
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

func (j *journal) length() int {
	return len(j.entries)
}

func (j *journal) snapshot() int {
	id := j.nextID
	j.nextID++
	j.snapshots = append(j.snapshots, snapshotMark{id: id, index: len(j.entries)})
	return id
}

// find returns the stack position of an outstanding snapshot id.
func (j *journal) find(id int) (int, bool) {
	for i := len(j.snapshots) - 1; i >= 0; i-- {
		if j.snapshots[i].id == id {
			return i, true
		}
		if j.snapshots[i].id < id {
			break
		}
	}
	return 0, false
}

func (j *journal) revertToSnapshot(id int, s *ExecutionStateService) error {
	pos, ok := j.find(id)
	if !ok {
		return invalidSnapshot(id)
	}
	idx := j.snapshots[pos].index
	for i := len(j.entries) - 1; i >= idx; i-- {
		j.entries[i].revert(s)
	}
	j.entries = j.entries[:idx]
	j.snapshots = j.snapshots[:pos]
	return nil
}

// commitSnapshot drops the snapshot and everything younger. The entries stay
// so an older outstanding snapshot can still undo them.
func (j *journal) commitSnapshot(id int) error {
	pos, ok := j.find(id)
	if !ok {
		return invalidSnapshot(id)
	}
	j.snapshots = j.snapshots[:pos]
	if len(j.snapshots) == 0 {
		j.entries = j.entries[:0]
	}
	return nil
}

// --- Concrete journal entries ---

type createContractChange struct {
	addr types.Address
	prev bool
}

func (ch createContractChange) revert(s *ExecutionStateService) {
	s.accounts[ch.addr].createdInTx = ch.prev
}

type initialBalanceChange struct {
	addr       types.Address
	prev       *uint256.Int
	prevLoaded bool
}

func (ch initialBalanceChange) revert(s *ExecutionStateService) {
	acct := s.accounts[ch.addr]
	acct.InitialChainBalance = ch.prev
	acct.balanceLoaded = ch.prevLoaded
}

type internalBalanceChange struct {
	addr types.Address
	prev *big.Int
}

func (ch internalBalanceChange) revert(s *ExecutionStateService) {
	s.accounts[ch.addr].InternalBalance = ch.prev
}

type nonceChange struct {
	addr types.Address
	prev uint64
}

func (ch nonceChange) revert(s *ExecutionStateService) {
	s.accounts[ch.addr].Nonce = ch.prev
}

type codeChange struct {
	addr     types.Address
	prevCode []byte
}

func (ch codeChange) revert(s *ExecutionStateService) {
	s.accounts[ch.addr].Code = ch.prevCode
}

type storageChange struct {
	addr types.Address
	key  types.Hash
	prev types.Hash
}

func (ch storageChange) revert(s *ExecutionStateService) {
	s.accounts[ch.addr].Storage[ch.key] = ch.prev
}

type selfDestructChange struct {
	addr types.Address
	prev bool
}

func (ch selfDestructChange) revert(s *ExecutionStateService) {
	s.accounts[ch.addr].selfDestructed = ch.prev
}

type transientStorageChange struct {
	addr types.Address
	key  types.Hash
	prev types.Hash
}

func (ch transientStorageChange) revert(s *ExecutionStateService) {
	s.setTransient(ch.addr, ch.key, ch.prev)
}

type accessListAddAccountChange struct {
	addr types.Address
}

func (ch accessListAddAccountChange) revert(s *ExecutionStateService) {
	s.accessList.deleteAddress(ch.addr)
}

type accessListAddSlotChange struct {
	addr types.Address
	slot types.Hash
}

func (ch accessListAddSlotChange) revert(s *ExecutionStateService) {
	s.accessList.deleteSlot(ch.addr, ch.slot)
}

type addLogChange struct{}

func (ch addLogChange) revert(s *ExecutionStateService) {
	s.logs = s.logs[:len(s.logs)-1]
}
