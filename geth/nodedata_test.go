package geth

import (
	"bytes"
	"errors"
	"math/big"
	"sync"
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
)

var (
	remoteAccount = gethcommon.HexToAddress("0x00000000000000000000000000000000000ba1a0")
	remoteSlot    = gethcommon.HexToHash("0x01")
	remoteHash    = gethcommon.HexToHash("0xabcdef")
)

// fakeEth serves the eth_ methods RPCNodeData uses and records the block
// argument of each request.
type fakeEth struct {
	mu     sync.Mutex
	blocks []string
}

func (f *fakeEth) seen(block string) {
	f.mu.Lock()
	f.blocks = append(f.blocks, block)
	f.mu.Unlock()
}

func (f *fakeEth) GetBalance(addr gethcommon.Address, block string) (*hexutil.Big, error) {
	f.seen(block)
	if addr != remoteAccount {
		return (*hexutil.Big)(new(big.Int)), nil
	}
	return (*hexutil.Big)(big.NewInt(5000)), nil
}

func (f *fakeEth) GetCode(addr gethcommon.Address, block string) (hexutil.Bytes, error) {
	f.seen(block)
	if addr != remoteAccount {
		return nil, nil
	}
	return hexutil.Bytes{0x60, 0x01, 0x00}, nil
}

func (f *fakeEth) GetStorageAt(addr gethcommon.Address, key gethcommon.Hash, block string) (hexutil.Bytes, error) {
	f.seen(block)
	if addr == remoteAccount && key == remoteSlot {
		return gethcommon.LeftPadBytes([]byte{0x2a}, 32), nil
	}
	return make(hexutil.Bytes, 32), nil
}

func (f *fakeEth) GetTransactionCount(addr gethcommon.Address, block string) (hexutil.Uint64, error) {
	f.seen(block)
	if addr != remoteAccount {
		return 0, nil
	}
	return 7, nil
}

func (f *fakeEth) GetBlockByNumber(number hexutil.Uint64, full bool) (map[string]any, error) {
	if number != 99 {
		return nil, nil
	}
	return map[string]any{"number": number, "hash": remoteHash}, nil
}

func newFakeNode(t *testing.T, block *big.Int) (*RPCNodeData, *fakeEth) {
	t.Helper()
	srv := rpc.NewServer()
	fake := new(fakeEth)
	if err := srv.RegisterName("eth", fake); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)
	nd := NewRPCNodeData(rpc.DialInProc(srv), block)
	t.Cleanup(nd.Close)
	return nd, fake
}

func TestRPCNodeData_Queries(t *testing.T) {
	nd, fake := newFakeNode(t, big.NewInt(100))
	addr := types.Address(remoteAccount)

	bal, err := nd.GetBalance(addr)
	if err != nil || bal.Uint64() != 5000 {
		t.Errorf("balance = %v, %v", bal, err)
	}
	code, err := nd.GetCode(addr)
	if err != nil || !bytes.Equal(code, []byte{0x60, 0x01, 0x00}) {
		t.Errorf("code = %x, %v", code, err)
	}
	val, err := nd.GetStorageAt(addr, types.Hash(remoteSlot))
	if err != nil || val != types.BytesToHash([]byte{0x2a}) {
		t.Errorf("storage = %s, %v", val, err)
	}
	nonce, err := nd.GetTransactionCount(addr)
	if err != nil || nonce != 7 {
		t.Errorf("nonce = %d, %v", nonce, err)
	}
	for _, b := range fake.blocks {
		if b != "0x64" {
			t.Errorf("request pinned to %q, want 0x64", b)
		}
	}

	h, err := nd.GetBlockHash(99)
	if err != nil || h != types.Hash(remoteHash) {
		t.Errorf("hash of 99 = %s, %v", h, err)
	}
	h, err = nd.GetBlockHash(5)
	if err != nil || !h.IsZero() {
		t.Errorf("hash of unknown block = %s, %v", h, err)
	}
}

func TestRPCNodeData_Latest(t *testing.T) {
	nd, fake := newFakeNode(t, nil)
	if _, err := nd.GetTransactionCount(types.Address{0x01}); err != nil {
		t.Fatal(err)
	}
	if len(fake.blocks) != 1 || fake.blocks[0] != "latest" {
		t.Errorf("blocks = %v, want [latest]", fake.blocks)
	}
}

func TestRPCNodeData_BacksExecutionState(t *testing.T) {
	nd, _ := newFakeNode(t, big.NewInt(100))
	st := state.NewExecutionStateService(nd)
	addr := types.Address(remoteAccount)

	if got := st.GetBalance(addr); !got.Eq(uint256.NewInt(5000)) {
		t.Errorf("balance = %s", got)
	}
	if got := st.GetNonce(addr); got != 7 {
		t.Errorf("nonce = %d", got)
	}
	if got := st.GetFromStorage(addr, types.Hash(remoteSlot)); got != types.BytesToHash([]byte{0x2a}) {
		t.Errorf("slot = %s", got)
	}
	if got := st.GetBlockHash(99); got != types.Hash(remoteHash) {
		t.Errorf("block hash = %s", got)
	}
	if err := st.Error(); err != nil {
		t.Fatalf("state error: %v", err)
	}
}

func TestRPCNodeData_ErrorsSurface(t *testing.T) {
	srv := rpc.NewServer()
	t.Cleanup(srv.Stop)
	// No eth service registered: every call fails.
	nd := NewRPCNodeData(rpc.DialInProc(srv), nil)
	t.Cleanup(nd.Close)

	if _, err := nd.GetBalance(types.Address{1}); err == nil {
		t.Fatal("expected an error from a node without eth_getBalance")
	}
	st := state.NewExecutionStateService(nd)
	st.GetCode(types.Address{1})
	var rpcErr rpc.Error
	if err := st.Error(); err == nil || !errors.As(err, &rpcErr) {
		t.Errorf("state error = %v, want wrapped rpc error", err)
	}
}
