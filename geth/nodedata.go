package geth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/log"
)

var logger = log.Module("geth")

// DefaultRequestTimeout bounds every JSON-RPC request made by RPCNodeData.
const DefaultRequestTimeout = 10 * time.Second

// RPCNodeData answers state queries from a JSON-RPC node, pinned to one
// block. It is safe for concurrent use.
type RPCNodeData struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	block   *big.Int // nil means latest
	timeout time.Duration
}

var _ state.NodeDataService = (*RPCNodeData)(nil)

// NewRPCNodeData wraps c. A nil block reads the latest state.
func NewRPCNodeData(c *rpc.Client, block *big.Int) *RPCNodeData {
	return &RPCNodeData{
		rpc:     c,
		eth:     ethclient.NewClient(c),
		block:   block,
		timeout: DefaultRequestTimeout,
	}
}

// DialRPCNodeData connects to the node at url.
func DialRPCNodeData(ctx context.Context, url string, block *big.Int) (*RPCNodeData, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	logger.Debug("connected to node", "url", url, "block", blockArg(block))
	return NewRPCNodeData(c, block), nil
}

// WithTimeout returns a copy of d using timeout per request.
func (d *RPCNodeData) WithTimeout(timeout time.Duration) *RPCNodeData {
	cpy := *d
	cpy.timeout = timeout
	return &cpy
}

// Close closes the underlying connection.
func (d *RPCNodeData) Close() { d.rpc.Close() }

func (d *RPCNodeData) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.timeout)
}

// GetBalance implements state.NodeDataService.
func (d *RPCNodeData) GetBalance(addr types.Address) (*uint256.Int, error) {
	ctx, cancel := d.context()
	defer cancel()
	bal, err := d.eth.BalanceAt(ctx, gethcommon.Address(addr), d.block)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance %s: %w", addr, err)
	}
	v, overflow := uint256.FromBig(bal)
	if overflow {
		return nil, fmt.Errorf("eth_getBalance %s: balance %s overflows 256 bits", addr, bal)
	}
	return v, nil
}

// GetCode implements state.NodeDataService.
func (d *RPCNodeData) GetCode(addr types.Address) ([]byte, error) {
	ctx, cancel := d.context()
	defer cancel()
	code, err := d.eth.CodeAt(ctx, gethcommon.Address(addr), d.block)
	if err != nil {
		return nil, fmt.Errorf("eth_getCode %s: %w", addr, err)
	}
	return code, nil
}

// GetStorageAt implements state.NodeDataService.
func (d *RPCNodeData) GetStorageAt(addr types.Address, key types.Hash) (types.Hash, error) {
	ctx, cancel := d.context()
	defer cancel()
	val, err := d.eth.StorageAt(ctx, gethcommon.Address(addr), gethcommon.Hash(key), d.block)
	if err != nil {
		return types.Hash{}, fmt.Errorf("eth_getStorageAt %s %s: %w", addr, key, err)
	}
	return types.BytesToHash(val), nil
}

// GetTransactionCount implements state.NodeDataService.
func (d *RPCNodeData) GetTransactionCount(addr types.Address) (uint64, error) {
	ctx, cancel := d.context()
	defer cancel()
	nonce, err := d.eth.NonceAt(ctx, gethcommon.Address(addr), d.block)
	if err != nil {
		return 0, fmt.Errorf("eth_getTransactionCount %s: %w", addr, err)
	}
	return nonce, nil
}

// GetBlockHash implements state.NodeDataService. Only the hash field of
// the block is decoded. An unknown block yields the zero hash.
func (d *RPCNodeData) GetBlockHash(number uint64) (types.Hash, error) {
	ctx, cancel := d.context()
	defer cancel()
	var head *struct {
		Hash gethcommon.Hash `json:"hash"`
	}
	if err := d.rpc.CallContext(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
		return types.Hash{}, fmt.Errorf("eth_getBlockByNumber %d: %w", number, err)
	}
	if head == nil {
		return types.Hash{}, nil
	}
	return types.Hash(head.Hash), nil
}

func blockArg(block *big.Int) string {
	if block == nil {
		return "latest"
	}
	return hexutil.EncodeBig(block)
}
