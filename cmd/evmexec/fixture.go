package main

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pelletier/go-toml/v2"

	"github.com/eth2030/evmexec/core"
	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/core/vm"
	"github.com/eth2030/evmexec/crypto"
)

// Fixture loading errors.
var (
	ErrFixtureNotFound = errors.New("fixture file not found")
	ErrInvalidFixture  = errors.New("invalid fixture")
)

// Fixture describes a block environment, the accounts a transaction runs
// against and the transaction itself.
type Fixture struct {
	Env      Env                `toml:"env"`
	Accounts map[string]Account `toml:"accounts"`
	Tx       Tx                 `toml:"tx"`
}

// Env is the block environment. Zero values fall back to flag defaults
// where a flag exists.
type Env struct {
	ChainID     uint64                `toml:"chain_id"`
	Fork        string                `toml:"fork"`
	Number      uint64                `toml:"number"`
	Timestamp   uint64                `toml:"timestamp"`
	Coinbase    types.Address         `toml:"coinbase"`
	GasLimit    uint64                `toml:"gas_limit"`
	BaseFee     *Quantity             `toml:"base_fee"`
	BlobBaseFee *Quantity             `toml:"blob_base_fee"`
	Random      types.Hash            `toml:"random"`
	BlockHashes map[string]types.Hash `toml:"block_hashes"`
}

// Account is one pre-state account keyed by its address.
type Account struct {
	Balance *Quantity             `toml:"balance"`
	Nonce   uint64                `toml:"nonce"`
	Code    hexutil.Bytes         `toml:"code"`
	Storage map[string]types.Hash `toml:"storage"`
}

// Tx is the transaction to execute. Its sender is given directly.
type Tx struct {
	Type                 uint8            `toml:"type"`
	From                 types.Address    `toml:"from"`
	To                   *types.Address   `toml:"to"`
	Nonce                uint64           `toml:"nonce"`
	Value                *Quantity        `toml:"value"`
	Gas                  uint64           `toml:"gas"`
	GasPrice             *Quantity        `toml:"gas_price"`
	MaxFeePerGas         *Quantity        `toml:"max_fee_per_gas"`
	MaxPriorityFeePerGas *Quantity        `toml:"max_priority_fee_per_gas"`
	Data                 hexutil.Bytes    `toml:"data"`
	AccessList           types.AccessList `toml:"access_list"`
	BlobHashes           []types.Hash     `toml:"blob_hashes"`
	Authorizations       []AuthEntry      `toml:"authorizations"`
}

// AuthEntry is an EIP-7702 authorization tuple. When SecretKey is set the
// tuple is signed with it and V, R and S are ignored.
type AuthEntry struct {
	ChainID   Quantity      `toml:"chain_id"`
	Address   types.Address `toml:"address"`
	Nonce     uint64        `toml:"nonce"`
	SecretKey string        `toml:"secret_key"`
	V         uint8         `toml:"v"`
	R         Quantity      `toml:"r"`
	S         Quantity      `toml:"s"`
}

// Quantity is a 256-bit unsigned integer written as a decimal or
// 0x-prefixed hex string. TOML integer literals are accepted too; the
// decoder passes their source text through UnmarshalText, so only values
// above 2^63-1 need the string form.
type Quantity uint256.Int

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quantity) UnmarshalText(text []byte) error {
	s := strings.ReplaceAll(string(text), "_", "")
	base := 10
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid quantity %q", text)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return fmt.Errorf("quantity %q overflows 256 bits", text)
	}
	*q = Quantity(*u)
	return nil
}

// Int returns q as a uint256, nil when q is nil.
func (q *Quantity) Int() *uint256.Int {
	if q == nil {
		return nil
	}
	return new(uint256.Int).Set((*uint256.Int)(q))
}

// LoadFixture reads and decodes the TOML fixture at path. Unknown keys are
// rejected.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFixtureNotFound, path)
		}
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a TOML fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%w: line %d column %d: %v", ErrInvalidFixture, row, col, derr)
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFixture, serr.String())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return &f, nil
}

// PreState builds the in-memory store holding the fixture accounts and
// block hashes, along with the set of addresses it defines.
func (f *Fixture) PreState() (*state.NodeDataStore, map[types.Address]bool, error) {
	store := state.NewNodeDataStore()
	known := make(map[types.Address]bool, len(f.Accounts))
	for key, acct := range f.Accounts {
		var addr types.Address
		if err := addr.UnmarshalText([]byte(key)); err != nil {
			return nil, nil, fmt.Errorf("%w: account %q: %v", ErrInvalidFixture, key, err)
		}
		known[addr] = true
		if bal := acct.Balance.Int(); bal != nil {
			store.SetBalance(addr, bal)
		}
		store.SetNonce(addr, acct.Nonce)
		store.SetCode(addr, acct.Code)
		for k, v := range acct.Storage {
			var slot types.Hash
			if err := slot.UnmarshalText([]byte(k)); err != nil {
				return nil, nil, fmt.Errorf("%w: account %s slot %q: %v", ErrInvalidFixture, addr, k, err)
			}
			store.SetStorage(addr, slot, v)
		}
	}
	for k, h := range f.Env.BlockHashes {
		n, err := strconv.ParseUint(k, 0, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: block hash key %q: %v", ErrInvalidFixture, k, err)
		}
		store.SetBlockHash(n, h)
	}
	return store, known, nil
}

// Block returns the block context of the environment.
func (e *Env) Block() *vm.BlockContext {
	return &vm.BlockContext{
		Number:      e.Number,
		Timestamp:   e.Timestamp,
		Coinbase:    e.Coinbase,
		GasLimit:    e.GasLimit,
		BaseFee:     e.BaseFee.Int(),
		BlobBaseFee: e.BlobBaseFee.Int(),
		Difficulty:  e.Random,
	}
}

// Transaction converts the fixture transaction, signing any authorization
// that carries a secret key.
func (t *Tx) Transaction(chainID uint64) (*types.Transaction, error) {
	tx := &types.Transaction{
		Type:                 t.Type,
		ChainID:              chainID,
		Nonce:                t.Nonce,
		From:                 t.From,
		To:                   t.To,
		Value:                t.Value.Int(),
		Gas:                  t.Gas,
		GasPrice:             t.GasPrice.Int(),
		MaxFeePerGas:         t.MaxFeePerGas.Int(),
		MaxPriorityFeePerGas: t.MaxPriorityFeePerGas.Int(),
		Data:                 t.Data,
		AccessList:           t.AccessList,
		BlobHashes:           t.BlobHashes,
	}
	if tx.Value == nil {
		tx.Value = new(uint256.Int)
	}
	for i, entry := range t.Authorizations {
		auth, err := entry.sign()
		if err != nil {
			return nil, fmt.Errorf("%w: authorization %d: %v", ErrInvalidFixture, i, err)
		}
		tx.AuthorizationList = append(tx.AuthorizationList, auth)
	}
	return tx, nil
}

func (a *AuthEntry) sign() (types.SignedAuthorization, error) {
	auth := types.Authorization{
		ChainID: uint256.Int(a.ChainID),
		Address: a.Address,
		Nonce:   a.Nonce,
	}
	if a.SecretKey == "" {
		return types.SignedAuthorization{
			Authorization: auth,
			V:             a.V,
			R:             uint256.Int(a.R),
			S:             uint256.Int(a.S),
		}, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(a.SecretKey, "0x"))
	if err != nil {
		return types.SignedAuthorization{}, err
	}
	return core.SignAuthorization(auth, key)
}
