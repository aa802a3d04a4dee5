package core

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/crypto"
)

var delegateAddr = types.HexToAddress("0x00000000000000000000000000000000000d0d0d")

func newKey(t *testing.T) (*ecdsa.PrivateKey, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func signAuth(t *testing.T, key *ecdsa.PrivateKey, chainID uint64, addr types.Address, nonce uint64) types.SignedAuthorization {
	t.Helper()
	auth := types.Authorization{Address: addr, Nonce: nonce}
	auth.ChainID.SetUint64(chainID)
	signed, err := SignAuthorization(auth, key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestAuthorizationHash_MatchesGeth(t *testing.T) {
	auth := types.Authorization{Address: delegateAddr, Nonce: 7}
	auth.ChainID.SetUint64(137)
	got, err := AuthorizationHash(&auth)
	if err != nil {
		t.Fatal(err)
	}
	ref := gethtypes.SetCodeAuthorization{
		ChainID: *uint256.NewInt(137),
		Address: common.Address(delegateAddr),
		Nonce:   7,
	}
	if want := ref.SigHash(); got != types.Hash(want) {
		t.Fatalf("hash = %s, want %s", got, want)
	}
}

func TestRecoverAuthority_GethSigned(t *testing.T) {
	key, addr := newKey(t)
	ref, err := gethtypes.SignSetCode(key, gethtypes.SetCodeAuthorization{
		ChainID: *uint256.NewInt(1),
		Address: common.Address(delegateAddr),
		Nonce:   3,
	})
	if err != nil {
		t.Fatal(err)
	}
	auth := types.SignedAuthorization{
		Authorization: types.Authorization{ChainID: ref.ChainID, Address: delegateAddr, Nonce: 3},
		V:             ref.V,
		R:             ref.R,
		S:             ref.S,
	}
	got, err := RecoverAuthority(&auth)
	if err != nil {
		t.Fatal(err)
	}
	if got != addr {
		t.Fatalf("authority = %s, want %s", got, addr)
	}
}

func TestRecoverAuthority_InvalidValues(t *testing.T) {
	key, _ := newKey(t)
	good := signAuth(t, key, 1, delegateAddr, 0)

	badV := good
	badV.V = 27
	if _, err := RecoverAuthority(&badV); !errors.Is(err, ErrAuthInvalidSig) {
		t.Errorf("v=27: err = %v, want ErrAuthInvalidSig", err)
	}

	// s' = n - s is a valid but high-S signature.
	n, _ := uint256.FromHex("0xfffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141")
	highS := good
	highS.S.Sub(n, &good.S)
	highS.V ^= 1
	if _, err := RecoverAuthority(&highS); !errors.Is(err, ErrAuthInvalidSig) {
		t.Errorf("high s: err = %v, want ErrAuthInvalidSig", err)
	}

	zeroR := good
	zeroR.R.Clear()
	if _, err := RecoverAuthority(&zeroR); !errors.Is(err, ErrAuthInvalidSig) {
		t.Errorf("zero r: err = %v, want ErrAuthInvalidSig", err)
	}
}

func TestProcessAuthorizations_AnyChain(t *testing.T) {
	key, authority := newKey(t)
	st := state.NewExecutionStateService(state.NewNodeDataStore())

	auths := []types.SignedAuthorization{signAuth(t, key, 0, delegateAddr, 0)}
	refund := ProcessAuthorizations(st, auths, 137)

	code := st.GetCode(authority)
	if len(code) != types.DelegationCodeLength || !bytes.Equal(code, append([]byte{0xef, 0x01, 0x00}, delegateAddr[:]...)) {
		t.Fatalf("code = %x", code)
	}
	if nonce := st.GetNonce(authority); nonce != 1 {
		t.Errorf("nonce = %d, want 1", nonce)
	}
	if refund != 0 {
		t.Errorf("refund for a new authority = %d, want 0", refund)
	}
	if !st.AddressInAccessList(authority) {
		t.Error("authority not warmed")
	}
}

func TestProcessAuthorizations_Skipped(t *testing.T) {
	key, authority := newKey(t)
	tests := []struct {
		name  string
		auth  types.SignedAuthorization
		setup func(*state.NodeDataStore)
	}{
		{"chain mismatch", signAuth(t, key, 1, delegateAddr, 0), nil},
		{"nonce mismatch", signAuth(t, key, 137, delegateAddr, 1), nil},
		{"contract authority", signAuth(t, key, 137, delegateAddr, 0), func(s *state.NodeDataStore) {
			s.SetCode(authority, []byte{0x60, 0x00})
		}},
	}
	for _, tt := range tests {
		store := state.NewNodeDataStore()
		if tt.setup != nil {
			tt.setup(store)
		}
		st := state.NewExecutionStateService(store)
		codeBefore := st.GetCode(authority)

		if refund := ProcessAuthorizations(st, []types.SignedAuthorization{tt.auth}, 137); refund != 0 {
			t.Errorf("%s: refund = %d", tt.name, refund)
		}
		if code := st.GetCode(authority); !bytes.Equal(code, codeBefore) {
			t.Errorf("%s: code changed to %x", tt.name, code)
		}
		if nonce := st.GetNonce(authority); nonce != 0 {
			t.Errorf("%s: nonce = %d, want 0", tt.name, nonce)
		}
	}
}

func TestProcessAuthorizations_ExistingAuthority(t *testing.T) {
	key, authority := newKey(t)
	store := state.NewNodeDataStore()
	store.SetBalance(authority, uint256.NewInt(1))
	store.SetNonce(authority, 4)
	store.SetCode(authority, types.AddressToDelegation(types.Address{0xaa}))
	st := state.NewExecutionStateService(store)

	auths := []types.SignedAuthorization{
		signAuth(t, key, 137, delegateAddr, 4),
		// Stale after the first tuple bumps the nonce.
		signAuth(t, key, 137, types.Address{0xbb}, 4),
		// Clears the delegation.
		signAuth(t, key, 137, types.Address{}, 5),
	}
	refund := ProcessAuthorizations(st, auths, 137)
	if want := 2 * (types.PerEmptyAccountCost - types.PerAuthBaseCost); refund != want {
		t.Errorf("refund = %d, want %d", refund, want)
	}
	if code := st.GetCode(authority); len(code) != 0 {
		t.Errorf("code = %x, want cleared", code)
	}
	if nonce := st.GetNonce(authority); nonce != 6 {
		t.Errorf("nonce = %d, want 6", nonce)
	}
}
