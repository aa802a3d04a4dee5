package core

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/eth2030/evmexec/core/state"
	"github.com/eth2030/evmexec/core/types"
	"github.com/eth2030/evmexec/crypto"
	"github.com/eth2030/evmexec/metrics"
)

// Reasons an authorization tuple is skipped. None of them fail the
// transaction.
var (
	ErrAuthChainID     = errors.New("authorization chain ID mismatch")
	ErrAuthNonce       = errors.New("authorization nonce mismatch")
	ErrAuthNonceMax    = errors.New("authorization nonce at maximum")
	ErrAuthSignature   = errors.New("authorization signature recovery failed")
	ErrAuthInvalidSig  = errors.New("authorization signature values invalid")
	ErrAuthNotDelegate = errors.New("authority has non-delegation code")
)

// AuthorizationHash returns keccak256(0x05 || rlp([chain_id, address, nonce])),
// the digest an authority signs.
func AuthorizationHash(auth *types.Authorization) (types.Hash, error) {
	enc, err := rlp.EncodeToBytes([]any{&auth.ChainID, auth.Address, auth.Nonce})
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Keccak256Hash([]byte{types.AuthMagic}, enc), nil
}

// SignAuthorization signs auth with key.
func SignAuthorization(auth types.Authorization, key *ecdsa.PrivateKey) (types.SignedAuthorization, error) {
	h, err := AuthorizationHash(&auth)
	if err != nil {
		return types.SignedAuthorization{}, err
	}
	sig, err := crypto.Sign(h[:], key)
	if err != nil {
		return types.SignedAuthorization{}, err
	}
	signed := types.SignedAuthorization{Authorization: auth, V: sig[64]}
	signed.R.SetBytes(sig[:32])
	signed.S.SetBytes(sig[32:64])
	return signed, nil
}

// RecoverAuthority returns the account that signed auth. The y-parity must
// be 0 or 1 and S must be in the lower half of the curve order.
func RecoverAuthority(auth *types.SignedAuthorization) (types.Address, error) {
	if auth.V > 1 || !crypto.ValidateSignatureValues(auth.V, auth.R.ToBig(), auth.S.ToBig(), true) {
		return types.Address{}, ErrAuthInvalidSig
	}
	h, err := AuthorizationHash(&auth.Authorization)
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", ErrAuthSignature, err)
	}
	sig := make([]byte, 65)
	r, s := auth.R.Bytes32(), auth.S.Bytes32()
	copy(sig[:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = auth.V
	addr, err := crypto.Ecrecover(h[:], sig)
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", ErrAuthSignature, err)
	}
	return addr, nil
}

// ProcessAuthorizations applies the authorization list of a set-code
// transaction in order and returns the gas to refund for authorities that
// already existed. Invalid tuples are skipped.
//
// The changes are made outside any snapshot the caller takes afterwards,
// so they persist even when the transaction itself reverts.
func ProcessAuthorizations(st *state.ExecutionStateService, auths []types.SignedAuthorization, chainID uint64) uint64 {
	var refund uint64
	for i := range auths {
		gas, err := applyAuthorization(st, &auths[i], chainID)
		if err != nil {
			metrics.AuthorizationsSkipped.Inc()
			logger.Debug("skipping authorization", "index", i, "delegate", auths[i].Address, "err", err)
			continue
		}
		metrics.AuthorizationsApplied.Inc()
		refund += gas
	}
	return refund
}

func applyAuthorization(st *state.ExecutionStateService, auth *types.SignedAuthorization, chainID uint64) (uint64, error) {
	if !auth.ChainID.IsZero() && (!auth.ChainID.IsUint64() || auth.ChainID.Uint64() != chainID) {
		return 0, ErrAuthChainID
	}
	if auth.Nonce == math.MaxUint64 {
		return 0, ErrAuthNonceMax
	}
	authority, err := RecoverAuthority(auth)
	if err != nil {
		return 0, err
	}
	st.AddAddressToAccessList(authority)

	code := st.GetCode(authority)
	if _, ok := types.ParseDelegation(code); len(code) != 0 && !ok {
		return 0, ErrAuthNotDelegate
	}
	if nonce := st.GetNonce(authority); nonce != auth.Nonce {
		return 0, fmt.Errorf("%w: authority %s has %d, tuple has %d", ErrAuthNonce, authority, nonce, auth.Nonce)
	}

	var refund uint64
	if st.Exist(authority) {
		refund = types.PerEmptyAccountCost - types.PerAuthBaseCost
	}
	if auth.Address.IsZero() {
		st.SaveCode(authority, nil)
	} else {
		st.SaveCode(authority, types.AddressToDelegation(auth.Address))
	}
	st.SetNonce(authority, auth.Nonce+1)
	logger.Debug("applied authorization", "authority", authority, "delegate", auth.Address, "nonce", auth.Nonce+1)
	return refund, nil
}
