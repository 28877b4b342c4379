// Package signer recovers and produces ECDSA signatures over raw
// 32-byte digests, as opposed to the EIP-191 personal-sign convention.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Recover extracts the signer address from a signature over digest.
// sig must be 65 bytes (R || S || V), with V in {0,1} or {27,28}.
//
// Unlike an EIP-191 personal-sign recovery, digest is used directly —
// it is not re-hashed with the "\x19Ethereum Signed Message:\n" prefix.
// digest is itself already a typed-structured-data hash.
func Recover(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("signer: invalid signature length")
	}

	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}

	pub, err := crypto.SigToPub(digest[:], sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("signer: ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a 65-byte R||S||V signature over digest, with V
// normalized to {27,28} for on-chain ecrecover compatibility.
func Sign(digest [32]byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("signer: sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
