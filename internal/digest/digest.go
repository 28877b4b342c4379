// Package digest computes the typed-data digest that binds a channel
// update to a signature, for both user signatures and the sequencer's
// countersignature.
package digest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const domainName = "X402CheddrPaymentChannel"
const domainVersion = "1"

var (
	channelDataTypeHash = crypto.Keccak256Hash([]byte(
		"ChannelData(bytes32 channelId,uint256 sequenceNumber,uint256 timestamp,address[] recipients,uint256[] amounts)",
	))
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	nameHash    = crypto.Keccak256Hash([]byte(domainName))
	versionHash = crypto.Keccak256Hash([]byte(domainVersion))
)

// Update holds the fields bound into a single channel-update digest.
type Update struct {
	ChannelID      [32]byte
	SequenceNumber *big.Int
	Timestamp      *big.Int
	Recipients     []common.Address
	Amounts        []*big.Int
}

// Domain identifies the on-chain verifier a digest is scoped to.
type Domain struct {
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Digest computes the 32-byte typed-structured-data digest for u under d.
//
// The recipients/amounts hashing is a deliberate departure from standard
// ABI dynamic-array encoding: each is hashed as the concatenation of its
// raw fixed-width elements (20-byte addresses, 32-byte big-endian
// amounts), not as an ABI-encoded array. This matches the on-chain
// verifier and must not be "corrected" toward the ABI-standard form.
func Digest(u Update, d Domain) [32]byte {
	structHash := structHash(u)
	sep := domainSeparator(d)

	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

func structHash(u Update) [32]byte {
	recipientsHash := hashRecipients(u.Recipients)
	amountsHash := hashAmounts(u.Amounts)

	encoded := make([]byte, 6*32)
	copy(encoded[0:32], channelDataTypeHash[:])
	copy(encoded[32:64], u.ChannelID[:])
	u.SequenceNumber.FillBytes(encoded[64:96])
	u.Timestamp.FillBytes(encoded[96:128])
	copy(encoded[128:160], recipientsHash[:])
	copy(encoded[160:192], amountsHash[:])
	return crypto.Keccak256Hash(encoded)
}

func hashRecipients(recipients []common.Address) [32]byte {
	buf := make([]byte, len(recipients)*20)
	for i, addr := range recipients {
		copy(buf[i*20:(i+1)*20], addr.Bytes())
	}
	return crypto.Keccak256Hash(buf)
}

func hashAmounts(amounts []*big.Int) [32]byte {
	buf := make([]byte, len(amounts)*32)
	for i, amt := range amounts {
		amt.FillBytes(buf[i*32 : (i+1)*32])
	}
	return crypto.Keccak256Hash(buf)
}

func domainSeparator(d Domain) [32]byte {
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	d.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], d.VerifyingContract.Bytes())
	return crypto.Keccak256Hash(encoded)
}
