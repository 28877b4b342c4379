package chainrpc

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hand-packed selector + argument encoding for the channel manager's four
// call signatures. An abigen binding isn't worth pulling in for a
// surface this narrow — the same call here is that this pack's gateway
// example makes for a single well-known ERC-3009 call.
var (
	selGetUserChannelLength  = selector("getUserChannelLength(address)")
	selUserChannels          = selector("userChannels(address,uint256)")
	selSequencer             = selector("sequencer()")
	selFinalCloseBySequencer = selector("finalCloseBySequencer(bytes32,uint256,uint256,address[],uint256[],bytes)")
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func addrPad(a common.Address) []byte {
	padded := make([]byte, 32)
	copy(padded[12:], a.Bytes())
	return padded
}

func packGetUserChannelLength(owner common.Address) []byte {
	data := make([]byte, 4+32)
	copy(data[:4], selGetUserChannelLength)
	copy(data[4:36], addrPad(owner))
	return data
}

func packUserChannels(owner common.Address, index *big.Int) []byte {
	data := make([]byte, 4+64)
	copy(data[:4], selUserChannels)
	copy(data[4:36], addrPad(owner))
	copy(data[36:68], pad32(index))
	return data
}

func packSequencer() []byte {
	return append([]byte(nil), selSequencer...)
}

// packFinalCloseBySequencer ABI-encodes a call to:
//
//	finalCloseBySequencer(bytes32 channelId, uint256 sequenceNumber,
//	    uint256 signatureTimestamp, address[] recipients,
//	    uint256[] balances, bytes userSignature)
//
// using standard head/tail dynamic-array encoding: three static head
// slots, three offset slots, then the dynamic tails in argument order.
func packFinalCloseBySequencer(channelID [32]byte, sequenceNumber, signatureTimestamp *big.Int, recipients []common.Address, balances []*big.Int, userSignature []byte) ([]byte, error) {
	if len(recipients) != len(balances) {
		return nil, fmt.Errorf("recipients/balances length mismatch: %d != %d", len(recipients), len(balances))
	}

	recipientsTail := encodeAddressArray(recipients)
	balancesTail := encodeUintArray(balances)
	sigTail := encodeBytes(userSignature)

	const headSlots = 6
	headSize := headSlots * 32

	recipientsOffset := headSize
	balancesOffset := recipientsOffset + len(recipientsTail)
	sigOffset := balancesOffset + len(balancesTail)

	head := make([]byte, headSize)
	copy(head[0:32], channelID[:])
	copy(head[32:64], pad32(sequenceNumber))
	copy(head[64:96], pad32(signatureTimestamp))
	copy(head[96:128], pad32(big.NewInt(int64(recipientsOffset))))
	copy(head[128:160], pad32(big.NewInt(int64(balancesOffset))))
	copy(head[160:192], pad32(big.NewInt(int64(sigOffset))))

	data := make([]byte, 0, 4+len(head)+len(recipientsTail)+len(balancesTail)+len(sigTail))
	data = append(data, selFinalCloseBySequencer...)
	data = append(data, head...)
	data = append(data, recipientsTail...)
	data = append(data, balancesTail...)
	data = append(data, sigTail...)
	return data, nil
}

func encodeAddressArray(addrs []common.Address) []byte {
	out := make([]byte, 32+len(addrs)*32)
	copy(out[0:32], pad32(big.NewInt(int64(len(addrs)))))
	for i, a := range addrs {
		copy(out[32+i*32:32+(i+1)*32], addrPad(a))
	}
	return out
}

func encodeUintArray(values []*big.Int) []byte {
	out := make([]byte, 32+len(values)*32)
	copy(out[0:32], pad32(big.NewInt(int64(len(values)))))
	for i, v := range values {
		copy(out[32+i*32:32+(i+1)*32], pad32(v))
	}
	return out
}

func encodeBytes(b []byte) []byte {
	words := (len(b) + 31) / 32
	out := make([]byte, 32+words*32)
	copy(out[0:32], pad32(big.NewInt(int64(len(b)))))
	copy(out[32:32+len(b)], b)
	return out
}

func decodeUint256(result []byte) (*big.Int, error) {
	if len(result) < 32 {
		return nil, fmt.Errorf("short return data: %d bytes", len(result))
	}
	return new(big.Int).SetBytes(result[:32]), nil
}

func decodeBytes32(result []byte) ([32]byte, error) {
	var out [32]byte
	if len(result) < 32 {
		return out, fmt.Errorf("short return data: %d bytes", len(result))
	}
	copy(out[:], result[:32])
	return out, nil
}

func decodeAddress(result []byte) (common.Address, error) {
	if len(result) < 32 {
		return common.Address{}, fmt.Errorf("short return data: %d bytes", len(result))
	}
	return common.BytesToAddress(result[12:32]), nil
}
