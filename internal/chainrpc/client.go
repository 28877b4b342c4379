// Package chainrpc talks to the on-chain channel-manager contract: three
// read calls and one state-changing finalize call, all hand-packed
// rather than routed through an abigen binding.
package chainrpc

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// priorityTip is the fixed EIP-1559 tip added on top of the latest base
// fee, matching the pack's own local settlement relayer.
var priorityTip = big.NewInt(1_000_000_000) // 1 gwei

// Client wraps an ethclient.Client with the channel manager's address,
// chain id, and the sequencer's signing key.
type Client struct {
	eth            *ethclient.Client
	chainID        *big.Int
	channelManager common.Address
	sequencerKey   *ecdsa.PrivateKey
	sequencerAddr  common.Address
}

// Dial connects to rpcURL and returns a Client scoped to channelManager.
func Dial(ctx context.Context, rpcURL string, chainID *big.Int, channelManager common.Address, sequencerKey *ecdsa.PrivateKey) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: dial %s: %w", rpcURL, err)
	}
	return &Client{
		eth:            eth,
		chainID:        chainID,
		channelManager: channelManager,
		sequencerKey:   sequencerKey,
		sequencerAddr:  crypto.PubkeyToAddress(sequencerKey.PublicKey),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// GetUserChannelLength calls getUserChannelLength(owner).
func (c *Client) GetUserChannelLength(ctx context.Context, owner common.Address) (*big.Int, error) {
	result, err := c.call(ctx, packGetUserChannelLength(owner))
	if err != nil {
		return nil, fmt.Errorf("getUserChannelLength: %w", err)
	}
	return decodeUint256(result)
}

// UserChannels calls userChannels(owner, index).
func (c *Client) UserChannels(ctx context.Context, owner common.Address, index *big.Int) ([32]byte, error) {
	result, err := c.call(ctx, packUserChannels(owner, index))
	if err != nil {
		return [32]byte{}, fmt.Errorf("userChannels: %w", err)
	}
	return decodeBytes32(result)
}

// Sequencer calls sequencer(), the contract's configured sequencer address.
func (c *Client) Sequencer(ctx context.Context) (common.Address, error) {
	result, err := c.call(ctx, packSequencer())
	if err != nil {
		return common.Address{}, fmt.Errorf("sequencer: %w", err)
	}
	return decodeAddress(result)
}

func (c *Client) call(ctx context.Context, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &c.channelManager,
		Data: data,
	}, nil)
}

// FinalCloseBySequencer submits finalCloseBySequencer(...) signed by the
// sequencer key and returns the submitted transaction's hash. The
// transaction is not waited on; the caller gets a pending hash.
func (c *Client) FinalCloseBySequencer(ctx context.Context, channelID [32]byte, sequenceNumber, signatureTimestamp *big.Int, recipients []common.Address, balances []*big.Int, userSignature []byte) (common.Hash, error) {
	callData, err := packFinalCloseBySequencer(channelID, sequenceNumber, signatureTimestamp, recipients, balances, userSignature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("finalCloseBySequencer: pack args: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.sequencerAddr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("finalCloseBySequencer: pending nonce: %w", err)
	}

	gasLimit := uint64(300_000)
	if est, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.sequencerAddr,
		To:   &c.channelManager,
		Data: callData,
	}); err == nil {
		gasLimit = est * 12 / 10 // 20% buffer
	}

	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("finalCloseBySequencer: latest header: %w", err)
	}
	feeCap := new(big.Int).Add(header.BaseFee, priorityTip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: priorityTip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &c.channelManager,
		Value:     new(big.Int),
		Data:      callData,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(c.chainID), c.sequencerKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("finalCloseBySequencer: sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("finalCloseBySequencer: send tx: %w", err)
	}
	return signed.Hash(), nil
}
