package channel

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/x402cheddr/sequencer/internal/digest"
	"github.com/x402cheddr/sequencer/internal/signer"
)

// ChainAdapter is the subset of internal/chainrpc.Client the engine needs.
// Declared here, implemented there, so the engine's tests can fake it.
type ChainAdapter interface {
	GetUserChannelLength(ctx context.Context, owner common.Address) (*big.Int, error)
	UserChannels(ctx context.Context, owner common.Address, index *big.Int) ([32]byte, error)
	Sequencer(ctx context.Context) (common.Address, error)
	FinalCloseBySequencer(ctx context.Context, channelID [32]byte, sequenceNumber, signatureTimestamp *big.Int, recipients []common.Address, balances []*big.Int, userSignature []byte) (common.Hash, error)
}

// maxTimestampSkew bounds how far into the future a client-supplied
// update timestamp may claim to be, tolerating clock drift.
const maxTimestampSkew = 15 * 60 * time.Second

// storeWriteTimeout bounds a store write made on a context detached from
// the caller's, so an abandoned request cannot cancel a write mid-flight.
const storeWriteTimeout = 30 * time.Second

// Engine is the update state machine: seed, validate, settle, finalize.
type Engine struct {
	registry *Registry
	store    Store
	chain    ChainAdapter
	log      *zap.Logger

	chainID           *big.Int
	verifyingContract common.Address
	maxRecipients     int
	sequencerKey      *ecdsa.PrivateKey
}

// Config holds the fixed parameters an Engine is constructed with.
type Config struct {
	ChainID           *big.Int
	VerifyingContract common.Address
	MaxRecipients     int
	SequencerKey      *ecdsa.PrivateKey
}

// NewEngine constructs an engine over the given registry, store, and
// chain adapter.
func NewEngine(registry *Registry, store Store, chain ChainAdapter, log *zap.Logger, cfg Config) *Engine {
	return &Engine{
		registry:          registry,
		store:             store,
		chain:             chain,
		log:               log,
		chainID:           cfg.ChainID,
		verifyingContract: cfg.VerifyingContract,
		maxRecipients:     cfg.MaxRecipients,
		sequencerKey:      cfg.SequencerKey,
	}
}

// SelfCheck verifies the configured sequencer key matches the channel
// manager's configured sequencer address. Called once at startup; the
// caller is expected to treat a non-nil error as fatal.
func (e *Engine) SelfCheck(ctx context.Context) error {
	onChain, err := e.chain.Sequencer(ctx)
	if err != nil {
		return fmt.Errorf("sequencer self-check: %w", err)
	}
	configured := crypto.PubkeyToAddress(e.sequencerKey.PublicKey)
	if onChain != configured {
		return fmt.Errorf("sequencer self-check: configured key resolves to %s, contract expects %s", configured.Hex(), onChain.Hex())
	}
	return nil
}

// SeedRequest is the input to Seed.
type SeedRequest struct {
	ChannelID       [32]byte
	Owner           common.Address
	Balance         *big.Int
	ExpiryTimestamp uint64
}

// Seed creates a brand-new channel at sequence 0 with no recipients and
// no signatures. Re-seeding an already-registered channel id is
// rejected rather than silently overwritten.
func (e *Engine) Seed(ctx context.Context, req SeedRequest) (*State, error) {
	if req.ExpiryTimestamp == 0 {
		return nil, BadRequest("expiryTimestamp must be positive")
	}
	if req.Balance == nil || req.Balance.Sign() < 0 {
		return nil, BadRequest("balance must be a non-negative integer")
	}

	s := &State{
		ChannelID:  req.ChannelID,
		Owner:      req.Owner,
		Balance:    new(big.Int).Set(req.Balance),
		ExpiryTs:   req.ExpiryTimestamp,
		Recipients: nil,
	}

	if !e.registry.Insert(s.ChannelIDHex(), s) {
		return nil, BadRequest("channel already exists")
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if err := e.store.Save(saveCtx, s); err != nil {
		e.log.Error("seed: save channel", zap.String("channelId", s.ChannelIDHex()), zap.Error(err))
		return nil, Internal(err, "seed: save channel")
	}
	e.log.Info("channel seeded", zap.String("channelId", s.ChannelIDHex()), zap.String("owner", s.Owner.Hex()))
	return s.Clone(), nil
}

// SettleRequest is the input to both Validate and Settle.
type SettleRequest struct {
	ChannelID      string
	Amount         *big.Int
	Receiver       common.Address
	SequenceNumber uint64
	Timestamp      uint64
	UserSignature  []byte
	Fee            *FeeRequest
}

// FeeRequest names an optional per-payment fee destination.
type FeeRequest struct {
	Address common.Address
	Amount  *big.Int
}

// Validate runs every check Settle would, without mutating the registry
// or store, and returns the state the update would produce.
func (e *Engine) Validate(ctx context.Context, req SettleRequest) (*State, error) {
	var result *State
	found, err := e.registry.View(req.ChannelID, func(current *State) error {
		next, idempotent, verr := e.evaluate(current, req, false)
		if verr != nil {
			return verr
		}
		if idempotent {
			result = current.Clone()
			return nil
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, NotFound("channel not found: %s", req.ChannelID)
	}
	return result, nil
}

// Settle validates req against the channel's current state and, if
// accepted, persists and installs the new state. An idempotent retry of
// the already-accepted update returns the existing state without
// mutation.
func (e *Engine) Settle(ctx context.Context, req SettleRequest) (*State, error) {
	next, found, err := e.registry.Mutate(req.ChannelID, func(current *State) (*State, error) {
		candidate, idempotent, verr := e.evaluate(current, req, true)
		if verr != nil {
			return nil, verr
		}
		if idempotent {
			return nil, nil // no mutation; Mutate returns a clone of current
		}

		// Persist before installing into the registry so a store
		// failure leaves the pre-call state intact.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
		defer cancel()
		if serr := e.store.Save(saveCtx, candidate); serr != nil {
			e.log.Error("settle: save channel", zap.String("channelId", req.ChannelID), zap.Error(serr))
			return nil, Internal(serr, "settle: save channel")
		}
		return candidate, nil
	})
	if err != nil {
		if badReq, ok := err.(*Error); ok && badReq.Kind == KindBadRequest {
			e.log.Warn("settle rejected", zap.String("channelId", req.ChannelID), zap.String("reason", badReq.Msg))
		}
		return nil, err
	}
	if !found {
		return nil, NotFound("channel not found: %s", req.ChannelID)
	}
	return next, nil
}

// evaluate performs every settle check against current and returns
// either the candidate next state, or (nil, true, nil) for an idempotent
// replay of the already-accepted update. sign controls whether the
// candidate carries a real sequencer countersignature: Settle passes
// true, Validate passes false so a preview never produces a signature
// over an update that was never committed.
func (e *Engine) evaluate(current *State, req SettleRequest, sign bool) (candidate *State, idempotent bool, err error) {
	if req.SequenceNumber == current.SequenceNumber {
		if bytes.Equal(req.UserSignature, current.UserSignature) && req.Timestamp == current.SignatureTimestamp {
			return nil, true, nil
		}
		return nil, false, BadRequest("sequence already processed")
	}
	if req.SequenceNumber != current.SequenceNumber+1 {
		return nil, false, BadRequest("invalid sequence number")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, false, BadRequest("amount must be positive")
	}

	now := uint64(time.Now().Unix())
	maxSkew := uint64(maxTimestampSkew.Seconds())
	if req.Timestamp > now+maxSkew {
		return nil, false, BadRequest("timestamp too far in the future")
	}
	if req.Timestamp > current.ExpiryTs {
		return nil, false, BadRequest("timestamp past channel expiry")
	}

	recipients := cloneRecipients(current.Recipients)
	recipients = addRecipient(recipients, req.Receiver, req.Amount)
	if req.Fee != nil && req.Fee.Amount != nil {
		recipients = addRecipient(recipients, req.Fee.Address, req.Fee.Amount)
	}

	if len(recipients) > e.maxRecipients {
		return nil, false, BadRequest("max recipients exceeded")
	}

	total := new(big.Int)
	for _, r := range recipients {
		total.Add(total, r.Balance)
	}
	if total.Cmp(current.Balance) > 0 {
		return nil, false, BadRequest("exceeds channel capacity")
	}

	d := digest.Digest(digest.Update{
		ChannelID:      current.ChannelID,
		SequenceNumber: new(big.Int).SetUint64(req.SequenceNumber),
		Timestamp:      new(big.Int).SetUint64(req.Timestamp),
		Recipients:     recipientAddresses(recipients),
		Amounts:        recipientAmounts(recipients),
	}, digest.Domain{ChainID: e.chainID, VerifyingContract: e.verifyingContract})

	signerAddr, rerr := signer.Recover(d, req.UserSignature)
	if rerr != nil {
		return nil, false, BadRequest("invalid user signature")
	}
	if signerAddr != current.Owner {
		return nil, false, BadRequest("invalid user signature")
	}

	var sequencerSig []byte
	if sign {
		var serr error
		sequencerSig, serr = signer.Sign(d, e.sequencerKey)
		if serr != nil {
			return nil, false, BadRequest("sequencer signing failed: %v", serr)
		}
	}

	next := current.Clone()
	next.SequenceNumber = req.SequenceNumber
	next.UserSignature = append([]byte(nil), req.UserSignature...)
	next.SequencerSignature = sequencerSig
	next.SignatureTimestamp = req.Timestamp
	next.Recipients = recipients
	return next, false, nil
}

// addRecipient increments addr's existing balance if present, or
// appends a new entry at the next position. A zero amount is a no-op.
func addRecipient(recipients []RecipientBalance, addr common.Address, amount *big.Int) []RecipientBalance {
	if amount.Sign() == 0 {
		return recipients
	}
	for i := range recipients {
		if recipients[i].Address == addr {
			recipients[i].Balance = new(big.Int).Add(recipients[i].Balance, amount)
			return recipients
		}
	}
	return append(recipients, RecipientBalance{
		Address:  addr,
		Balance:  new(big.Int).Set(amount),
		Position: len(recipients),
	})
}

func cloneRecipients(recipients []RecipientBalance) []RecipientBalance {
	out := make([]RecipientBalance, len(recipients))
	for i, r := range recipients {
		out[i] = RecipientBalance{Address: r.Address, Balance: new(big.Int).Set(r.Balance), Position: r.Position}
	}
	return out
}

func recipientAddresses(recipients []RecipientBalance) []common.Address {
	out := make([]common.Address, len(recipients))
	for i, r := range recipients {
		out[i] = r.Address
	}
	return out
}

func recipientAmounts(recipients []RecipientBalance) []*big.Int {
	out := make([]*big.Int, len(recipients))
	for i, r := range recipients {
		out[i] = r.Balance
	}
	return out
}

// Get returns the current view of a channel, or NotFound.
func (e *Engine) Get(channelID string) (*State, error) {
	s, ok := e.registry.Get(channelID)
	if !ok {
		return nil, NotFound("channel not found: %s", channelID)
	}
	return s, nil
}

// Finalize submits the channel's latest accepted update to the
// settlement contract and returns the resulting transaction hash.
func (e *Engine) Finalize(ctx context.Context, channelID string) (common.Hash, error) {
	var (
		snapshot *State
		ferr     error
	)
	found, err := e.registry.View(channelID, func(current *State) error {
		if len(current.UserSignature) == 0 || current.SignatureTimestamp == 0 {
			ferr = BadRequest("channel has no accepted update to finalize")
			return nil
		}
		now := uint64(time.Now().Unix())
		if current.SignatureTimestamp > now+uint64(maxTimestampSkew.Seconds()) || current.SignatureTimestamp > current.ExpiryTs {
			ferr = BadRequest("stored update timestamp is out of bounds")
			return nil
		}
		d := digest.Digest(digest.Update{
			ChannelID:      current.ChannelID,
			SequenceNumber: new(big.Int).SetUint64(current.SequenceNumber),
			Timestamp:      new(big.Int).SetUint64(current.SignatureTimestamp),
			Recipients:     recipientAddresses(current.Recipients),
			Amounts:        recipientAmounts(current.Recipients),
		}, digest.Domain{ChainID: e.chainID, VerifyingContract: e.verifyingContract})

		signerAddr, rerr := signer.Recover(d, current.UserSignature)
		if rerr != nil || signerAddr != current.Owner {
			ferr = BadRequest("stored user signature no longer recovers to owner")
			return nil
		}
		snapshot = current.Clone()
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	if !found {
		return common.Hash{}, NotFound("channel not found: %s", channelID)
	}
	if ferr != nil {
		return common.Hash{}, ferr
	}

	txHash, cerr := e.chain.FinalCloseBySequencer(ctx,
		snapshot.ChannelID,
		new(big.Int).SetUint64(snapshot.SequenceNumber),
		new(big.Int).SetUint64(snapshot.SignatureTimestamp),
		recipientAddresses(snapshot.Recipients),
		recipientAmounts(snapshot.Recipients),
		snapshot.UserSignature,
	)
	if cerr != nil {
		return common.Hash{}, BadRequest("finalize: %v", cerr)
	}
	return txHash, nil
}

// ListByOwner queries the channel manager directly; the registry plays
// no part since channel ownership is an on-chain fact.
func (e *Engine) ListByOwner(ctx context.Context, owner common.Address) ([]string, error) {
	length, err := e.chain.GetUserChannelLength(ctx, owner)
	if err != nil {
		return nil, BadRequest("list channels: %v", err)
	}

	ids := make([]string, 0, length.Int64())
	for i := int64(0); i < length.Int64(); i++ {
		id, err := e.chain.UserChannels(ctx, owner, big.NewInt(i))
		if err != nil {
			return nil, BadRequest("list channels: %v", err)
		}
		ids = append(ids, "0x"+common.Bytes2Hex(id[:]))
	}
	return ids, nil
}
