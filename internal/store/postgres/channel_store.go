package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/x402cheddr/sequencer/internal/channel"
)

// ChannelStore implements channel.Store using PostgreSQL.
type ChannelStore struct {
	pool *pgxpool.Pool
}

// NewChannelStore creates a ChannelStore backed by the given connection pool.
func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{pool: pool}
}

const channelSelectCols = `channel_id, owner, balance, expiry_ts, sequence_number,
	user_signature, sequencer_signature, signature_timestamp`

// LoadAll returns every persisted channel with recipients ordered by
// position ascending. Any field that fails to parse is a fatal load
// error — an operator needs to know their store is corrupted, not have
// the sequencer silently run with a zeroed field.
func (s *ChannelStore) LoadAll(ctx context.Context) (map[string]*channel.State, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+channelSelectCols+" FROM channels")
	if err != nil {
		return nil, fmt.Errorf("postgres: load channels: %w", err)
	}

	out := make(map[string]*channel.State)
	for rows.Next() {
		cs, err := scanChannelRow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: parse channel row: %w", err)
		}
		out[cs.ChannelIDHex()] = cs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load channels: %w", err)
	}
	rows.Close()

	for id, cs := range out {
		recipients, err := s.loadRecipients(ctx, id)
		if err != nil {
			return nil, err
		}
		cs.Recipients = recipients
	}
	return out, nil
}

func scanChannelRow(row pgx.Rows) (*channel.State, error) {
	var (
		channelIDHex, ownerHex, balanceText string
		expiryTs, sequenceNumber            int64
		userSigHex, sequencerSigHex         string
		signatureTimestamp                  int64
	)
	if err := row.Scan(
		&channelIDHex, &ownerHex, &balanceText, &expiryTs, &sequenceNumber,
		&userSigHex, &sequencerSigHex, &signatureTimestamp,
	); err != nil {
		return nil, err
	}

	channelID, err := parseChannelID(channelIDHex)
	if err != nil {
		return nil, fmt.Errorf("channel_id %q: %w", channelIDHex, err)
	}
	if !common.IsHexAddress(ownerHex) {
		return nil, fmt.Errorf("owner %q: not a valid address", ownerHex)
	}
	balance, ok := new(big.Int).SetString(balanceText, 10)
	if !ok {
		return nil, fmt.Errorf("balance %q: not a valid integer", balanceText)
	}
	userSig, err := parseHexBytes(userSigHex)
	if err != nil {
		return nil, fmt.Errorf("user_signature: %w", err)
	}
	sequencerSig, err := parseHexBytes(sequencerSigHex)
	if err != nil {
		return nil, fmt.Errorf("sequencer_signature: %w", err)
	}

	return &channel.State{
		ChannelID:          channelID,
		Owner:              common.HexToAddress(ownerHex),
		Balance:            balance,
		ExpiryTs:           uint64(expiryTs),
		SequenceNumber:     uint64(sequenceNumber),
		UserSignature:      userSig,
		SequencerSignature: sequencerSig,
		SignatureTimestamp: uint64(signatureTimestamp),
	}, nil
}

func (s *ChannelStore) loadRecipients(ctx context.Context, channelIDHex string) ([]channel.RecipientBalance, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT address, balance, position FROM recipients WHERE channel_id = $1 ORDER BY position ASC",
		channelIDHex,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load recipients for %s: %w", channelIDHex, err)
	}
	defer rows.Close()

	var out []channel.RecipientBalance
	for rows.Next() {
		var addressHex, balanceText string
		var position int
		if err := rows.Scan(&addressHex, &balanceText, &position); err != nil {
			return nil, fmt.Errorf("postgres: parse recipient row for %s: %w", channelIDHex, err)
		}
		if !common.IsHexAddress(addressHex) {
			return nil, fmt.Errorf("postgres: recipient address %q for %s: not a valid address", addressHex, channelIDHex)
		}
		balance, ok := new(big.Int).SetString(balanceText, 10)
		if !ok {
			return nil, fmt.Errorf("postgres: recipient balance %q for %s: not a valid integer", balanceText, channelIDHex)
		}
		out = append(out, channel.RecipientBalance{
			Address:  common.HexToAddress(addressHex),
			Balance:  balance,
			Position: position,
		})
	}
	return out, rows.Err()
}

// Save upserts the channel header and all current recipient rows in a
// single transaction. Recipient rows are only ever inserted or updated
// in place — never deleted — matching the protocol's additive-only
// recipient design.
func (s *ChannelStore) Save(ctx context.Context, cs *channel.State) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save %s: %w", cs.ChannelIDHex(), err)
	}
	defer tx.Rollback(ctx)

	const upsertChannel = `
		INSERT INTO channels (
			channel_id, owner, balance, expiry_ts, sequence_number,
			user_signature, sequencer_signature, signature_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (channel_id) DO UPDATE SET
			sequence_number     = EXCLUDED.sequence_number,
			user_signature      = EXCLUDED.user_signature,
			sequencer_signature = EXCLUDED.sequencer_signature,
			signature_timestamp = EXCLUDED.signature_timestamp`

	_, err = tx.Exec(ctx, upsertChannel,
		cs.ChannelIDHex(), strings.ToLower(cs.Owner.Hex()), cs.Balance.String(), int64(cs.ExpiryTs), int64(cs.SequenceNumber),
		formatHexBytes(cs.UserSignature), formatHexBytes(cs.SequencerSignature), int64(cs.SignatureTimestamp),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert channel %s: %w", cs.ChannelIDHex(), err)
	}

	const upsertRecipient = `
		INSERT INTO recipients (channel_id, address, balance, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id, address) DO UPDATE SET
			balance  = EXCLUDED.balance,
			position = EXCLUDED.position`

	for _, r := range cs.Recipients {
		if _, err := tx.Exec(ctx, upsertRecipient,
			cs.ChannelIDHex(), strings.ToLower(r.Address.Hex()), r.Balance.String(), r.Position,
		); err != nil {
			return fmt.Errorf("postgres: upsert recipient %s/%s: %w", cs.ChannelIDHex(), r.Address.Hex(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save %s: %w", cs.ChannelIDHex(), err)
	}
	return nil
}

func parseChannelID(hexStr string) ([32]byte, error) {
	var out [32]byte
	b := common.FromHex(hexStr)
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseHexBytes(hexStr string) ([]byte, error) {
	if hexStr == "" {
		return nil, nil
	}
	return hexutil.Decode(hexStr)
}

func formatHexBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + common.Bytes2Hex(b)
}
