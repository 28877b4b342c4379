package httpapi

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402cheddr/sequencer/internal/channel"
)

// recipientView is one recipient entry in an outward-facing channel view.
type recipientView struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Position int    `json:"position"`
}

// channelView is the JSON shape returned for a channel in every endpoint
// that exposes one.
type channelView struct {
	ChannelID          string           `json:"channelId"`
	Owner              string           `json:"owner"`
	Balance            string           `json:"balance"`
	ExpiryTimestamp    uint64           `json:"expiryTimestamp"`
	SequenceNumber     uint64           `json:"sequenceNumber"`
	UserSignature      string           `json:"userSignature"`
	SequencerSignature string           `json:"sequencerSignature"`
	SignatureTimestamp uint64           `json:"signatureTimestamp"`
	Recipients         []recipientView  `json:"recipients"`
}

func toChannelView(s *channel.State) channelView {
	recipients := make([]recipientView, len(s.Recipients))
	for i, r := range s.Recipients {
		recipients[i] = recipientView{
			Address:  r.Address.Hex(),
			Balance:  r.Balance.String(),
			Position: r.Position,
		}
	}
	return channelView{
		ChannelID:          s.ChannelIDHex(),
		Owner:              s.Owner.Hex(),
		Balance:            s.Balance.String(),
		ExpiryTimestamp:    s.ExpiryTs,
		SequenceNumber:     s.SequenceNumber,
		UserSignature:      hexOrEmpty(s.UserSignature),
		SequencerSignature: hexOrEmpty(s.SequencerSignature),
		SignatureTimestamp: s.SignatureTimestamp,
		Recipients:         recipients,
	}
}

func hexOrEmpty(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + common.Bytes2Hex(b)
}

// seedRequestBody is the JSON body of POST /channel/seed.
type seedRequestBody struct {
	ChannelID       string `json:"channelId"`
	Owner           string `json:"owner"`
	Balance         string `json:"balance"`
	ExpiryTimestamp uint64 `json:"expiryTimestamp"`
}

// feeRequestBody is the optional fee destination on a pay-in-channel request.
type feeRequestBody struct {
	FeeDestinationAddress string `json:"feeDestinationAddress"`
	FeeAmountCurds        string `json:"feeAmountCurds"`
}

// payInChannelRequestBody is the JSON body of POST /validate and POST /settle.
type payInChannelRequestBody struct {
	ChannelID      string          `json:"channelId"`
	Amount         string          `json:"amount"`
	Receiver       string          `json:"receiver"`
	SequenceNumber uint64          `json:"sequenceNumber"`
	Timestamp      uint64          `json:"timestamp"`
	UserSignature  string          `json:"userSignature"`
	Purpose        string          `json:"purpose,omitempty"`
	FeeForPayment  *feeRequestBody `json:"feeForPayment,omitempty"`
}

// finalizeRequestBody is the JSON body of POST /finalize.
type finalizeRequestBody struct {
	ChannelID string `json:"channelId"`
}

func parseChannelID(s string) ([32]byte, bool) {
	var out [32]byte
	b := common.FromHex(s)
	if len(b) != 32 {
		return out, false
	}
	copy(out[:], b)
	return out, true
}

func parseBigInt(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func parseSignature(s string) ([]byte, bool) {
	b := common.FromHex(s)
	if len(b) != 65 {
		return nil, false
	}
	return b, true
}
