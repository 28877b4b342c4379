package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/x402cheddr/sequencer/internal/channel"
	"github.com/x402cheddr/sequencer/internal/digest"
	"github.com/x402cheddr/sequencer/internal/signer"
)

type memStore struct {
	saved map[string]*channel.State
}

func newMemStore() *memStore { return &memStore{saved: make(map[string]*channel.State)} }

func (m *memStore) LoadAll(ctx context.Context) (map[string]*channel.State, error) {
	return m.saved, nil
}
func (m *memStore) Save(ctx context.Context, s *channel.State) error {
	m.saved[s.ChannelIDHex()] = s.Clone()
	return nil
}

type noopChain struct{}

func (noopChain) GetUserChannelLength(ctx context.Context, owner common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (noopChain) UserChannels(ctx context.Context, owner common.Address, index *big.Int) ([32]byte, error) {
	return [32]byte{}, nil
}
func (noopChain) Sequencer(ctx context.Context) (common.Address, error) {
	return common.Address{}, nil
}
func (noopChain) FinalCloseBySequencer(ctx context.Context, channelID [32]byte, sequenceNumber, signatureTimestamp *big.Int, recipients []common.Address, balances []*big.Int, userSignature []byte) (common.Hash, error) {
	return common.HexToHash("0xdeadbeef"), nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *channel.Engine, *ecdsa.PrivateKey) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ownerKey, _ := crypto.GenerateKey()
	sequencerKey, _ := crypto.GenerateKey()

	eng := channel.NewEngine(channel.NewRegistry(), newMemStore(), noopChain{}, zap.NewNop(), channel.Config{
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.HexToAddress("0xC0FFEE0000000000000000000000000000C0FFEE"),
		MaxRecipients:     10,
		SequencerKey:      sequencerKey,
	})

	r := gin.New()
	NewHandler(eng, zap.NewNop()).Register(r)
	return r, eng, ownerKey
}

func doRequest(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestSeedEndpoint(t *testing.T) {
	r, _, ownerKey := newTestRouter(t)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)

	w := doRequest(r, http.MethodPost, "/channel/seed", seedRequestBody{
		ChannelID:       "0x" + common.Bytes2Hex(bytes32(0x01)[:]),
		Owner:           owner.Hex(),
		Balance:         "1000",
		ExpiryTimestamp: 2_000_000_000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
}

func TestSettleEndpoint_FullRoundTrip(t *testing.T) {
	r, eng, ownerKey := newTestRouter(t)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	channelID := bytes32(0x02)

	seedW := doRequest(r, http.MethodPost, "/channel/seed", seedRequestBody{
		ChannelID:       "0x" + common.Bytes2Hex(channelID[:]),
		Owner:           owner.Hex(),
		Balance:         "1000",
		ExpiryTimestamp: 2_000_000_000,
	})
	if seedW.Code != http.StatusOK {
		t.Fatalf("seed status = %d, body=%s", seedW.Code, seedW.Body.String())
	}

	receiver := common.HexToAddress("0x2222222222222222222222222222222222222222")

	d := digest.Digest(digest.Update{
		ChannelID:      channelID,
		SequenceNumber: big.NewInt(1),
		Timestamp:      big.NewInt(1_700_000_000),
		Recipients:     []common.Address{receiver},
		Amounts:        []*big.Int{big.NewInt(100)},
	}, digest.Domain{ChainID: big.NewInt(31337), VerifyingContract: common.HexToAddress("0xC0FFEE0000000000000000000000000000C0FFEE")})
	sig, err := signer.Sign(d, ownerKey)
	if err != nil {
		t.Fatal(err)
	}

	settleW := doRequest(r, http.MethodPost, "/settle", payInChannelRequestBody{
		ChannelID:      "0x" + common.Bytes2Hex(channelID[:]),
		Amount:         "100",
		Receiver:       receiver.Hex(),
		SequenceNumber: 1,
		Timestamp:      1_700_000_000,
		UserSignature:  "0x" + common.Bytes2Hex(sig),
	})
	if settleW.Code != http.StatusOK {
		t.Fatalf("settle status = %d, body=%s", settleW.Code, settleW.Body.String())
	}

	var resp struct {
		Channel channelView `json:"channel"`
	}
	if err := json.Unmarshal(settleW.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Channel.SequenceNumber != 1 {
		t.Errorf("sequenceNumber = %d, want 1", resp.Channel.SequenceNumber)
	}
	if len(resp.Channel.Recipients) != 1 {
		t.Fatalf("expected 1 recipient, got %d", len(resp.Channel.Recipients))
	}

	got, err := eng.Get(resp.Channel.ChannelID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SequenceNumber != 1 {
		t.Error("engine state should reflect the settled update")
	}
}

func TestGetEndpoint_NotFound(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/channel/0x"+common.Bytes2Hex(bytes32(0x99)[:]), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func bytes32(b byte) [32]byte {
	var out [32]byte
	out[0] = b
	return out
}
