package digest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testChainID = big.NewInt(31337)
	testChannel = common.HexToAddress("0xDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEf")
)

func testDomain() Domain {
	return Domain{ChainID: testChainID, VerifyingContract: testChannel}
}

func newUpdate(seq, ts int64, recipients []common.Address, amounts []int64) Update {
	amts := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		amts[i] = big.NewInt(a)
	}
	return Update{
		ChannelID:      [32]byte{1, 2, 3},
		SequenceNumber: big.NewInt(seq),
		Timestamp:      big.NewInt(ts),
		Recipients:     recipients,
		Amounts:        amts,
	}
}

func TestDigest_Deterministic(t *testing.T) {
	recipients := []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")}
	u := newUpdate(1, 1000, recipients, []int64{500})

	d1 := Digest(u, testDomain())
	d2 := Digest(u, testDomain())
	if d1 != d2 {
		t.Fatal("Digest is not deterministic")
	}
}

func TestDigest_SequenceNumberChangesDigest(t *testing.T) {
	recipients := []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")}
	u1 := newUpdate(1, 1000, recipients, []int64{500})
	u2 := newUpdate(2, 1000, recipients, []int64{500})

	if Digest(u1, testDomain()) == Digest(u2, testDomain()) {
		t.Error("different sequence numbers should produce different digests")
	}
}

func TestDigest_TimestampChangesDigest(t *testing.T) {
	recipients := []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")}
	u1 := newUpdate(1, 1000, recipients, []int64{500})
	u2 := newUpdate(1, 2000, recipients, []int64{500})

	if Digest(u1, testDomain()) == Digest(u2, testDomain()) {
		t.Error("different timestamps should produce different digests")
	}
}

func TestDigest_RecipientOrderMatters(t *testing.T) {
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")

	u1 := newUpdate(1, 1000, []common.Address{a, b}, []int64{500, 600})
	u2 := newUpdate(1, 1000, []common.Address{b, a}, []int64{500, 600})

	if Digest(u1, testDomain()) == Digest(u2, testDomain()) {
		t.Error("swapping recipient order should produce a different digest")
	}
}

func TestDigest_AmountChangesDigest(t *testing.T) {
	recipients := []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")}
	u1 := newUpdate(1, 1000, recipients, []int64{500})
	u2 := newUpdate(1, 1000, recipients, []int64{501})

	if Digest(u1, testDomain()) == Digest(u2, testDomain()) {
		t.Error("different amounts should produce different digests")
	}
}

func TestDigest_ChainIDIsInDomain(t *testing.T) {
	recipients := []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")}
	u := newUpdate(1, 1000, recipients, []int64{500})

	d1 := Digest(u, Domain{ChainID: big.NewInt(1), VerifyingContract: testChannel})
	d2 := Digest(u, Domain{ChainID: big.NewInt(2), VerifyingContract: testChannel})
	if d1 == d2 {
		t.Error("different chain IDs should produce different digests")
	}
}

func TestDigest_VerifyingContractIsInDomain(t *testing.T) {
	recipients := []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")}
	u := newUpdate(1, 1000, recipients, []int64{500})

	other := common.HexToAddress("0x0000000000000000000000000000000000000001")
	d1 := Digest(u, Domain{ChainID: testChainID, VerifyingContract: testChannel})
	d2 := Digest(u, Domain{ChainID: testChainID, VerifyingContract: other})
	if d1 == d2 {
		t.Error("different verifying contracts should produce different digests")
	}
}

func TestDigest_ChannelIDIsBound(t *testing.T) {
	recipients := []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")}
	u1 := newUpdate(1, 1000, recipients, []int64{500})
	u2 := u1
	u2.ChannelID = [32]byte{9, 9, 9}

	if Digest(u1, testDomain()) == Digest(u2, testDomain()) {
		t.Error("different channel IDs should produce different digests")
	}
}

func TestDomainSeparator_Stable(t *testing.T) {
	s1 := domainSeparator(testDomain())
	s2 := domainSeparator(testDomain())
	if s1 != s2 {
		t.Fatal("domainSeparator is not stable")
	}
}
