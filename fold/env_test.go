package fold

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

func bloomFor(addr common.Address, topics ...common.Hash) []byte {
	var bloom ethtypes.Bloom
	bloom.Add(addr.Bytes())
	for _, t := range topics {
		bloom.Add(t.Bytes())
	}
	return bloom.Bytes()
}

func TestBloomRelevantTrueWhenAddressMatches(t *testing.T) {
	addr := common.HexToAddress("0xabc")
	bloomBytes := bloomFor(addr)
	if !BloomRelevant(bloomBytes, addr, nil) {
		t.Fatal("expected relevance when address is present in the bloom")
	}
}

func TestBloomRelevantTrueWhenTopicMatches(t *testing.T) {
	addr := common.HexToAddress("0xabc")
	topic := common.HexToHash("0xdead")
	other := common.HexToAddress("0xdef")
	bloomBytes := bloomFor(other, topic)
	if !BloomRelevant(bloomBytes, addr, []common.Hash{topic}) {
		t.Fatal("expected relevance when a topic is present in the bloom")
	}
}

func TestBloomRelevantFalseWhenNeitherMatches(t *testing.T) {
	addr := common.HexToAddress("0xabc")
	topic := common.HexToHash("0xdead")
	unrelated := common.HexToAddress("0x999")
	bloomBytes := bloomFor(unrelated)
	if BloomRelevant(bloomBytes, addr, []common.Hash{topic}) {
		t.Fatal("expected no relevance when neither address nor topic is present")
	}
}

func TestBloomRelevantTrueForMalformedBloom(t *testing.T) {
	if !BloomRelevant([]byte{1, 2, 3}, common.HexToAddress("0xabc"), nil) {
		t.Fatal("a malformed bloom must be treated as possibly relevant")
	}
}
