package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Fingerprint-keyed state uses the hex form of the
// hash so keys stay printable; trade keys embed a zero-padded timestamp
// so lexicographic order is chronological.
const (
	prefixRecord = "rec:"   // order records
	prefixEscrow = "esc:"   // escrow accounts
	prefixTrade  = "trade:" // executed trade history
	keyFees      = "fees"   // accrued protocol fee balance
)

// recordKey returns the key for an order record.
// Format: "rec:{fingerprint}"
func recordKey(fp common.Hash) []byte {
	return []byte(prefixRecord + fp.Hex())
}

// escrowKey returns the key for an escrow account.
// Format: "esc:{fingerprint}"
func escrowKey(fp common.Hash) []byte {
	return []byte(prefixEscrow + fp.Hex())
}

// tradeKey returns the key for a trade.
// Format: "trade:{timestamp}:{tradeID}", timestamp zero-padded to 20
// digits for lexicographic sorting.
func tradeKey(timestamp int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixTrade, timestamp, tradeID))
}

func feesKey() []byte {
	return []byte(keyFees)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// fingerprintFromKey strips a prefix and parses the remaining hex hash.
func fingerprintFromKey(key []byte, prefix string) (common.Hash, error) {
	if len(key) != len(prefix)+66 { // 66 = "0x" + 64 hex chars
		return common.Hash{}, fmt.Errorf("invalid key length: %d", len(key))
	}
	return common.HexToHash(string(key[len(prefix):])), nil
}
