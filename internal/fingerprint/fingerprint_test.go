package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcsign/exitbook/internal/fingerprint"
)

func TestTransaction_Deterministic(t *testing.T) {
	a := fingerprint.Transaction("kraken", "TXID123")
	b := fingerprint.Transaction("kraken", "TXID123")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestTransaction_DistinctInputsDiffer(t *testing.T) {
	a := fingerprint.Transaction("kraken", "TXID123")
	b := fingerprint.Transaction("coinbase", "TXID123")
	assert.NotEqual(t, a, b)
}

func TestLink_OrderIndependent(t *testing.T) {
	fpA := fingerprint.Transaction("kraken", "TX1")
	fpB := fingerprint.Transaction("bitcoin", "TX2")

	ab := fingerprint.Link(fpA, fpB, "BTC")
	ba := fingerprint.Link(fpB, fpA, "BTC")

	assert.Equal(t, ab, ba, "link fingerprint must be ordering-independent")
}

func TestLink_AssetDistinguishes(t *testing.T) {
	fpA := fingerprint.Transaction("kraken", "TX1")
	fpB := fingerprint.Transaction("bitcoin", "TX2")

	btc := fingerprint.Link(fpA, fpB, "BTC")
	eth := fingerprint.Link(fpA, fpB, "ETH")

	assert.NotEqual(t, btc, eth)
}
