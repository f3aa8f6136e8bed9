package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

func TestNamespaceOrDefault(t *testing.T) {
	assert.Equal(t, "prodepool", namespaceOrDefault(""))
	assert.Equal(t, "prodepool", namespaceOrDefault(" : "))
	assert.Equal(t, "worldcup", namespaceOrDefault("worldcup:"))
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "worldcup:lock:pool", joinKey("worldcup", "lock", "pool"))
	assert.Equal(t, "prodepool:events", joinKey("prodepool", "events"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("events:*"))
	assert.False(t, hasPattern("events"))
}

func TestParseCounters(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	snap := parseCounters(map[string]string{
		"kind:ticket_purchased": "3",
		"kind:prize_claimed":    "1",
		"kind:broken":           "x",
		"last_seq":              "9",
		"last_at":               "1780272000000000000",
	})
	assert.Equal(t, int64(3), snap.ByKind[domain.EventTicketPurchased])
	assert.Equal(t, int64(1), snap.ByKind[domain.EventPrizeClaimed])
	assert.NotContains(t, snap.ByKind, domain.EventKind("broken"))
	assert.Equal(t, uint64(9), snap.LastSeq)
	assert.Equal(t, at, snap.LastAt)
}
