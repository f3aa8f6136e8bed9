package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// EventCounters keeps a hash of committed event counts per kind plus the
// last sequence number seen, at "<ns>:counters". Dashboards and the health
// endpoint read it without touching Postgres.
type EventCounters struct {
	c *Client
}

// NewEventCounters creates EventCounters backed by the given Client.
func NewEventCounters(c *Client) *EventCounters {
	return &EventCounters{c: c}
}

// CounterSnapshot is the decoded counters hash.
type CounterSnapshot struct {
	ByKind  map[domain.EventKind]int64
	LastSeq uint64
	LastAt  time.Time
}

// Record counts ev. Replayed duplicates are ignored by sequence number.
func (ec *EventCounters) Record(ctx context.Context, ev domain.Event) error {
	key := ec.c.Key("counters")
	last, err := ec.c.rdb.HGet(ctx, key, "last_seq").Uint64()
	if err == nil && ev.Seq != 0 && ev.Seq <= last {
		return nil
	}

	pipe := ec.c.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "kind:"+string(ev.Kind), 1)
	pipe.HSet(ctx, key,
		"last_seq", strconv.FormatUint(ev.Seq, 10),
		"last_at", strconv.FormatInt(ev.At.UnixNano(), 10),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record event %d: %w", ev.Seq, err)
	}
	return nil
}

// Snapshot reads the counters. Missing counters yield an empty snapshot.
func (ec *EventCounters) Snapshot(ctx context.Context) (CounterSnapshot, error) {
	vals, err := ec.c.rdb.HGetAll(ctx, ec.c.Key("counters")).Result()
	if err != nil {
		return CounterSnapshot{}, fmt.Errorf("redis: read counters: %w", err)
	}
	return parseCounters(vals), nil
}

func parseCounters(vals map[string]string) CounterSnapshot {
	out := CounterSnapshot{ByKind: make(map[domain.EventKind]int64)}
	for field, v := range vals {
		switch {
		case strings.HasPrefix(field, "kind:"):
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			out.ByKind[domain.EventKind(strings.TrimPrefix(field, "kind:"))] = n
		case field == "last_seq":
			out.LastSeq, _ = strconv.ParseUint(v, 10, 64)
		case field == "last_at":
			if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
				out.LastAt = time.Unix(0, ns).UTC()
			}
		}
	}
	return out
}
