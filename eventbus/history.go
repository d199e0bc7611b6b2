/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// HistoryCap bounds the per-installation history; the oldest entries past the
// cap are trimmed. This list is the only durable record of webhook traffic
// and is independent of the live bus.
const HistoryCap = 100

// HistoryEntry is one record in an installation's event history.
type HistoryEntry struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt int64           `json:"receivedAt"`
}

// History stores a bounded, newest-first list of entries per installation.
type History interface {
	Append(ctx context.Context, installationID int64, entry HistoryEntry) error
	Recent(ctx context.Context, installationID int64, n int) ([]HistoryEntry, error)
}

// RedisHistory keeps history in redis lists keyed by installation id.
type RedisHistory struct {
	client *redis.Client
}

// NewRedisHistory constructs a RedisHistory on the given client.
func NewRedisHistory(client *redis.Client) *RedisHistory {
	return &RedisHistory{client: client}
}

func historyKey(installationID int64) string {
	return fmt.Sprintf("events:%d", installationID)
}

// Append pushes the entry to the front of the installation's list and trims
// it to HistoryCap.
func (h *RedisHistory) Append(ctx context.Context, installationID int64, entry HistoryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling history entry: %w", err)
	}

	key := historyKey(installationID)
	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, HistoryCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first. Non-positive n yields no
// entries; a negative LRANGE stop would return the whole list.
func (h *RedisHistory) Recent(ctx context.Context, installationID int64, n int) ([]HistoryEntry, error) {
	if n <= 0 {
		return []HistoryEntry{}, nil
	}
	raws, err := h.client.LRange(ctx, historyKey(installationID), 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decoding history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// MemoryHistory is the in-process fallback used when no redis is configured.
// Same bounded newest-first semantics, no durability across restarts.
type MemoryHistory struct {
	mu      sync.Mutex
	entries map[int64][]HistoryEntry
}

// NewMemoryHistory constructs an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{entries: make(map[int64][]HistoryEntry)}
}

// Append prepends the entry and trims to HistoryCap.
func (h *MemoryHistory) Append(_ context.Context, installationID int64, entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append([]HistoryEntry{entry}, h.entries[installationID]...)
	if len(list) > HistoryCap {
		list = list[:HistoryCap]
	}
	h.entries[installationID] = list
	return nil
}

// Recent returns up to n entries, newest first. Non-positive n yields no
// entries.
func (h *MemoryHistory) Recent(_ context.Context, installationID int64, n int) ([]HistoryEntry, error) {
	if n <= 0 {
		return []HistoryEntry{}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.entries[installationID]
	if n < len(list) {
		list = list[:n]
	}
	out := make([]HistoryEntry, len(list))
	copy(out, list)
	return out, nil
}
