package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-payflow/internal/kvstore"
)

const keyPrefix = "idempotency:"

// DefaultTTL is how long a fingerprint short-circuits duplicate requests.
const DefaultTTL = 15 * time.Minute

// Ledger maps request fingerprints to the response computed on first processing.
type Ledger struct {
	kv      kvstore.Store
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewLedger returns a Ledger writing entries with ttl (DefaultTTL when zero).
func NewLedger(kv kvstore.Store, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{
		kv:      kv,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func key(fingerprint string) string { return keyPrefix + fingerprint }

// Store writes the record once. It returns false when an entry already exists,
// in which case the existing entry is left untouched.
func (l *Ledger) Store(ctx context.Context, fingerprint string, resp Response) (bool, error) {
	return l.StoreWithTTL(ctx, fingerprint, resp, l.ttl)
}

func (l *Ledger) StoreWithTTL(ctx context.Context, fingerprint string, resp Response, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(Record{Data: resp, Timestamp: l.nowFunc().UTC()})
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}
	created, err := l.kv.SetNX(ctx, key(fingerprint), string(b), ttl)
	if err != nil {
		return false, fmt.Errorf("store idempotency record: %w", err)
	}
	return created, nil
}

// Retrieve returns the record for fingerprint. If not found, returns (nil, nil).
func (l *Ledger) Retrieve(ctx context.Context, fingerprint string) (*Record, error) {
	raw, err := l.kv.Get(ctx, key(fingerprint))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}

func (l *Ledger) Exists(ctx context.Context, fingerprint string) (bool, error) {
	return l.kv.Exists(ctx, key(fingerprint))
}

func (l *Ledger) Delete(ctx context.Context, fingerprint string) error {
	return l.kv.Del(ctx, key(fingerprint))
}

// Clear removes every ledger entry and reports how many were dropped.
func (l *Ledger) Clear(ctx context.Context) (int, error) {
	keys, err := l.kv.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("list idempotency keys: %w", err)
	}
	if err := l.kv.Del(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}
