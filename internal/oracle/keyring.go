package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"solana-hype-trader/internal/storage"
)

// Cooldowns applied to a key after a failed call, by failure kind.
const (
	CooldownRateLimited  = 60 * time.Second
	CooldownUnauthorized = 24 * time.Hour
	CooldownNoCredit     = 30 * 24 * time.Hour
	CooldownServerError  = 30 * time.Second
	CooldownOther        = 10 * time.Second
)

// StatusTransportError is recorded when no HTTP response was received.
const StatusTransportError = 599

// CooldownFor returns the cooldown for a failed call with the given HTTP status and message.
func CooldownFor(status int, message string) time.Duration {
	switch {
	case status == 429:
		return CooldownRateLimited
	case status == 401:
		return CooldownUnauthorized
	case status == 402 || strings.Contains(strings.ToLower(message), "insufficient"):
		return CooldownNoCredit
	case status >= 500:
		return CooldownServerError
	default:
		return CooldownOther
	}
}

// KeyError describes the last failure of a key.
type KeyError struct {
	Status  int       `json:"status"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type keyState struct {
	Key           string    `json:"key"`
	Disabled      bool      `json:"disabled"`
	CooldownUntil time.Time `json:"cooldown_until"`
	OK            int       `json:"ok"`
	Err           int       `json:"err"`
	LastError     *KeyError `json:"last_error,omitempty"`
}

// KeyStatus is the redacted status of one key.
type KeyStatus struct {
	Index           int       `json:"idx"`
	Disabled        bool      `json:"disabled"`
	CooldownUntil   time.Time `json:"cooldown_until"`
	CooldownSecLeft int64     `json:"cooldown_secs_left"`
	OK              int       `json:"ok"`
	Err             int       `json:"err"`
	LastError       *KeyError `json:"last_error,omitempty"`
}

// KeyRing rotates API keys, skipping disabled keys and keys in cooldown.
// Safe for concurrent use.
type KeyRing struct {
	mu      sync.Mutex
	keys    []*keyState
	current int
	now     func() time.Time
}

// NewKeyRing creates a ring over keys. Empty and duplicate keys are dropped.
func NewKeyRing(keys []string, now func() time.Time) *KeyRing {
	if now == nil {
		now = time.Now
	}
	r := &KeyRing{now: now}
	seen := make(map[string]bool)
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		r.keys = append(r.keys, &keyState{Key: k})
	}
	return r
}

// Len returns the number of keys.
func (r *KeyRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Next returns the first usable key starting at the current index, and makes
// it current. Returns false when every key is disabled or cooling down.
func (r *KeyRing) Next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.keys)
	now := r.now()
	for step := 0; step < n; step++ {
		idx := (r.current + step) % n
		k := r.keys[idx]
		if k.Disabled || now.Before(k.CooldownUntil) {
			continue
		}
		r.current = idx
		return k.Key, true
	}
	return "", false
}

// MarkSuccess records a successful call and clears an elapsed cooldown.
func (r *KeyRing) MarkSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if k := r.find(key); k != nil {
		k.OK++
		if !r.now().Before(k.CooldownUntil) {
			k.CooldownUntil = time.Time{}
		}
	}
}

// MarkError records a failed call and puts the key into cooldown.
// An existing longer cooldown is kept.
func (r *KeyRing) MarkError(key string, status int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := r.find(key)
	if k == nil {
		return
	}
	now := r.now()
	k.Err++
	k.LastError = &KeyError{Status: status, Message: message, At: now}
	until := now.Add(CooldownFor(status, message))
	if until.After(k.CooldownUntil) {
		k.CooldownUntil = until
	}
}

// SetDisabled enables or disables a key by index.
func (r *KeyRing) SetDisabled(idx int, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx < 0 || idx >= len(r.keys) {
		return fmt.Errorf("key index %d out of range", idx)
	}
	r.keys[idx].Disabled = disabled
	return nil
}

// Status returns the redacted state of every key.
func (r *KeyRing) Status() []KeyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]KeyStatus, len(r.keys))
	for i, k := range r.keys {
		left := int64(k.CooldownUntil.Sub(now).Seconds())
		if left < 0 {
			left = 0
		}
		out[i] = KeyStatus{
			Index:           i,
			Disabled:        k.Disabled,
			CooldownUntil:   k.CooldownUntil,
			CooldownSecLeft: left,
			OK:              k.OK,
			Err:             k.Err,
			LastError:       k.LastError,
		}
	}
	return out
}

func (r *KeyRing) find(key string) *keyState {
	for _, k := range r.keys {
		if k.Key == key {
			return k
		}
	}
	return nil
}

type ringSnapshot struct {
	Current int         `json:"current_idx"`
	Keys    []*keyState `json:"keys"`
}

// Save persists counters and cooldowns.
func (r *KeyRing) Save(ctx context.Context, store storage.StateStore) error {
	r.mu.Lock()
	data, err := json.Marshal(ringSnapshot{Current: r.current, Keys: r.keys})
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal key ring: %w", err)
	}
	if err := store.Save(ctx, storage.KeyOracleKeys, data); err != nil {
		return fmt.Errorf("save key ring: %w", err)
	}
	return nil
}

// Load restores counters and cooldowns for keys still configured.
// Keys no longer configured are dropped; new keys start fresh.
func (r *KeyRing) Load(ctx context.Context, store storage.StateStore) error {
	data, err := store.Load(ctx, storage.KeyOracleKeys)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load key ring: %w", err)
	}

	var snap ringSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal key ring: %w", err)
	}

	prev := make(map[string]*keyState, len(snap.Keys))
	for _, k := range snap.Keys {
		if k != nil {
			prev[k.Key] = k
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, k := range r.keys {
		if old, ok := prev[k.Key]; ok {
			restored := *old
			r.keys[i] = &restored
		}
	}
	if snap.Current >= 0 && snap.Current < len(r.keys) {
		r.current = snap.Current
	}
	return nil
}
