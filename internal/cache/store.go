package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/xdrportal/xdrportal/internal/hashmap"
	"github.com/xdrportal/xdrportal/internal/task"
)

// Key identifies a cached API response.
// TenantID is empty for the few entries that are not scoped to a tenant (the tenant bootstrap entry itself).
type Key struct {
	TenantID string
	Name     string
}

// Entry represents a memoized API response together with its freshness window
type Entry struct {
	Value         any
	CachedAt      time.Time
	NotValidAfter time.Time
}

// Store provides the process-wide TTL cache for portal API responses.
// Entries are written as a single replace, so concurrent readers always see the last fully-written entry.
// Expired entries sit inert until overwritten, cleared or swept; ScheduleSweep enables the optional sweep.
type Store struct {
	entries *hashmap.NormalMap[Key, Entry]
	now     func() time.Time

	sweep *task.RepeatingTask
}

// NewStore creates a new empty TTL cache
func NewStore() *Store {
	return &Store{
		entries: hashmap.NewNormal[Key, Entry](),
		now:     time.Now,
	}
}

// Lookup returns the entry assigned to the given key and a boolean indicating its presence.
// An entry whose freshness window has passed is reported as absent.
func (store *Store) Lookup(key Key) (Entry, bool) {
	entry, ok := store.entries.Lookup(key)
	if !ok || !store.now().Before(entry.NotValidAfter) {
		return Entry{}, false
	}
	return entry, true
}

// Get returns the value assigned to the given key.
// It returns nil on a miss or an expired entry; use Lookup to access the entry's timestamps.
func (store *Store) Get(key Key) any {
	entry, ok := store.Lookup(key)
	if !ok {
		return nil
	}
	return entry.Value
}

// Set stores a value under the given key for the given TTL, unconditionally overwriting any existing entry
func (store *Store) Set(key Key, value any, ttl time.Duration) {
	now := store.now()
	store.entries.Set(key, Entry{
		Value:         value,
		CachedAt:      now,
		NotValidAfter: now.Add(ttl),
	})
}

// Clear removes the entry assigned to the given key.
// Clearing an absent key is a no-op.
func (store *Store) Clear(key Key) {
	store.entries.Unset(key)
}

// ClearAll empties the entire store
func (store *Store) ClearAll() {
	store.entries.Clear()
}

// Size returns the amount of stored entries, including expired ones that have not been swept yet
func (store *Store) Size() int {
	return store.entries.Size()
}

// ScheduleSweep schedules the task that removes expired entries in a specific interval.
// Without it the store behaves exactly the same; expired entries are just never reported.
func (store *Store) ScheduleSweep(tick time.Duration) {
	if store.sweep != nil {
		return
	}
	store.sweep = task.NewRepeating(func() {
		now := store.now()
		store.entries.Mutate(func(underlying map[Key]Entry) {
			for key, entry := range underlying {
				if !now.Before(entry.NotValidAfter) {
					delete(underlying, key)
				}
			}
		})
	}, tick)
	store.sweep.Start()
}

// StopSweep stops the sweep task
func (store *Store) StopSweep() {
	if store.sweep == nil {
		return
	}
	store.sweep.Stop(true)
	store.sweep = nil
}

// WithParams derives a cache entry name for a parameterized call by suffixing the logical name with a short
// digest of the call's parameters, so differently-parameterized calls do not share an entry
func WithParams(name string, params ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(params, "\x00")))
	return name + "_" + hex.EncodeToString(sum[:8])
}
