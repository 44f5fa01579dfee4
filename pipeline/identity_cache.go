package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"tryonapi/models"
)

const (
	identityCacheTTL     = 24 * time.Hour
	identityCachePerUser = 10
)

// IdentityPayload is what one extraction run produces for a person image.
type IdentityPayload struct {
	Facts models.ExtractedUserFacts
	// cropped face region kept for the identity guardrail comparison
	FaceCrop []byte
}

// CachedIdentity is a stored extraction keyed by (user, content hash).
type CachedIdentity struct {
	UserID      uint
	ContentHash string
	Payload     IdentityPayload
	UseCount    int
	LastAccess  time.Time
	StoredAt    time.Time
}

// IdentityCache avoids re-extracting facts for a person image the user already
// submitted. Eviction is strict per-user LRU on top of a TTL; one user filling
// their slots never touches another user's entries. Injected as a dependency,
// not a package singleton, so tests get isolated instances.
type IdentityCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	perUserCap int
	users      map[uint]map[string]*CachedIdentity
	now        func() time.Time
}

func NewIdentityCache() *IdentityCache {
	return &IdentityCache{
		ttl:        identityCacheTTL,
		perUserCap: identityCachePerUser,
		users:      make(map[uint]map[string]*CachedIdentity),
		now:        time.Now,
	}
}

// ContentHash is the cache key of an image's raw bytes.
func ContentHash(imageBytes []byte) string {
	sum := sha256.Sum256(imageBytes)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached payload if present and fresh, refreshing the
// use-count and access time. Expired entries are dropped on the spot.
func (c *IdentityCache) Lookup(userID uint, contentHash string) (IdentityPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.users[userID]
	entry, ok := entries[contentHash]
	if !ok {
		return IdentityPayload{}, false
	}
	if c.now().Sub(entry.StoredAt) >= c.ttl {
		delete(entries, contentHash)
		return IdentityPayload{}, false
	}
	entry.UseCount++
	entry.LastAccess = c.now()
	return entry.Payload, true
}

// Store inserts a payload, evicting the user's least recently accessed entry
// when the per-user cap is already met. Idempotent on hash collisions: a later
// writer for the same key just refreshes the entry.
func (c *IdentityCache) Store(userID uint, contentHash string, payload IdentityPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.users[userID]
	if entries == nil {
		entries = make(map[string]*CachedIdentity)
		c.users[userID] = entries
	}
	if existing, ok := entries[contentHash]; ok {
		existing.Payload = payload
		existing.UseCount++
		existing.LastAccess = c.now()
		return
	}
	if len(entries) >= c.perUserCap {
		var oldestKey string
		var oldest time.Time
		for key, entry := range entries {
			if oldestKey == "" || entry.LastAccess.Before(oldest) {
				oldestKey = key
				oldest = entry.LastAccess
			}
		}
		delete(entries, oldestKey)
	}
	now := c.now()
	entries[contentHash] = &CachedIdentity{
		UserID:      userID,
		ContentHash: contentHash,
		Payload:     payload,
		UseCount:    1,
		LastAccess:  now,
		StoredAt:    now,
	}
}

// GetOrCreate composes Lookup and Store around the load function. Concurrent
// callers for the same key may both load; the result is idempotent so the
// later writer only refreshes the entry.
func (c *IdentityCache) GetOrCreate(ctx context.Context, userID uint, contentHash string, load func(ctx context.Context) (IdentityPayload, error)) (IdentityPayload, bool, error) {
	if payload, ok := c.Lookup(userID, contentHash); ok {
		return payload, true, nil
	}
	payload, err := load(ctx)
	if err != nil {
		return IdentityPayload{}, false, err
	}
	c.Store(userID, contentHash, payload)
	return payload, false, nil
}

// EntryCount reports how many entries a user currently holds.
func (c *IdentityCache) EntryCount(userID uint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users[userID])
}
