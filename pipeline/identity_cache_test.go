package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tryonapi/models"
)

func TestIdentityCacheHitAndMiss(t *testing.T) {
	cache := NewIdentityCache()
	hash := ContentHash([]byte("person-a"))
	payload := IdentityPayload{Facts: models.ExtractedUserFacts{FaceShape: "oval", ExtractionConfidence: 90}}

	_, ok := cache.Lookup(1, hash)
	assert.False(t, ok)

	cache.Store(1, hash, payload)

	got, ok := cache.Lookup(1, hash)
	assert.True(t, ok)
	assert.Equal(t, "oval", got.Facts.FaceShape)

	// other users never see the entry
	_, ok = cache.Lookup(2, hash)
	assert.False(t, ok)
}

func TestIdentityCacheTTLExpiry(t *testing.T) {
	cache := NewIdentityCache()
	current := time.Now()
	cache.now = func() time.Time { return current }

	hash := ContentHash([]byte("person-a"))
	cache.Store(1, hash, IdentityPayload{})

	current = current.Add(23 * time.Hour)
	_, ok := cache.Lookup(1, hash)
	assert.True(t, ok)

	current = current.Add(2 * time.Hour)
	_, ok = cache.Lookup(1, hash)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.EntryCount(1))
}

func TestIdentityCachePerUserLRUEviction(t *testing.T) {
	cache := NewIdentityCache()
	current := time.Now()
	cache.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		cache.Store(1, fmt.Sprintf("hash-%d", i), IdentityPayload{})
		current = current.Add(time.Minute)
	}
	// touch hash-0 so hash-1 becomes the least recently used
	_, ok := cache.Lookup(1, "hash-0")
	assert.True(t, ok)
	current = current.Add(time.Minute)

	cache.Store(2, "other-user", IdentityPayload{})
	cache.Store(1, "hash-10", IdentityPayload{})

	assert.Equal(t, 10, cache.EntryCount(1))
	_, ok = cache.Lookup(1, "hash-1")
	assert.False(t, ok)
	_, ok = cache.Lookup(1, "hash-0")
	assert.True(t, ok)
	_, ok = cache.Lookup(1, "hash-10")
	assert.True(t, ok)

	// the other user's entry survived user 1 filling their slots
	_, ok = cache.Lookup(2, "other-user")
	assert.True(t, ok)
}

func TestIdentityCacheGetOrCreate(t *testing.T) {
	cache := NewIdentityCache()
	hash := ContentHash([]byte("person-a"))
	loads := 0

	load := func(ctx context.Context) (IdentityPayload, error) {
		loads++
		return IdentityPayload{Facts: models.ExtractedUserFacts{Gender: "female"}}, nil
	}

	payload, hit, err := cache.GetOrCreate(context.Background(), 1, hash, load)
	assert.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "female", payload.Facts.Gender)

	payload, hit, err = cache.GetOrCreate(context.Background(), 1, hash, load)
	assert.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "female", payload.Facts.Gender)
	assert.Equal(t, 1, loads)
}

func TestIdentityCacheGetOrCreateLoadFailureNotCached(t *testing.T) {
	cache := NewIdentityCache()
	hash := ContentHash([]byte("person-a"))

	_, _, err := cache.GetOrCreate(context.Background(), 1, hash, func(ctx context.Context) (IdentityPayload, error) {
		return IdentityPayload{}, errors.New("vision timeout")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, cache.EntryCount(1))
}

func TestContentHashStable(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("abc")), ContentHash([]byte("abc")))
	assert.NotEqual(t, ContentHash([]byte("abc")), ContentHash([]byte("abd")))
	assert.Len(t, ContentHash([]byte("abc")), 64)
}
