package cache

import (
	"testing"
	"time"

	platformdomain "github.com/smallbiznis/meter/internal/platform/domain"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpires(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, 0)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestSubscriptionCacheKeys(t *testing.T) {
	c := NewSubscriptionCache()
	sub := platformdomain.Subscription{ID: "sub-uuid", AccountID: "acc-1", ExternalKey: "ext-1"}

	c.SetSubscription("Tenant-1", "ext-1", sub)

	got, ok := c.GetSubscription("tenant-1", "ext-1")
	assert.True(t, ok)
	assert.Equal(t, sub, got)

	_, ok = c.GetSubscription("tenant-1", "EXT-1")
	assert.False(t, ok)

	c.SetSubscription("tenant-1", "ext-2", platformdomain.Subscription{})
	_, ok = c.GetSubscription("tenant-1", "ext-2")
	assert.False(t, ok)
}
