package cache

import (
	"strings"
	"time"

	platformdomain "github.com/smallbiznis/meter/internal/platform/domain"
)

const defaultSubscriptionTTL = 5 * time.Minute

// SubscriptionCache stores platform subscriptions resolved by external key.
type SubscriptionCache interface {
	GetSubscription(tenantID, externalKey string) (platformdomain.Subscription, bool)
	SetSubscription(tenantID, externalKey string, subscription platformdomain.Subscription)
}

type subscriptionCache struct {
	subscriptions Cache[string, platformdomain.Subscription]
	ttl           time.Duration
}

// NewSubscriptionCache returns an in-memory cache for the biller and invoicer lookups.
func NewSubscriptionCache() SubscriptionCache {
	return &subscriptionCache{
		subscriptions: NewTTLCache[string, platformdomain.Subscription](),
		ttl:           defaultSubscriptionTTL,
	}
}

func (c *subscriptionCache) GetSubscription(tenantID, externalKey string) (platformdomain.Subscription, bool) {
	return c.subscriptions.Get(cacheKey(tenantID, externalKey))
}

func (c *subscriptionCache) SetSubscription(tenantID, externalKey string, subscription platformdomain.Subscription) {
	if subscription.ID == "" {
		return
	}
	c.subscriptions.Set(cacheKey(tenantID, externalKey), subscription, c.ttl)
}

// External keys are case sensitive on the platform, so only the tenant is folded.
func cacheKey(tenantID, externalKey string) string {
	return strings.ToLower(strings.TrimSpace(tenantID)) + "|" + strings.TrimSpace(externalKey)
}
