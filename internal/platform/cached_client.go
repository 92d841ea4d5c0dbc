// Package platform wires the billing platform client used by the pipeline stages.
package platform

import (
	"context"

	"github.com/smallbiznis/meter/internal/cache"
	platformdomain "github.com/smallbiznis/meter/internal/platform/domain"
	"github.com/smallbiznis/meter/internal/platform/killbill"
	"go.uber.org/fx"
)

var Module = fx.Module("platform",
	killbill.Module,
	fx.Provide(
		fx.Annotate(
			NewCachedClient,
			fx.ParamTags(`name:"platform.direct"`),
		),
	),
)

// cachedClient memoizes subscription lookups. Every other call goes straight through.
type cachedClient struct {
	platformdomain.Client
	subscriptions cache.SubscriptionCache
}

func NewCachedClient(next platformdomain.Client, subscriptions cache.SubscriptionCache) platformdomain.Client {
	if subscriptions == nil {
		return next
	}
	return &cachedClient{Client: next, subscriptions: subscriptions}
}

func (c *cachedClient) GetSubscription(ctx context.Context, tenantID, externalKey string) (platformdomain.Subscription, error) {
	if sub, ok := c.subscriptions.GetSubscription(tenantID, externalKey); ok {
		return sub, nil
	}
	sub, err := c.Client.GetSubscription(ctx, tenantID, externalKey)
	if err != nil {
		return platformdomain.Subscription{}, err
	}
	c.subscriptions.SetSubscription(tenantID, externalKey, sub)
	return sub, nil
}
