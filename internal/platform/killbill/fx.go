package killbill

import (
	platformdomain "github.com/smallbiznis/meter/internal/platform/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("platform.killbill",
	fx.Provide(
		New,
		fx.Annotate(
			func(c *Client) platformdomain.Client { return c },
			fx.ResultTags(`name:"platform.direct"`),
		),
	),
)
