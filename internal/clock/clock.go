package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock reads so stages can be tested against a fixed day.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the process wall clock in UTC.
func System() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(System),
)
