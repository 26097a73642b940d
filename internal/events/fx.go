package events

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(func(log *zap.Logger) Publisher {
		return NewPublisher(log)
	}),
)
