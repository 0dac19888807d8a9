package events

import (
	"context"

	"github.com/smallbiznis/seatledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	if !cfg.Events.Enabled {
		return NewNoopPublisher()
	}

	pub := NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub
}
