package payment

import (
	"github.com/smallbiznis/seatledger/internal/payment/gateway"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.gateway",
	fx.Provide(gateway.NewMock),
)
