package plan

import (
	"github.com/smallbiznis/seatledger/internal/plan/repository"
	"github.com/smallbiznis/seatledger/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewLedger),
	fx.Provide(service.NewService),
)
