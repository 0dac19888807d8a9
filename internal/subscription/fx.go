package subscription

import (
	plandomain "github.com/smallbiznis/seatledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/seatledger/internal/subscription/domain"
	"github.com/smallbiznis/seatledger/internal/subscription/repository"
	"github.com/smallbiznis/seatledger/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(r subscriptiondomain.Repository) plandomain.SubscriptionCounter { return r }),
	fx.Provide(service.NewService),
)
