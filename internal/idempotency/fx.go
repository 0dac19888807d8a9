package idempotency

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/internal/idempotency/domain"
	"github.com/smallbiznis/seatledger/internal/idempotency/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("idempotency",
	fx.Provide(NewStore),
)

var ErrRedisNotConfigured = errors.New("idempotency backend redis requires REDIS_ADDR")

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	DB     *gorm.DB
	GenID  *snowflake.Node
	Clock  clock.Clock
	Redis  *redis.Client `optional:"true"`
}

// NewStore selects the record store named by IDEMPOTENCY_BACKEND.
func NewStore(p Params) (domain.Store, error) {
	ttl := p.Config.Idempotency.TTL
	log := p.Log.Named("idempotency")

	if p.Config.Idempotency.Backend == config.IdempotencyBackendRedis {
		if p.Redis == nil {
			return nil, ErrRedisNotConfigured
		}
		log.Info("idempotency store selected", zap.String("backend", "redis"), zap.Duration("ttl", ttl))
		return store.NewRedisStore(p.Redis, p.Clock, ttl), nil
	}

	log.Info("idempotency store selected", zap.String("backend", "database"), zap.Duration("ttl", ttl))
	return store.NewDatabaseStore(p.DB, p.GenID, p.Clock, ttl), nil
}
