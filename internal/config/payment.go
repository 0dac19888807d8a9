package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PaymentConfig tunes the simulated payment gateway.
type PaymentConfig struct {
	Latency        time.Duration `mapstructure:"latency"`
	SuccessRate    float64       `mapstructure:"successRate"`
	DeclineMessage string        `mapstructure:"declineMessage"`
}

func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		Latency:        100 * time.Millisecond,
		SuccessRate:    0.95,
		DeclineMessage: "Payment declined by provider",
	}
}

type PaymentConfigHolder struct {
	current atomic.Value // holds PaymentConfig
}

// NewStaticPaymentConfigHolder returns a holder that never reloads.
func NewStaticPaymentConfigHolder(cfg PaymentConfig) *PaymentConfigHolder {
	holder := &PaymentConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPaymentConfigHolder(log *zap.Logger) (*PaymentConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("payment")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/seatledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SEATLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPaymentConfig()
	v.SetDefault("payment.latency", defaults.Latency)
	v.SetDefault("payment.successRate", defaults.SuccessRate)
	v.SetDefault("payment.declineMessage", defaults.DeclineMessage)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg PaymentConfig
	if err := v.UnmarshalKey("payment", &cfg); err != nil {
		return nil, err
	}
	if err := validatePaymentConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPaymentConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PaymentConfig
		if err := v.UnmarshalKey("payment", &updated); err != nil {
			log.Warn("payment config reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := validatePaymentConfig(updated); err != nil {
			log.Warn("invalid payment config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("payment config reloaded",
			zap.Duration("latency", updated.Latency),
			zap.Float64("success_rate", updated.SuccessRate),
		)
	})

	return holder, nil
}

func (h *PaymentConfigHolder) Get() PaymentConfig {
	if h == nil {
		return DefaultPaymentConfig()
	}
	cfg, ok := h.current.Load().(PaymentConfig)
	if !ok {
		return DefaultPaymentConfig()
	}
	return cfg
}

func validatePaymentConfig(cfg PaymentConfig) error {
	if cfg.Latency < 0 {
		return errors.New("payment latency must be non-negative")
	}
	if cfg.SuccessRate < 0 || cfg.SuccessRate > 1 {
		return errors.New("payment success rate must be between 0 and 1")
	}
	if strings.TrimSpace(cfg.DeclineMessage) == "" {
		return errors.New("payment decline message is required")
	}
	return nil
}
