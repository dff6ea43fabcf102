package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RetryPolicy shapes the retry schedule for one payment failure category.
type RetryPolicy struct {
	MaxAttempts       int     `mapstructure:"maxAttempts"`
	InitialDelayHours int     `mapstructure:"initialDelayHours"`
	BackoffMultiplier float64 `mapstructure:"backoffMultiplier"`
	MaxDelayHours     int     `mapstructure:"maxDelayHours"`
	NotifyCustomer    bool    `mapstructure:"notifyCustomer"`
}

// RetryShaping adjusts raw retry timestamps before they are persisted.
type RetryShaping struct {
	AvoidWeekends   bool   `mapstructure:"avoidWeekends"`
	PreferredWindow string `mapstructure:"preferredWindow"` // "", morning, afternoon, evening
}

// CollectionsConfig carries operator-tunable retry and dunning policy.
type CollectionsConfig struct {
	RetryPolicies        map[string]RetryPolicy `mapstructure:"retryPolicies"`
	Shaping              RetryShaping           `mapstructure:"shaping"`
	DefaultGraceDays     int                    `mapstructure:"defaultGraceDays"`
	SuspensionDelayDays  int                    `mapstructure:"suspensionDelayDays"`
	OverdueThresholdDays int                    `mapstructure:"overdueThresholdDays"`
}

func DefaultCollectionsConfig() CollectionsConfig {
	return CollectionsConfig{
		RetryPolicies: map[string]RetryPolicy{
			"insufficient_funds": {MaxAttempts: 5, InitialDelayHours: 48, BackoffMultiplier: 2.0, MaxDelayHours: 168, NotifyCustomer: false},
			"card_declined":      {MaxAttempts: 3, InitialDelayHours: 24, BackoffMultiplier: 2.0, MaxDelayHours: 120, NotifyCustomer: true},
			"card_expired":       {MaxAttempts: 2, InitialDelayHours: 72, BackoffMultiplier: 1.5, MaxDelayHours: 168, NotifyCustomer: true},
			"gateway_error":      {MaxAttempts: 4, InitialDelayHours: 6, BackoffMultiplier: 1.5, MaxDelayHours: 48, NotifyCustomer: false},
			"network_error":      {MaxAttempts: 4, InitialDelayHours: 6, BackoffMultiplier: 1.5, MaxDelayHours: 48, NotifyCustomer: false},
			"timeout":            {MaxAttempts: 4, InitialDelayHours: 6, BackoffMultiplier: 1.5, MaxDelayHours: 48, NotifyCustomer: false},
			"invalid_method":     {MaxAttempts: 1, InitialDelayHours: 24, BackoffMultiplier: 1.0, MaxDelayHours: 24, NotifyCustomer: true},
		},
		Shaping: RetryShaping{
			AvoidWeekends:   true,
			PreferredWindow: "morning",
		},
		DefaultGraceDays:     7,
		SuspensionDelayDays:  3,
		OverdueThresholdDays: 1,
	}
}

// CollectionsConfigHolder hot-reloads collections policy from collections.yml.
type CollectionsConfigHolder struct {
	current atomic.Value // holds CollectionsConfig
}

func NewCollectionsConfigHolder() (*CollectionsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("collections")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/recurra/config")
	v.AddConfigPath("/etc/recurra")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RECURRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultCollectionsConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	} else {
		if err := v.UnmarshalKey("collections", &cfg); err != nil {
			return nil, err
		}
		if err := validateCollectionsConfig(cfg); err != nil {
			return nil, err
		}
	}

	holder := &CollectionsConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultCollectionsConfig()
		if err := v.UnmarshalKey("collections", &updated); err != nil {
			log.Printf("[collections-config] reload failed: %v", err)
			return
		}
		if err := validateCollectionsConfig(updated); err != nil {
			log.Printf("[collections-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[collections-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticCollectionsConfigHolder wraps a fixed config with no file
// watching. Intended for tests and one-shot tools.
func NewStaticCollectionsConfigHolder(cfg CollectionsConfig) *CollectionsConfigHolder {
	holder := &CollectionsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *CollectionsConfigHolder) Get() CollectionsConfig {
	return h.current.Load().(CollectionsConfig)
}

func validateCollectionsConfig(cfg CollectionsConfig) error {
	if len(cfg.RetryPolicies) == 0 {
		return errors.New("collections.retryPolicies cannot be empty")
	}
	for reason, policy := range cfg.RetryPolicies {
		if policy.MaxAttempts <= 0 {
			return errors.New("collections.retryPolicies." + reason + ".maxAttempts must be positive")
		}
		if policy.InitialDelayHours <= 0 {
			return errors.New("collections.retryPolicies." + reason + ".initialDelayHours must be positive")
		}
		if policy.BackoffMultiplier < 1.0 {
			return errors.New("collections.retryPolicies." + reason + ".backoffMultiplier must be >= 1")
		}
	}
	if cfg.DefaultGraceDays < 0 {
		return errors.New("collections.defaultGraceDays cannot be negative")
	}
	return nil
}
