package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig is the hot-reloadable billing policy.
type BillingConfig struct {
	InvoiceDueDays           int    `mapstructure:"invoiceDueDays"`
	RatingConcurrency        int    `mapstructure:"ratingConcurrency"`
	RatingBatchSize          int    `mapstructure:"ratingBatchSize"`
	DefaultBillingCycle      string `mapstructure:"defaultBillingCycle"`
	MinimumChargeDescription string `mapstructure:"minimumChargeDescription"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		InvoiceDueDays:           30,
		RatingConcurrency:        4,
		RatingBatchSize:          500,
		DefaultBillingCycle:      "monthly",
		MinimumChargeDescription: "Minimum charge",
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/logibill/config") // Volume-mounted config
	v.AddConfigPath("/etc/logibill")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("LOGIBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.invoiceDueDays", defaults.InvoiceDueDays)
	v.SetDefault("billing.ratingConcurrency", defaults.RatingConcurrency)
	v.SetDefault("billing.ratingBatchSize", defaults.RatingBatchSize)
	v.SetDefault("billing.defaultBillingCycle", defaults.DefaultBillingCycle)
	v.SetDefault("billing.minimumChargeDescription", defaults.MinimumChargeDescription)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Get returns the current policy. A nil holder yields the defaults.
func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.InvoiceDueDays < 0 {
		return errors.New("billing.invoiceDueDays cannot be negative")
	}
	if cfg.RatingConcurrency <= 0 {
		return errors.New("billing.ratingConcurrency must be positive")
	}
	if cfg.RatingBatchSize <= 0 {
		return errors.New("billing.ratingBatchSize must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.DefaultBillingCycle)) {
	case "immediate", "weekly", "monthly":
	default:
		return errors.New("billing.defaultBillingCycle must be immediate, weekly or monthly")
	}
	return nil
}
