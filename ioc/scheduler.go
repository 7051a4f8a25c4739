package ioc

import (
	"time"

	"github.com/solweave/strategy-engine/internal/service/scheduler"
	"github.com/spf13/viper"
)

func InitSchedulerConfig() scheduler.Config {
	type Config struct {
		MaxInstances        int   `mapstructure:"max_instances"`
		MaxRetries          int   `mapstructure:"max_retries"`
		PollIntervalMs      int64 `mapstructure:"poll_interval_ms"`
		HeartbeatIntervalMs int64 `mapstructure:"heartbeat_interval_ms"`
		RestartDelayMinMs   int64 `mapstructure:"restart_delay_min_ms"`
		RestartDelayMaxMs   int64 `mapstructure:"restart_delay_max_ms"`
		EventQueueSize      int   `mapstructure:"event_queue_size"`
		RateLimit           int   `mapstructure:"rate_limit"`
		RateWindowMs        int64 `mapstructure:"rate_window_ms"`
		CircuitThreshold    int   `mapstructure:"circuit_threshold"`
		DeadLetterCapacity  int   `mapstructure:"dead_letter_capacity"`
		OwnerMaxConcurrent  int   `mapstructure:"owner_max_concurrent"`
		OwnerDailyStarts    int   `mapstructure:"owner_daily_starts"`
	}

	var cfg Config
	if err := viper.UnmarshalKey("scheduler", &cfg); err != nil {
		panic(err)
	}

	return scheduler.Config{
		MaxInstances:       cfg.MaxInstances,
		MaxRetries:         cfg.MaxRetries,
		PollInterval:       time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		HeartbeatInterval:  time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		RestartDelayMin:    time.Duration(cfg.RestartDelayMinMs) * time.Millisecond,
		RestartDelayMax:    time.Duration(cfg.RestartDelayMaxMs) * time.Millisecond,
		EventQueueSize:     cfg.EventQueueSize,
		RateLimit:          cfg.RateLimit,
		RateWindow:         time.Duration(cfg.RateWindowMs) * time.Millisecond,
		CircuitThreshold:   cfg.CircuitThreshold,
		DeadLetterCapacity: cfg.DeadLetterCapacity,
		OwnerMaxConcurrent: cfg.OwnerMaxConcurrent,
		OwnerDailyStarts:   cfg.OwnerDailyStarts,
	}
}
