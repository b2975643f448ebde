package app

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
	if cfg.CouponCeiling != 100 || cfg.CouponDiscountRate != 10 || cfg.CouponValidity != 30*24*time.Hour {
		t.Fatalf("unexpected coupon defaults: %+v", cfg)
	}
	if cfg.StorageDriver != StorageMemory || cfg.LockDriver != LockMemory {
		t.Fatalf("unexpected drivers: %s/%s", cfg.StorageDriver, cfg.LockDriver)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown storage", mutate: func(c *Config) { c.StorageDriver = "mongo" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageDriver = StoragePostgres }},
		{name: "unknown lock driver", mutate: func(c *Config) { c.LockDriver = "zookeeper" }},
		{name: "redis without addr", mutate: func(c *Config) { c.LockDriver = LockRedis; c.RedisAddr = " " }},
		{name: "zero lease", mutate: func(c *Config) { c.LockLease = 0 }},
		{name: "negative ceiling", mutate: func(c *Config) { c.CouponCeiling = -1 }},
		{name: "discount above 100", mutate: func(c *Config) { c.CouponDiscountRate = 101 }},
		{name: "zero validity", mutate: func(c *Config) { c.CouponValidity = 0 }},
		{name: "negative buyer lease", mutate: func(c *Config) { c.LockBuyerLease = -time.Second }},
		{name: "negative retention", mutate: func(c *Config) { c.OutboxRetention = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestConfigBrokers(t *testing.T) {
	cfg := Config{KafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}
	brokers := cfg.Brokers()
	if len(brokers) != 2 || brokers[0] != "kafka-1:9092" || brokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", brokers)
	}
	if got := (Config{}).Brokers(); len(got) != 0 {
		t.Fatalf("expected no brokers, got %v", got)
	}
}
