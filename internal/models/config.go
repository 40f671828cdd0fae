package models

import "time"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Payment  PaymentConfig
	JWT      JWTConfig
	Orders   OrdersConfig
}

// ServerConfig holds the HTTP listen settings of the public and internal services.
type ServerConfig struct {
	PublicAddr   string
	InternalAddr string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// RedisConfig selects the lock backend: "mock" runs an in-process locker,
// anything else is treated as a redis address.
type RedisConfig struct {
	Addr      string
	LockLease time.Duration
}

// PaymentConfig holds the payment gateway endpoints. The gateway is versioned:
// blockchain version "3" routes to ServiceV3URL, everything else to ServiceURL.
// WebhookURL is the callback this service registers with the gateway.
type PaymentConfig struct {
	ServiceURL     string
	ServiceV3URL   string
	WebhookURL     string
	RequestTimeout time.Duration
	Retries        int
}

// JWTConfig holds the ES256 signing material for payment confirmations.
type JWTConfig struct {
	PrivateKeyPEM string
	KeyId         string
	Issuer        string
}

// OrdersConfig holds lifecycle-engine tunables.
type OrdersConfig struct {
	MaxDailyEarnOffers int
	HistoryLimit       int
}
