/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"marketplace-server-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	lockLease, err := getEnvDuration("REDIS_LOCK_LEASE", 10*time.Second)
	if err != nil {
		return nil, err
	}

	paymentTimeout, err := getEnvDuration("PAYMENT_REQUEST_TIMEOUT", time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Server: models.ServerConfig{
			PublicAddr:   getEnvString("APP_PUBLIC_ADDR", ":3000"),
			InternalAddr: getEnvString("APP_INTERNAL_ADDR", ":3001"),
		},
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "marketplace.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Redis: models.RedisConfig{
			Addr:      getEnvString("REDIS_ADDR", "mock"),
			LockLease: lockLease,
		},
		Payment: models.PaymentConfig{
			ServiceURL:     getEnvString("PAYMENT_SERVICE_URL", "http://localhost:8010"),
			ServiceV3URL:   getEnvString("PAYMENT_SERVICE_V3_URL", "http://localhost:8011"),
			WebhookURL:     getEnvString("PAYMENT_WEBHOOK_URL", "http://localhost:3001/v1/internal/webhook"),
			RequestTimeout: paymentTimeout,
			Retries:        getEnvInt("PAYMENT_RETRIES", 3),
		},
		JWT: models.JWTConfig{
			PrivateKeyPEM: getEnvString("JWT_PRIVATE_KEY", ""),
			KeyId:         getEnvString("JWT_KEY_ID", "es256_0"),
			Issuer:        getEnvString("JWT_ISSUER", "marketplace"),
		},
		Orders: models.OrdersConfig{
			MaxDailyEarnOffers: getEnvInt("MAX_DAILY_EARN_OFFERS", 5),
			HistoryLimit:       getEnvInt("ORDER_HISTORY_LIMIT", 100),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
