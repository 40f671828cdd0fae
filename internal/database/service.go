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

package database

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time checks: the service and its views must satisfy the store
// contracts. Offers and Users are exposed through thin views because their
// lookup methods share names with the order store.
var (
	_ store.Orders = (*Service)(nil)
	_ store.Assets = (*Service)(nil)
	_ store.Offers = offerStore{}
	_ store.Users  = userStore{}
)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.InitSchema(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceWithDB wraps an already opened connection (tests use :memory:).
func NewServiceWithDB(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) InitSchema() error {
	schema := `
	-- Orders table: one row per order
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		origin TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		offer_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		blockchain_data TEXT NOT NULL DEFAULT '{}',
		value TEXT,
		error TEXT,
		created_date TIMESTAMP NOT NULL,
		current_status_date TIMESTAMP NOT NULL,
		expiration_date TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_orders_offer ON orders(offer_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_expiration ON orders(expiration_date);

	-- Per-participant order contexts: (order, user, role) -> display metadata
	CREATE TABLE IF NOT EXISTS orders_contexts (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		meta TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (order_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_contexts_user ON orders_contexts(user_id);

	-- Offers (read-mostly collaborator data)
	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		app_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		cap TEXT NOT NULL DEFAULT '{}',
		meta TEXT NOT NULL DEFAULT '{}',
		blockchain_data TEXT NOT NULL DEFAULT '{}',
		created_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_offers_app_type ON offers(app_id, type);

	CREATE TABLE IF NOT EXISTS offer_contents (
		offer_id TEXT PRIMARY KEY REFERENCES offers(id) ON DELETE CASCADE,
		content_type TEXT NOT NULL,
		content TEXT NOT NULL
	);

	-- Asset pool for marketplace spend offers; owner_id empty = unowned
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		offer_id TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		coupon_code TEXT NOT NULL,
		created_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_assets_offer_owner ON assets(offer_id, owner_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		app_id TEXT NOT NULL,
		app_user_id TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		activated BOOLEAN NOT NULL DEFAULT 1,
		created_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(app_id, app_user_id)
	);

	CREATE TABLE IF NOT EXISTS apps (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		wallet_addresses TEXT NOT NULL,
		recipient_address TEXT NOT NULL,
		blockchain_version TEXT NOT NULL DEFAULT '2',
		jwt_public_key TEXT NOT NULL DEFAULT '',
		created_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Submitted poll forms, kept for reporting
	CREATE TABLE IF NOT EXISTS poll_answers (
		order_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		offer_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}
