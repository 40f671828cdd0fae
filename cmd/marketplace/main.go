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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-server-go/internal/auth"
	"marketplace-server-go/internal/common"
	"marketplace-server-go/internal/config"
	"marketplace-server-go/internal/httpapi"
	"marketplace-server-go/internal/order"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting marketplace public API")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	// sanity-check gateway connectivity before accepting traffic
	blockchainCfg, err := services.PaymentService.GetBlockchainConfig(ctx, "")
	if err != nil {
		zap.L().Warn("Unable to fetch blockchain config from gateway", zap.Error(err))
	} else {
		zap.L().Info("Gateway blockchain config",
			zap.String("horizon_url", blockchainCfg.HorizonURL),
			zap.String("asset_code", blockchainCfg.AssetCode))
	}

	engine := order.NewEngine(
		services.DbService,
		services.DbService.OfferStore(),
		services.DbService,
		services.DbService.UserStore(),
		services.Locker,
		services.PaymentService,
		auth.NewVerifier(services.DbService.UserStore()),
		cfg.Orders,
	)

	handler := httpapi.NewPublicHandler(engine, services.DbService.UserStore())
	server := &http.Server{
		Addr:    cfg.Server.PublicAddr,
		Handler: handler.Router(),
	}

	go func() {
		zap.L().Info("Listening", zap.String("addr", cfg.Server.PublicAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, draining connections...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
	} else {
		zap.L().Info("Server stopped gracefully")
	}
}
