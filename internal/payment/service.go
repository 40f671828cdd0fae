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

package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"marketplace-server-go/internal/apierr"
	"marketplace-server-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// watchers are registered under this service id on the gateway
const serviceId = "marketplace"

// blockchain version "3" routes to the new payment service
const newBlockchainVersion = "3"

// Service is the outbound client of the payment gateway. The gateway is
// versioned: each call carries a blockchain version tag that selects one of
// two independently configured base URLs. This routing is how users migrate
// between backing ledgers without a flag day.
type Service struct {
	client     *http.Client
	serviceURL string
	v3URL      string
	webhookURL string
	retries    int
}

func NewService(cfg models.PaymentConfig) (*Service, error) {
	httpClient, err := createCustomHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}

	return &Service{
		client:     httpClient,
		serviceURL: cfg.ServiceURL,
		v3URL:      cfg.ServiceV3URL,
		webhookURL: cfg.WebhookURL,
		retries:    retries,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = time.Second
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// PayTo submits an earn payment for the order. Only the gateway's
// acknowledgment is awaited; completion arrives later through the webhook.
func (s *Service) PayTo(ctx context.Context, blockchainVersion, recipientAddress, senderAddress, appId string, amount int64, orderId string, isExternal bool) error {
	zap.L().Info("Paying to wallet",
		zap.Int64("amount", amount),
		zap.String("recipient_address", recipientAddress),
		zap.String("order_id", orderId))

	payload := models.PaymentRequest{
		Amount:           amount,
		AppId:            appId,
		IsExternal:       isExternal,
		RecipientAddress: recipientAddress,
		SenderAddress:    senderAddress,
		Id:               orderId,
		Callback:         s.webhookURL,
	}

	start := time.Now()
	err := s.do(ctx, http.MethodPost, s.baseURL(blockchainVersion)+"/payments", payload, nil)
	zap.L().Debug("Pay to took", zap.Duration("elapsed", time.Since(start)))
	return err
}

// CreateWallet asks the gateway to create/activate a wallet account.
func (s *Service) CreateWallet(ctx context.Context, blockchainVersion, walletAddress, appId, id string) error {
	payload := models.WalletRequest{
		Id:            id,
		WalletAddress: walletAddress,
		AppId:         appId,
		Callback:      s.webhookURL,
	}

	start := time.Now()
	err := s.do(ctx, http.MethodPost, s.baseURL(blockchainVersion)+"/wallets", payload, nil)
	zap.L().Info("Wallet creation took", zap.Duration("elapsed", time.Since(start)))
	return err
}

// GetWalletData fetches the balance state of a wallet address.
func (s *Service) GetWalletData(ctx context.Context, blockchainVersion, walletAddress string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.do(ctx, http.MethodGet, s.baseURL(blockchainVersion)+"/wallets/"+walletAddress, nil, &wallet)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// AddWatcherEndpoint subscribes the webhook to payments on the addresses.
func (s *Service) AddWatcherEndpoint(ctx context.Context, blockchainVersion string, addresses []string, orderId string) (*models.Watcher, error) {
	payload := models.Watcher{WalletAddresses: addresses, OrderId: orderId, Callback: s.webhookURL}
	var watcher models.Watcher
	err := s.do(ctx, http.MethodPost, s.baseURL(blockchainVersion)+"/watchers/"+serviceId, payload, &watcher)
	if err != nil {
		return nil, err
	}
	return &watcher, nil
}

// RemoveWatcherEndpoint drops the subscription for one address. The gateway
// dedupes across outstanding orders on the same address.
func (s *Service) RemoveWatcherEndpoint(ctx context.Context, blockchainVersion, address, orderId string) error {
	payload := models.WatcherRemoval{WalletAddress: address, OrderId: orderId}
	return s.do(ctx, http.MethodDelete, s.baseURL(blockchainVersion)+"/watchers/"+serviceId, payload, nil)
}

// GetBlockchainConfig fetches the ledger parameters for the version.
func (s *Service) GetBlockchainConfig(ctx context.Context, blockchainVersion string) (*models.BlockchainConfig, error) {
	var cfg models.BlockchainConfig
	err := s.do(ctx, http.MethodGet, s.baseURL(blockchainVersion)+"/config", nil, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WhitelistTransaction submits a transaction envelope for whitelisting. The
// whitelist endpoint only exists on the new payment service. A 401 means the
// envelope does not match the order and surfaces as a transaction mismatch.
func (s *Service) WhitelistTransaction(ctx context.Context, order *models.Order, networkId, txEnvelope, appId string) (string, error) {
	payload := models.WhitelistRequest{
		OrderId:     order.Id,
		Source:      order.BlockchainData.SenderAddress,
		Destination: order.BlockchainData.RecipientAddress,
		Amount:      order.Amount,
		XDR:         txEnvelope,
		NetworkId:   networkId,
		AppId:       appId,
	}

	var response models.WhitelistResponse
	err := s.do(ctx, http.MethodPost, s.v3URL+"/whitelist", payload, &response)
	if err != nil {
		if apiErr := apierr.FromError(err); apiErr != nil {
			return "", apiErr
		}
		return "", err
	}
	return response.TxEnvelope, nil
}

func (s *Service) baseURL(blockchainVersion string) string {
	if blockchainVersion == newBlockchainVersion {
		return s.v3URL
	}
	return s.serviceURL
}

// do runs one request with bounded retries on server-class failures and
// transport errors. Timeouts are reported as blockchain errors, never
// swallowed.
func (s *Service) do(ctx context.Context, method, url string, payload, result any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("unable to marshal request payload: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		retryable, err := s.doOnce(ctx, method, url, body, result)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		zap.L().Warn("Payment service request failed, retrying",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return lastErr
}

func (s *Service) doOnce(ctx context.Context, method, url string, body []byte, result any) (retryable bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false, fmt.Errorf("unable to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// transport failure or client timeout
		return true, apierr.BlockchainError(fmt.Sprintf("payment service unreachable: %v", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return false, fmt.Errorf("unable to decode response: %w", err)
			}
		}
		return false, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return false, apierr.TransactionMismatch()
	case resp.StatusCode >= 500:
		return true, apierr.BlockchainError(fmt.Sprintf("payment service returned %d", resp.StatusCode))
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("payment service returned %d: %s", resp.StatusCode, data)
	}
}
