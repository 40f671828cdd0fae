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

package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-server-go/internal/apierr"
	"marketplace-server-go/internal/auth"
	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"

	"go.uber.org/zap"
)

// PaymentClient is the slice of the gateway the webhook needs: once an
// external order settles, its watcher is no longer wanted.
type PaymentClient interface {
	RemoveWatcherEndpoint(ctx context.Context, blockchainVersion, address, orderId string) error
}

// Service consumes the payment gateway's asynchronous callbacks and drives
// orders to their terminal status. Callbacks are at-least-once: every handler
// tolerates replays and out-of-order delivery.
type Service struct {
	orders  store.Orders
	assets  store.Assets
	users   store.Users
	payment PaymentClient
	signer  *auth.Signer
}

func NewService(orders store.Orders, assets store.Assets, users store.Users, payment PaymentClient, signer *auth.Signer) *Service {
	return &Service{orders: orders, assets: assets, users: users, payment: payment, signer: signer}
}

// PaymentComplete settles the order named by the callback. Unknown ids and
// replays are dropped; mismatched payments fail the order with the specific
// mismatch; a success arriving after a lazy timeout still completes the order
// and clears the recorded error.
func (s *Service) PaymentComplete(ctx context.Context, payment *models.CompletedPayment) error {
	order, err := s.orders.Get(ctx, payment.Id)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Completed payment for unknown order - dropping",
			zap.String("order_id", payment.Id),
			zap.String("transaction_id", payment.TransactionId))
		return nil
	} else if err != nil {
		return fmt.Errorf("unable to load order %s: %w", payment.Id, err)
	}

	if order.Status == models.OrderStatusCompleted {
		zap.L().Info("Duplicate payment callback - already completed, dropping",
			zap.String("order_id", order.Id),
			zap.String("transaction_id", payment.TransactionId))
		return nil
	}

	appId := payment.AppId
	if appId == "" {
		user, err := s.users.Get(ctx, order.UserId)
		if err != nil {
			zap.L().Error("Payment callback without app_id and no resolvable user",
				zap.String("order_id", order.Id),
				zap.String("user_id", order.UserId))
			return s.failOrder(ctx, order, apierr.BlockchainError("payment reported without app_id"))
		}
		appId = user.AppId
	}

	if mismatch := s.validatePayment(order, payment); mismatch != nil {
		zap.L().Warn("Payment does not match order - failing",
			zap.String("order_id", order.Id),
			zap.String("transaction_id", payment.TransactionId),
			zap.String("reason", mismatch.Title),
			zap.Int64("payment_amount", payment.Amount),
			zap.Int64("order_amount", order.Amount))
		return s.failOrder(ctx, order, mismatch)
	}

	expected := order.Status
	order.BlockchainData.TransactionId = payment.TransactionId
	order.BlockchainData.SenderAddress = payment.SenderAddress
	order.BlockchainData.RecipientAddress = payment.RecipientAddress

	// The order value is derived from the settled payment, so the
	// blockchain data must be in place before it is built.
	if err := s.attachOrderValue(ctx, order, appId); err != nil {
		apiErr := apierr.FromError(err)
		if apiErr == nil {
			return err
		}
		return s.failOrder(ctx, order, apiErr)
	}

	order.Error = nil
	order.SetStatus(models.OrderStatusCompleted)

	err = s.orders.Update(ctx, order, expected)
	if errors.Is(err, store.ErrConcurrentModification) {
		current, getErr := s.orders.Get(ctx, order.Id)
		if getErr == nil && current.Status == models.OrderStatusCompleted {
			zap.L().Info("Lost completion race - order already completed, dropping",
				zap.String("order_id", order.Id))
			return nil
		}
		return fmt.Errorf("order %s changed while completing: %w", order.Id, err)
	} else if err != nil {
		return err
	}

	if order.IsExternalOrder() && order.Type != models.OrderTypeEarn {
		s.removeWatcher(ctx, order)
	}

	zap.L().Info("Order completed",
		zap.String("order_id", order.Id),
		zap.String("transaction_id", payment.TransactionId),
		zap.String("type", string(order.Type)),
		zap.Duration("time_to_complete", time.Since(order.CreatedDate)))
	return nil
}

// validatePayment compares the on-chain payment against what the order
// promised. First mismatch wins.
func (s *Service) validatePayment(order *models.Order, payment *models.CompletedPayment) *apierr.Error {
	if payment.Amount != order.Amount {
		return apierr.WrongAmount()
	}
	if payment.RecipientAddress != order.BlockchainData.RecipientAddress {
		return apierr.WrongRecipient()
	}
	if payment.SenderAddress != order.BlockchainData.SenderAddress {
		return apierr.WrongSender()
	}
	return nil
}

// attachOrderValue materializes the completed order's result: a claimed coupon
// for marketplace spend, a signed payment confirmation for external and p2p.
func (s *Service) attachOrderValue(ctx context.Context, order *models.Order, appId string) error {
	if order.IsMarketplaceOrder() && order.Type == models.OrderTypeSpend {
		asset, err := s.assets.Claim(ctx, order.OfferId, order.UserId)
		if errors.Is(err, store.ErrNoAvailableAsset) {
			return apierr.AssetUnavailable()
		} else if err != nil {
			return fmt.Errorf("unable to claim asset for order %s: %w", order.Id, err)
		}
		order.Value = asset.AsOrderValue()
		return nil
	}

	if order.IsExternalOrder() {
		user, err := s.users.Get(ctx, order.UserId)
		if err != nil {
			return fmt.Errorf("unable to load user %s: %w", order.UserId, err)
		}
		token, err := s.signer.SignPaymentConfirmation(order, user.AppUserId)
		if err != nil {
			return fmt.Errorf("unable to sign payment confirmation for order %s: %w", order.Id, err)
		}
		order.Value = &models.OrderValue{Type: models.OrderValuePaymentConfirmation, JWT: token}
	}
	return nil
}

// PaymentFailed fails the order with the gateway-reported reason. A failure
// arriving after completion is ignored; completed is terminal.
func (s *Service) PaymentFailed(ctx context.Context, payment *models.FailedPayment) error {
	order, err := s.orders.Get(ctx, payment.Id)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Failed payment for unknown order - dropping",
			zap.String("order_id", payment.Id),
			zap.String("reason", payment.Reason))
		return nil
	} else if err != nil {
		return fmt.Errorf("unable to load order %s: %w", payment.Id, err)
	}

	switch order.Status {
	case models.OrderStatusCompleted:
		zap.L().Warn("Failure callback for completed order - dropping",
			zap.String("order_id", order.Id),
			zap.String("reason", payment.Reason))
		return nil
	case models.OrderStatusFailed:
		return nil
	}

	return s.failOrder(ctx, order, apierr.BlockchainError(payment.Reason))
}

// WalletCreated acknowledges the gateway's wallet creation callback.
func (s *Service) WalletCreated(ctx context.Context, event *models.WalletCreationSuccess) error {
	zap.L().Info("Wallet created", zap.String("user_id", event.Id))
	return nil
}

// WalletCreationFailed acknowledges and records a wallet creation failure.
func (s *Service) WalletCreationFailed(ctx context.Context, event *models.WalletCreationFailure) error {
	zap.L().Error("Wallet creation failed",
		zap.String("user_id", event.Id),
		zap.String("reason", event.Reason))
	return nil
}

func (s *Service) failOrder(ctx context.Context, order *models.Order, apiErr *apierr.Error) error {
	expected := order.Status
	order.SetStatus(models.OrderStatusFailed)
	order.Error = apiErr.AsOrderError()

	err := s.orders.Update(ctx, order, expected)
	if errors.Is(err, store.ErrConcurrentModification) {
		zap.L().Info("Lost failure race - order changed concurrently, dropping",
			zap.String("order_id", order.Id))
		return nil
	} else if err != nil {
		return err
	}

	if order.IsExternalOrder() && order.Type != models.OrderTypeEarn {
		s.removeWatcher(ctx, order)
	}

	zap.L().Info("Order failed from payment callback",
		zap.String("order_id", order.Id),
		zap.String("reason", apiErr.Title))
	return nil
}

// removeWatcher is best effort; a stale watcher only causes extra callbacks,
// which the handlers drop.
func (s *Service) removeWatcher(ctx context.Context, order *models.Order) {
	err := s.payment.RemoveWatcherEndpoint(ctx,
		order.BlockchainData.BlockchainVersion,
		order.BlockchainData.RecipientAddress,
		order.Id)
	if err != nil {
		zap.L().Warn("Unable to remove watcher",
			zap.String("order_id", order.Id),
			zap.Error(err))
	}
}
