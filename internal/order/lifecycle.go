package order

import (
	"context"
	"errors"

	"marketplace-server-go/internal/apierr"
	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"

	"go.uber.org/zap"
)

// SubmitOrder moves an opened order to pending. For marketplace earn orders
// the submitted form is validated against the offer content first, and the
// gateway payment is kicked off. Submitting a non-opened order returns it
// unchanged, which makes client retries harmless.
func (e *Engine) SubmitOrder(ctx context.Context, orderId, userId, form string) (*models.Order, error) {
	order, err := e.getParticipantOrder(ctx, orderId, userId)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusOpened {
		return order, nil
	}
	if order.IsExpired() {
		return nil, apierr.OpenOrderExpired(orderId)
	}

	if order.IsMarketplaceOrder() && order.Type == models.OrderTypeEarn {
		if err := e.applyEarnContent(ctx, order, userId, form); err != nil {
			return nil, err
		}
	}

	app, err := e.users.GetApp(ctx, e.orderAppId(ctx, order))
	if err != nil {
		return nil, err
	}
	// the app may have migrated ledgers since the order was opened
	order.BlockchainData.BlockchainVersion = app.BlockchainVersion

	order.SetStatus(models.OrderStatusPending)
	if err := e.orders.Update(ctx, order, models.OrderStatusOpened); err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			// raced with another submit; hand back the winner's state
			return e.orders.Get(ctx, orderId)
		}
		return nil, err
	}

	if order.Type == models.OrderTypeEarn {
		if err := e.payEarnOrder(ctx, order, app.Id); err != nil {
			return nil, err
		}
	}

	zap.L().Info("order submitted",
		zap.String("order_id", order.Id),
		zap.String("user_id", userId))
	return order, nil
}

func (e *Engine) applyEarnContent(ctx context.Context, order *models.Order, userId, form string) error {
	content, err := e.offers.GetContent(ctx, order.OfferId)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	switch content.ContentType {
	case models.ContentTypePoll:
		if err := validatePollAnswers(content.Content, form); err != nil {
			return err
		}
	case models.ContentTypeQuiz:
		amount, err := quizReward(content.Content, form)
		if err != nil {
			return err
		}
		order.Amount = amount
	case models.ContentTypeTutorial:
		return nil
	default:
		return nil
	}

	return e.offers.SavePollAnswers(ctx, store.PollAnswerParams{
		UserId:  userId,
		OfferId: order.OfferId,
		OrderId: order.Id,
		Content: form,
	})
}

// payEarnOrder asks the gateway to move the funds; completion or failure
// arrives later on the webhook. A synchronous gateway refusal fails the order.
func (e *Engine) payEarnOrder(ctx context.Context, order *models.Order, appId string) error {
	err := e.payment.PayTo(ctx,
		order.BlockchainData.BlockchainVersion,
		order.BlockchainData.RecipientAddress,
		order.BlockchainData.SenderAddress,
		appId,
		order.Amount,
		order.Id,
		order.IsExternalOrder())
	if err != nil {
		apiErr := apierr.FromError(err)
		if apiErr == nil {
			apiErr = apierr.BlockchainError(err.Error())
		}
		if failErr := e.FailOrder(ctx, order, apiErr.AsOrderError()); failErr != nil {
			zap.L().Error("unable to fail order after rejected payment",
				zap.String("order_id", order.Id), zap.Error(failErr))
		}
		return apiErr
	}
	return nil
}

func (e *Engine) orderAppId(ctx context.Context, order *models.Order) string {
	user, err := e.users.Get(ctx, order.UserId)
	if err != nil {
		return ""
	}
	return user.AppId
}

// GetOrder returns a submitted order, lazily failing it when its pending
// window has elapsed without a gateway callback. Opened orders are not
// addressable here.
func (e *Engine) GetOrder(ctx context.Context, orderId, userId string) (*models.Order, error) {
	order, err := e.getParticipantOrder(ctx, orderId, userId)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusOpened {
		return nil, apierr.NoSuchOrder(orderId)
	}
	return e.expireIfNeeded(ctx, order)
}

// expireIfNeeded applies the lazy pending-timeout transition on read.
func (e *Engine) expireIfNeeded(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Status != models.OrderStatusPending || !order.IsExpired() {
		return order, nil
	}
	order.SetStatus(models.OrderStatusFailed)
	order.Error = apierr.TransactionTimeout().AsOrderError()
	err := e.orders.Update(ctx, order, models.OrderStatusPending)
	if errors.Is(err, store.ErrConcurrentModification) {
		// a callback or another reader got there first
		return e.orders.Get(ctx, order.Id)
	} else if err != nil {
		return nil, err
	}
	zap.L().Info("order expired while pending", zap.String("order_id", order.Id))
	return order, nil
}

// CancelOrder removes an opened order. Anything past opened is out of the
// user's hands.
func (e *Engine) CancelOrder(ctx context.Context, orderId, userId string) error {
	order, err := e.getParticipantOrder(ctx, orderId, userId)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusOpened {
		return apierr.NoSuchOrder(orderId)
	}
	err = e.orders.Delete(ctx, orderId, models.OrderStatusOpened)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConcurrentModification) {
		return apierr.NoSuchOrder(orderId)
	}
	return err
}

// GetOrderHistory lists the user's submitted orders, newest first, applying
// the lazy pending-timeout transition to each.
func (e *Engine) GetOrderHistory(ctx context.Context, userId string, filters store.OrderFilters) ([]*models.Order, error) {
	filters.UserId = userId
	filters.Status = "!" + string(models.OrderStatusOpened)
	if filters.Limit <= 0 || filters.Limit > e.cfg.HistoryLimit {
		filters.Limit = e.cfg.HistoryLimit
	}
	orders, err := e.orders.List(ctx, filters)
	if err != nil {
		return nil, err
	}
	for i, order := range orders {
		refreshed, err := e.expireIfNeeded(ctx, order)
		if err != nil {
			return nil, err
		}
		orders[i] = refreshed
	}
	return orders, nil
}

// ChangeOrder lets the client mark its own submitted order as failed,
// typically when the wallet-side transaction could not be constructed.
// Opened orders are cancelled, not failed, and completed orders never
// transition again.
func (e *Engine) ChangeOrder(ctx context.Context, orderId, userId string, orderError *models.OrderError) (*models.Order, error) {
	order, err := e.getParticipantOrder(ctx, orderId, userId)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case models.OrderStatusOpened:
		return nil, apierr.NoSuchOrder(orderId)
	case models.OrderStatusCompleted:
		return nil, apierr.CompletedOrderCantTransitionToFailed()
	case models.OrderStatusFailed:
		return order, nil
	}
	if err := e.FailOrder(ctx, order, orderError); err != nil {
		return nil, err
	}
	return order, nil
}

// FailOrder transitions the order from its current status to failed with the
// given error detail.
func (e *Engine) FailOrder(ctx context.Context, order *models.Order, orderError *models.OrderError) error {
	expected := order.Status
	order.SetStatus(models.OrderStatusFailed)
	order.Error = orderError
	err := e.orders.Update(ctx, order, expected)
	if err != nil {
		return err
	}
	zap.L().Info("order failed",
		zap.String("order_id", order.Id),
		zap.String("reason", orderError.Error))
	return nil
}

// WhitelistOrder signs a client-built transaction envelope for the order
// through the gateway. Any order the caller participates in qualifies; the
// gateway itself rejects envelopes that no longer match.
func (e *Engine) WhitelistOrder(ctx context.Context, orderId, userId, networkId, txEnvelope string) (string, error) {
	order, err := e.getParticipantOrder(ctx, orderId, userId)
	if err != nil {
		return "", err
	}
	user, err := e.users.Get(ctx, order.UserId)
	if err != nil {
		return "", err
	}
	return e.payment.WhitelistTransaction(ctx, order, networkId, txEnvelope, user.AppId)
}

// getParticipantOrder loads the order and verifies the caller participates in
// it. Hiding foreign orders behind NoSuchOrder keeps ids unguessable.
func (e *Engine) getParticipantOrder(ctx context.Context, orderId, userId string) (*models.Order, error) {
	order, err := e.orders.Get(ctx, orderId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierr.NoSuchOrder(orderId)
	} else if err != nil {
		return nil, err
	}
	if order.UserId != userId && order.RecipientId != userId {
		return nil, apierr.NoSuchOrder(orderId)
	}
	return order, nil
}
