package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-server-go/internal/apierr"
	"marketplace-server-go/internal/auth"
	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateMarketplaceOrder opens an order against a marketplace offer. Creation
// is idempotent per (offer, user): an already-opened order with enough
// lifetime left is returned instead of a new one. The narrow per-user lock is
// taken before the per-offer creation lock, always in that system-wide order.
func (e *Engine) CreateMarketplaceOrder(ctx context.Context, offerId string, user *models.User) (*models.Order, error) {
	offer, err := e.offers.Get(ctx, offerId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierr.NoSuchOffer(offerId)
	} else if err != nil {
		return nil, err
	}
	if offer.AppId != user.AppId {
		return nil, apierr.NoSuchOffer(offerId)
	}

	if offer.Type == models.OrderTypeEarn && e.cfg.MaxDailyEarnOffers > 0 {
		since := time.Now().UTC().Add(-24 * time.Hour)
		count, err := e.orders.CountByUserSince(ctx, user.Id, models.OriginMarketplace, since)
		if err != nil {
			return nil, err
		}
		if count >= e.cfg.MaxDailyEarnOffers {
			return nil, apierr.OfferCapReached(offerId)
		}
	}

	var order *models.Order
	err = e.locker.WithLock(ctx, getOrderLock(offerId, user.Id), func(ctx context.Context) error {
		existing, err := e.orders.GetOpenOrder(ctx, offerId, user.Id)
		if err == nil {
			order = existing
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		return e.locker.WithLock(ctx, createOrderLock(offerId), func(ctx context.Context) error {
			if err := e.checkOfferCap(ctx, offer, user.Id); err != nil {
				return err
			}
			order, err = e.createMarketplaceOrder(ctx, offer, user)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (e *Engine) checkOfferCap(ctx context.Context, offer *models.Offer, userId string) error {
	if offer.Cap.Total > 0 {
		total, err := e.orders.CountByOffer(ctx, offer.Id, "")
		if err != nil {
			return err
		}
		if total >= offer.Cap.Total {
			return apierr.OfferCapReached(offer.Id)
		}
	}
	if offer.Cap.PerUser > 0 {
		perUser, err := e.orders.CountByOffer(ctx, offer.Id, userId)
		if err != nil {
			return err
		}
		if perUser >= offer.Cap.PerUser {
			return apierr.OfferCapReached(offer.Id)
		}
	}
	return nil
}

func (e *Engine) createMarketplaceOrder(ctx context.Context, offer *models.Offer, user *models.User) (*models.Order, error) {
	app, err := e.users.GetApp(ctx, user.AppId)
	if err != nil {
		return nil, fmt.Errorf("unable to load app %s: %w", user.AppId, err)
	}

	order := &models.Order{
		Id:      newOrderId(),
		Origin:  models.OriginMarketplace,
		Type:    offer.Type,
		OfferId: offer.Id,
		Amount:  offer.Amount,
		UserId:  user.Id,
		Meta:    offer.Meta.OrderMeta,
		BlockchainData: models.BlockchainData{
			BlockchainVersion: app.BlockchainVersion,
		},
		CreatedDate: time.Now().UTC(),
	}

	switch offer.Type {
	case models.OrderTypeEarn:
		sender, err := e.pickSenderAddress(ctx, app, offer.Amount)
		if err != nil {
			return nil, err
		}
		order.BlockchainData.SenderAddress = sender
		order.BlockchainData.RecipientAddress = user.WalletAddress
	case models.OrderTypeSpend:
		order.BlockchainData.SenderAddress = user.WalletAddress
		order.BlockchainData.RecipientAddress = offer.BlockchainData.RecipientAddress
	default:
		return nil, fmt.Errorf("marketplace offer %s has unexpected type %q", offer.Id, offer.Type)
	}

	// spend payments arrive from outside, so the gateway has to watch for
	// them. Register before persisting: a reusable order must never exist
	// without its watcher.
	if offer.Type == models.OrderTypeSpend {
		if err := e.watchOrder(ctx, order); err != nil {
			return nil, err
		}
	}

	order.SetStatus(models.OrderStatusOpened)
	if err := e.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	zap.L().Info("order created",
		zap.String("order_id", order.Id),
		zap.String("offer_id", offer.Id),
		zap.String("user_id", user.Id),
		zap.String("type", string(order.Type)))
	return order, nil
}

// pickSenderAddress prefers the primary app wallet when its balance covers the
// amount, falling back to the joined wallet.
func (e *Engine) pickSenderAddress(ctx context.Context, app *models.App, amount int64) (string, error) {
	wallet, err := e.payment.GetWalletData(ctx, app.BlockchainVersion, app.OurWallet())
	if err != nil {
		return "", err
	}
	if wallet.KinBalance.GreaterThan(decimal.NewFromInt(amount)) {
		return app.OurWallet(), nil
	}
	return app.JoinedWallet(), nil
}

func (e *Engine) watchOrder(ctx context.Context, order *models.Order) error {
	_, err := e.payment.AddWatcherEndpoint(ctx,
		order.BlockchainData.BlockchainVersion,
		[]string{order.BlockchainData.RecipientAddress},
		order.Id)
	if err != nil {
		return err
	}
	return nil
}

// CreateExternalOrder opens an order described by a partner-signed JWT. An
// opened order for the same (offer, user) is reused; a completed one is a
// conflict; a failed one allows a fresh attempt.
func (e *Engine) CreateExternalOrder(ctx context.Context, token string, user *models.User) (*models.Order, error) {
	payload, err := e.verifier.ValidateExternalOrderJWT(ctx, token, user)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = e.locker.WithLock(ctx, getOrderLock(payload.OfferId, user.Id), func(ctx context.Context) error {
		existing, err := e.orders.GetOpenOrder(ctx, payload.OfferId, user.Id)
		if err == nil {
			order = existing
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		return e.locker.WithLock(ctx, createOrderLock(payload.OfferId), func(ctx context.Context) error {
			latest, err := e.orders.GetLatest(ctx, payload.OfferId, user.Id)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if latest != nil && latest.Status == models.OrderStatusCompleted {
				return apierr.ExternalOrderAlreadyCompleted(latest.Id)
			}
			order, err = e.createExternalOrder(ctx, payload, user)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (e *Engine) createExternalOrder(ctx context.Context, payload *auth.ExternalOrderPayload, user *models.User) (*models.Order, error) {
	app, err := e.users.GetApp(ctx, user.AppId)
	if err != nil {
		return nil, fmt.Errorf("unable to load app %s: %w", user.AppId, err)
	}

	order := &models.Order{
		Id:      newOrderId(),
		Origin:  models.OriginExternal,
		Type:    payload.Subject,
		OfferId: payload.OfferId,
		Amount:  payload.Amount,
		UserId:  user.Id,
		BlockchainData: models.BlockchainData{
			BlockchainVersion: app.BlockchainVersion,
		},
		CreatedDate: time.Now().UTC(),
	}

	switch payload.Subject {
	case models.OrderTypeEarn:
		order.Meta = models.OrderMeta{Title: payload.Recipient.Title, Description: payload.Recipient.Description}
		sender, err := e.pickSenderAddress(ctx, app, payload.Amount)
		if err != nil {
			return nil, err
		}
		order.BlockchainData.SenderAddress = sender
		order.BlockchainData.RecipientAddress = user.WalletAddress

	case models.OrderTypeSpend:
		order.Meta = models.OrderMeta{Title: payload.Sender.Title, Description: payload.Sender.Description}
		order.BlockchainData.SenderAddress = user.WalletAddress
		order.BlockchainData.RecipientAddress = app.RecipientAddress

	case models.OrderTypePayToUser:
		recipient, err := e.users.FindByAppUserId(ctx, user.AppId, payload.Recipient.UserId)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NoSuchUser(user.AppId, payload.Recipient.UserId)
		} else if err != nil {
			return nil, err
		}
		if !recipient.Activated {
			return nil, apierr.NoSuchUser(user.AppId, payload.Recipient.UserId)
		}
		order.Origin = models.OriginP2P
		order.Meta = models.OrderMeta{Title: payload.Sender.Title, Description: payload.Sender.Description}
		order.RecipientId = recipient.Id
		order.RecipientMeta = &models.OrderMeta{Title: payload.Recipient.Title, Description: payload.Recipient.Description}
		order.BlockchainData.SenderAddress = user.WalletAddress
		order.BlockchainData.RecipientAddress = recipient.WalletAddress
	}

	// client-paid orders need the gateway watching the destination wallet,
	// registered before the order is persisted and becomes reusable
	if payload.Subject != models.OrderTypeEarn {
		if err := e.watchOrder(ctx, order); err != nil {
			return nil, err
		}
	}

	order.SetStatus(models.OrderStatusOpened)
	if err := e.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	zap.L().Info("external order created",
		zap.String("order_id", order.Id),
		zap.String("offer_id", order.OfferId),
		zap.String("user_id", user.Id),
		zap.String("origin", string(order.Origin)))
	return order, nil
}
