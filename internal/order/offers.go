package order

import (
	"context"
	"time"

	"marketplace-server-go/internal/models"
)

// ListOffers returns the offers currently available to the user: offers the
// user already completed (or whose per-user cap the user exhausted) are
// hidden, and the earn list is truncated to the user's remaining daily
// allowance.
func (e *Engine) ListOffers(ctx context.Context, user *models.User, offerType models.OrderType) ([]*models.Offer, error) {
	offers, err := e.offers.ListByApp(ctx, user.AppId, offerType)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Offer, 0, len(offers))
	for _, offer := range offers {
		available, err := e.offerAvailable(ctx, offer, user.Id)
		if err != nil {
			return nil, err
		}
		if available {
			filtered = append(filtered, offer)
		}
	}

	if offerType == models.OrderTypeEarn && e.cfg.MaxDailyEarnOffers > 0 {
		remaining, err := e.remainingDailyEarn(ctx, user.Id)
		if err != nil {
			return nil, err
		}
		if remaining < 0 {
			remaining = 0
		}
		if len(filtered) > remaining {
			filtered = filtered[:remaining]
		}
	}
	return filtered, nil
}

func (e *Engine) offerAvailable(ctx context.Context, offer *models.Offer, userId string) (bool, error) {
	if offer.Cap.PerUser > 0 {
		count, err := e.orders.CountByOffer(ctx, offer.Id, userId)
		if err != nil {
			return false, err
		}
		if count >= offer.Cap.PerUser {
			return false, nil
		}
	}
	if offer.Cap.Total > 0 {
		total, err := e.orders.CountByOffer(ctx, offer.Id, "")
		if err != nil {
			return false, err
		}
		if total >= offer.Cap.Total {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) remainingDailyEarn(ctx context.Context, userId string) (int, error) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	count, err := e.orders.CountByUserSince(ctx, userId, models.OriginMarketplace, since)
	if err != nil {
		return 0, err
	}
	return e.cfg.MaxDailyEarnOffers - count, nil
}
