package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"

	"go.uber.org/zap"
)

// Claim atomically assigns one unowned asset of the offer to the user. The
// assignment is a single conditional UPDATE, so two concurrent completions of
// the same offer can never both receive the same asset.
func (s *Service) Claim(ctx context.Context, offerId, userId string) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.QueryRowContext(ctx, queryClaimAsset, userId, offerId).
		Scan(&asset.Id, &asset.OfferId, &asset.OwnerId, &asset.CouponCode, &asset.CreatedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoAvailableAsset
	}
	if err != nil {
		return nil, fmt.Errorf("unable to claim asset: %w", err)
	}

	zap.L().Info("Asset claimed",
		zap.String("asset_id", asset.Id),
		zap.String("offer_id", offerId),
		zap.String("owner_id", userId))
	return &asset, nil
}

func (s *Service) CountAvailable(ctx context.Context, offerId string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, queryCountAvailableAssets, offerId).Scan(&count); err != nil {
		return 0, fmt.Errorf("unable to count available assets: %w", err)
	}
	return count, nil
}

func (s *Service) Insert(ctx context.Context, asset *models.Asset) error {
	_, err := s.db.ExecContext(ctx, queryInsertAsset, asset.Id, asset.OfferId, asset.CouponCode)
	if err != nil {
		return fmt.Errorf("unable to insert asset: %w", err)
	}
	return nil
}
