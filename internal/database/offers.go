package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"
)

func (s *Service) GetOffer(ctx context.Context, offerId string) (*models.Offer, error) {
	return scanOffer(s.db.QueryRowContext(ctx, queryGetOffer, offerId))
}

// store.Offers is implemented on the same Service as the other stores; the
// Get name collides with store.Orders, so the interface is satisfied through
// a thin view.
type offerStore struct {
	*Service
}

// OfferStore returns the store.Offers view of the service.
func (s *Service) OfferStore() store.Offers {
	return offerStore{s}
}

func (v offerStore) Get(ctx context.Context, offerId string) (*models.Offer, error) {
	return v.Service.GetOffer(ctx, offerId)
}

func (s *Service) GetContent(ctx context.Context, offerId string) (*models.OfferContent, error) {
	var content models.OfferContent
	err := s.db.QueryRowContext(ctx, queryGetOfferContent, offerId).
		Scan(&content.OfferId, &content.ContentType, &content.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query offer content: %w", err)
	}
	return &content, nil
}

func (s *Service) ListByApp(ctx context.Context, appId string, offerType models.OrderType) ([]*models.Offer, error) {
	// earn offers are presented richest first, spend offers cheapest first
	order := " ORDER BY amount DESC, id ASC"
	if offerType == models.OrderTypeSpend {
		order = " ORDER BY amount ASC, id ASC"
	}

	rows, err := s.db.QueryContext(ctx, queryListOffersByApp+order, appId, offerType)
	if err != nil {
		return nil, fmt.Errorf("unable to list offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer, err := scanOfferRows(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

func (s *Service) SavePollAnswers(ctx context.Context, params store.PollAnswerParams) error {
	_, err := s.db.ExecContext(ctx, queryInsertPollAnswers,
		params.OrderId, params.UserId, params.OfferId, params.Content)
	if err != nil {
		return fmt.Errorf("unable to save poll answers: %w", err)
	}
	return nil
}

func (s *Service) CreateOffer(ctx context.Context, offer *models.Offer, content *models.OfferContent) error {
	cap, err := json.Marshal(offer.Cap)
	if err != nil {
		return fmt.Errorf("unable to marshal offer cap: %w", err)
	}
	meta, err := json.Marshal(offer.Meta)
	if err != nil {
		return fmt.Errorf("unable to marshal offer meta: %w", err)
	}
	blockchainData, err := json.Marshal(offer.BlockchainData)
	if err != nil {
		return fmt.Errorf("unable to marshal offer blockchain data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertOffer,
		offer.Id, offer.AppId, offer.Type, offer.Amount, string(cap), string(meta), string(blockchainData))
	if err != nil {
		return fmt.Errorf("unable to insert offer: %w", err)
	}

	if content != nil {
		_, err = s.db.ExecContext(ctx, queryInsertOfferContent, offer.Id, content.ContentType, content.Content)
		if err != nil {
			return fmt.Errorf("unable to insert offer content: %w", err)
		}
	}
	return nil
}

func (v offerStore) Create(ctx context.Context, offer *models.Offer, content *models.OfferContent) error {
	return v.Service.CreateOffer(ctx, offer, content)
}

func scanOffer(row *sql.Row) (*models.Offer, error) {
	var (
		offer          models.Offer
		cap            string
		meta           string
		blockchainData string
	)
	err := row.Scan(&offer.Id, &offer.AppId, &offer.Type, &offer.Amount, &cap, &meta, &blockchainData, &offer.CreatedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to scan offer: %w", err)
	}
	if err := unmarshalOffer(&offer, cap, meta, blockchainData); err != nil {
		return nil, err
	}
	return &offer, nil
}

func scanOfferRows(rows *sql.Rows) (*models.Offer, error) {
	var (
		offer          models.Offer
		cap            string
		meta           string
		blockchainData string
	)
	err := rows.Scan(&offer.Id, &offer.AppId, &offer.Type, &offer.Amount, &cap, &meta, &blockchainData, &offer.CreatedDate)
	if err != nil {
		return nil, fmt.Errorf("unable to scan offer: %w", err)
	}
	if err := unmarshalOffer(&offer, cap, meta, blockchainData); err != nil {
		return nil, err
	}
	return &offer, nil
}

func unmarshalOffer(offer *models.Offer, cap, meta, blockchainData string) error {
	if err := json.Unmarshal([]byte(cap), &offer.Cap); err != nil {
		return fmt.Errorf("unable to unmarshal offer cap: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &offer.Meta); err != nil {
		return fmt.Errorf("unable to unmarshal offer meta: %w", err)
	}
	if err := json.Unmarshal([]byte(blockchainData), &offer.BlockchainData); err != nil {
		return fmt.Errorf("unable to unmarshal offer blockchain data: %w", err)
	}
	return nil
}
