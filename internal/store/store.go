package store

import (
	"context"
	"errors"
	"time"

	"marketplace-server-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrNoAvailableAsset       = errors.New("no unowned asset for offer")
)

// OrderFilters narrows List results. Status and Origin support negation with a
// leading "!", e.g. "!opened" (the callers mostly list non-opened orders).
type OrderFilters struct {
	UserId  string
	OfferId string
	Origin  string
	Status  string
	Limit   int
}

// PollAnswerParams records a user's submitted poll form for an order.
type PollAnswerParams struct {
	UserId  string
	OfferId string
	OrderId string
	Content string
}

// Orders persists orders and their participant contexts.
type Orders interface {
	// Create persists a new order together with its contexts.
	Create(ctx context.Context, order *models.Order) error

	// Get returns the order with its contexts, or ErrNotFound.
	Get(ctx context.Context, orderId string) (*models.Order, error)

	// GetOpenOrder returns an opened, not-about-to-expire order for the
	// (offer, user) pair, or ErrNotFound. Orders with less than two minutes
	// of lifetime left are not reusable.
	GetOpenOrder(ctx context.Context, offerId, userId string) (*models.Order, error)

	// GetLatest returns the most recent order for the (offer, user) pair
	// regardless of status, or ErrNotFound.
	GetLatest(ctx context.Context, offerId, userId string) (*models.Order, error)

	// HasCompleted reports whether a completed order exists for the pair.
	HasCompleted(ctx context.Context, offerId, userId string) (bool, error)

	// Update saves the order's mutable fields if its stored status still
	// equals expectedStatus; returns ErrConcurrentModification otherwise.
	Update(ctx context.Context, order *models.Order, expectedStatus models.OrderStatus) error

	// Delete removes the order if it is still in expectedStatus.
	Delete(ctx context.Context, orderId string, expectedStatus models.OrderStatus) error

	// CountByOffer counts orders that hold a slot against the offer cap:
	// completed ones plus opened/pending ones that have not expired.
	// An empty userId counts across all users.
	CountByOffer(ctx context.Context, offerId, userId string) (int, error)

	// CountByUserSince counts the user's orders of the given origin created
	// at or after the cutoff (daily earn cap accounting).
	CountByUserSince(ctx context.Context, userId string, origin models.OrderOrigin, since time.Time) (int, error)

	// List returns orders matching the filters, newest first by
	// current-status date.
	List(ctx context.Context, filters OrderFilters) ([]*models.Order, error)
}

// Offers reads offer rows and their content definitions.
type Offers interface {
	Get(ctx context.Context, offerId string) (*models.Offer, error)
	GetContent(ctx context.Context, offerId string) (*models.OfferContent, error)
	ListByApp(ctx context.Context, appId string, offerType models.OrderType) ([]*models.Offer, error)
	SavePollAnswers(ctx context.Context, params PollAnswerParams) error

	// Create is used by the seed tool only.
	Create(ctx context.Context, offer *models.Offer, content *models.OfferContent) error
}

// Assets owns the asset pool of spend offers. Claim must be atomic: two
// concurrent completions must never be handed the same asset.
type Assets interface {
	Claim(ctx context.Context, offerId, userId string) (*models.Asset, error)
	CountAvailable(ctx context.Context, offerId string) (int, error)

	// Insert is used by the seed tool only.
	Insert(ctx context.Context, asset *models.Asset) error
}

// Users reads user and application rows.
type Users interface {
	Get(ctx context.Context, userId string) (*models.User, error)
	FindByAppUserId(ctx context.Context, appId, appUserId string) (*models.User, error)
	GetApp(ctx context.Context, appId string) (*models.App, error)
}
