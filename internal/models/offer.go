package models

import "time"

// OfferCap bounds how many orders an offer may yield, overall and per user.
type OfferCap struct {
	Total   int `json:"total"`
	PerUser int `json:"per_user"`
}

type ContentType string

const (
	ContentTypePoll     ContentType = "poll"
	ContentTypeQuiz     ContentType = "quiz"
	ContentTypeTutorial ContentType = "tutorial"
	ContentTypeCoupon   ContentType = "coupon"
)

// OfferMeta is the display metadata of an offer; OrderMeta is the slice of it
// that gets stamped onto orders created from the offer.
type OfferMeta struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	OrderMeta   OrderMeta `json:"order_meta"`
}

// Offer is read-only collaborator data for the lifecycle engine: the engine
// creates orders from offers but never mutates them.
type Offer struct {
	Id             string         `db:"id"`
	AppId          string         `db:"app_id"`
	Type           OrderType      `db:"type"`
	Amount         int64          `db:"amount"`
	Cap            OfferCap       `db:"cap"`
	Meta           OfferMeta      `db:"meta"`
	BlockchainData BlockchainData `db:"blockchain_data"`
	CreatedDate    time.Time      `db:"created_date"`
}

// OfferContent is the interactive content definition backing an earn offer
// (poll/quiz/tutorial) or the coupon template of a spend offer.
type OfferContent struct {
	OfferId     string      `db:"offer_id"`
	ContentType ContentType `db:"content_type"`
	Content     string      `db:"content"`
}

// Asset is a content-addressable unit tied to a spend offer. Claiming one for
// a user (setting OwnerId from empty) is the irreversible side effect of
// completing a marketplace spend order.
type Asset struct {
	Id          string    `db:"id"`
	OfferId     string    `db:"offer_id"`
	OwnerId     string    `db:"owner_id"`
	CouponCode  string    `db:"coupon_code"`
	CreatedDate time.Time `db:"created_date"`
}

// AsOrderValue renders the asset as the completed order's result payload.
func (a *Asset) AsOrderValue() *OrderValue {
	return &OrderValue{Type: string(ContentTypeCoupon), Coupon: a.CouponCode}
}
