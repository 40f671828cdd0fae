package models

import (
	"time"
)

type OrderOrigin string

const (
	OriginMarketplace OrderOrigin = "marketplace"
	OriginExternal    OrderOrigin = "external"
	OriginP2P         OrderOrigin = "p2p"
)

type OrderType string

const (
	OrderTypeEarn      OrderType = "earn"
	OrderTypeSpend     OrderType = "spend"
	OrderTypePayToUser OrderType = "pay_to_user"
)

type OrderStatus string

const (
	OrderStatusOpened    OrderStatus = "opened"
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Lifetimes per status. Terminal statuses carry no expiration.
const (
	OpenedExpiration  = 10 * time.Minute
	PendingExpiration = 45 * time.Second
)

type ContextRole string

const (
	RoleSender    ContextRole = "sender"
	RoleRecipient ContextRole = "recipient"
)

// OrderMeta is the per-participant display metadata attached to an order context.
type OrderMeta struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Content      string `json:"content,omitempty"`
	CallToAction string `json:"call_to_action,omitempty"`
}

// BlockchainData holds the on-chain coordinates of an order. TransactionId is
// set only once the payment gateway reports completion.
type BlockchainData struct {
	TransactionId     string `json:"transaction_id,omitempty"`
	SenderAddress     string `json:"sender_address,omitempty"`
	RecipientAddress  string `json:"recipient_address,omitempty"`
	BlockchainVersion string `json:"blockchain_version,omitempty"`
}

// OrderError is the persisted failure detail of a failed order.
type OrderError struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// OrderValue is the result payload of a completed order: either a coupon
// (marketplace spend, taken from the claimed asset) or a signed payment
// confirmation (external/p2p).
type OrderValue struct {
	Type   string `json:"type"`
	Coupon string `json:"coupon_code,omitempty"`
	JWT    string `json:"jwt,omitempty"`
}

const OrderValuePaymentConfirmation = "payment_confirmation"

// Order is the central entity. Id, Origin and Type are immutable once created;
// Status only moves along opened -> pending -> {completed | failed}.
type Order struct {
	Id                string          `db:"id"`
	Origin            OrderOrigin     `db:"origin"`
	Type              OrderType       `db:"type"`
	Status            OrderStatus     `db:"status"`
	OfferId           string          `db:"offer_id"`
	Amount            int64           `db:"amount"`
	BlockchainData    BlockchainData  `db:"blockchain_data"`
	Value             *OrderValue     `db:"value"`
	Error             *OrderError     `db:"error"`
	CreatedDate       time.Time       `db:"created_date"`
	CurrentStatusDate time.Time       `db:"current_status_date"`
	ExpirationDate    *time.Time      `db:"expiration_date"`

	// Participant contexts: the acting user and, for p2p, the recipient.
	UserId        string     `db:"-"`
	RecipientId   string     `db:"-"`
	Meta          OrderMeta  `db:"-"`
	RecipientMeta *OrderMeta `db:"-"`
}

// OrderContext is one row of the orders_contexts child table.
type OrderContext struct {
	OrderId string      `db:"order_id"`
	UserId  string      `db:"user_id"`
	Role    ContextRole `db:"role"`
	Meta    OrderMeta   `db:"meta"`
}

// SetStatus transitions the order and derives the matching expiration window.
func (o *Order) SetStatus(status OrderStatus) {
	o.Status = status
	o.CurrentStatusDate = time.Now().UTC()
	switch status {
	case OrderStatusOpened:
		exp := o.CurrentStatusDate.Add(OpenedExpiration)
		o.ExpirationDate = &exp
	case OrderStatusPending:
		exp := o.CurrentStatusDate.Add(PendingExpiration)
		o.ExpirationDate = &exp
	default:
		o.ExpirationDate = nil
	}
}

func (o *Order) IsExpired() bool {
	if o.ExpirationDate == nil {
		return false
	}
	return o.ExpirationDate.Before(time.Now().UTC())
}

func (o *Order) IsMarketplaceOrder() bool {
	return o.Origin == OriginMarketplace
}

func (o *Order) IsExternalOrder() bool {
	return o.Origin == OriginExternal || o.Origin == OriginP2P
}

// Contexts expands the participant fields into child-table rows.
func (o *Order) Contexts() []OrderContext {
	userRole := RoleSender
	if o.Type == OrderTypeEarn {
		// the acting user receives the funds on earn orders
		userRole = RoleRecipient
	}
	contexts := []OrderContext{{OrderId: o.Id, UserId: o.UserId, Role: userRole, Meta: o.Meta}}
	if o.RecipientId != "" {
		meta := OrderMeta{}
		if o.RecipientMeta != nil {
			meta = *o.RecipientMeta
		}
		contexts = append(contexts, OrderContext{OrderId: o.Id, UserId: o.RecipientId, Role: RoleRecipient, Meta: meta})
	}
	return contexts
}
