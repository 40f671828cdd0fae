package order

import (
	"context"
	"fmt"
	"strings"

	"marketplace-server-go/internal/auth"
	"marketplace-server-go/internal/lock"
	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"

	"github.com/google/uuid"
)

// PaymentClient is the slice of the payment gateway the engine drives.
type PaymentClient interface {
	PayTo(ctx context.Context, blockchainVersion, recipientAddress, senderAddress, appId string, amount int64, orderId string, isExternal bool) error
	GetWalletData(ctx context.Context, blockchainVersion, walletAddress string) (*models.Wallet, error)
	AddWatcherEndpoint(ctx context.Context, blockchainVersion string, addresses []string, orderId string) (*models.Watcher, error)
	RemoveWatcherEndpoint(ctx context.Context, blockchainVersion, address, orderId string) error
	WhitelistTransaction(ctx context.Context, order *models.Order, networkId, txEnvelope, appId string) (string, error)
}

// Engine owns the order lifecycle: creation, submission, retrieval,
// cancellation and failure. Completion belongs to the webhook package.
type Engine struct {
	orders   store.Orders
	offers   store.Offers
	assets   store.Assets
	users    store.Users
	locker   lock.Locker
	payment  PaymentClient
	verifier *auth.Verifier
	cfg      models.OrdersConfig
}

func NewEngine(
	orders store.Orders,
	offers store.Offers,
	assets store.Assets,
	users store.Users,
	locker lock.Locker,
	payment PaymentClient,
	verifier *auth.Verifier,
	cfg models.OrdersConfig,
) *Engine {
	return &Engine{
		orders:   orders,
		offers:   offers,
		assets:   assets,
		users:    users,
		locker:   locker,
		payment:  payment,
		verifier: verifier,
		cfg:      cfg,
	}
}

// newOrderId issues runtime identifiers with a "T" prefix, keeping them
// distinguishable from seeded fixture ids.
func newOrderId() string {
	return "T" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func getOrderLock(offerId, userId string) string {
	return fmt.Sprintf("locks:orders:get:%s:%s", offerId, userId)
}

func createOrderLock(offerId string) string {
	return fmt.Sprintf("locks:orders:create:%s", offerId)
}
