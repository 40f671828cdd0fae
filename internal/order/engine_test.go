package order

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-server-go/internal/apierr"
	"marketplace-server-go/internal/auth"
	"marketplace-server-go/internal/database"
	"marketplace-server-go/internal/lock"
	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"

	"github.com/golang-jwt/jwt/v4"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentCall struct {
	recipient string
	sender    string
	appId     string
	amount    int64
	orderId   string
	external  bool
}

type fakePayment struct {
	mu          sync.Mutex
	balance     decimal.Decimal
	payErr      error
	watchErr    error
	calls       []paymentCall
	watched     []string
	removed     []string
	whitelisted string
}

func (f *fakePayment) PayTo(_ context.Context, _, recipient, sender, appId string, amount int64, orderId string, external bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payErr != nil {
		return f.payErr
	}
	f.calls = append(f.calls, paymentCall{recipient, sender, appId, amount, orderId, external})
	return nil
}

func (f *fakePayment) GetWalletData(_ context.Context, _, walletAddress string) (*models.Wallet, error) {
	return &models.Wallet{WalletAddress: walletAddress, KinBalance: f.balance}, nil
}

func (f *fakePayment) AddWatcherEndpoint(_ context.Context, _ string, addresses []string, orderId string) (*models.Watcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.watched = append(f.watched, orderId)
	return &models.Watcher{WalletAddresses: addresses, OrderId: orderId}, nil
}

func (f *fakePayment) RemoveWatcherEndpoint(_ context.Context, _, _, orderId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, orderId)
	return nil
}

func (f *fakePayment) WhitelistTransaction(_ context.Context, _ *models.Order, _, txEnvelope, _ string) (string, error) {
	f.whitelisted = txEnvelope
	return "signed:" + txEnvelope, nil
}

type testEnv struct {
	engine  *Engine
	db      *database.Service
	payment *fakePayment
	key     *ecdsa.PrivateKey
	app     *models.App
	user    *models.User
}

func setupEngine(t *testing.T) (*testEnv, func()) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// a second pool connection would see its own empty in-memory database
	db.SetMaxOpenConns(1)
	service := database.NewServiceWithDB(db)
	require.NoError(t, service.InitSchema())

	key, pubPEM := genTestKey(t)
	ctx := context.Background()

	app := &models.App{
		Id:                "app1",
		Name:              "Test App",
		SenderAddresses:   []string{"GOUR", "GJOINED"},
		RecipientAddress:  "GAPP",
		BlockchainVersion: "2",
		JWTPublicKey:      pubPEM,
	}
	require.NoError(t, service.InsertApp(ctx, app))

	user := &models.User{Id: "user1", AppId: "app1", AppUserId: "alice", WalletAddress: "GALICE", Activated: true}
	require.NoError(t, service.InsertUser(ctx, user))

	payment := &fakePayment{balance: decimal.NewFromInt(100000)}
	engine := NewEngine(
		service,
		service.OfferStore(),
		service,
		service.UserStore(),
		lock.NewLocal(),
		payment,
		auth.NewVerifier(service.UserStore()),
		models.OrdersConfig{MaxDailyEarnOffers: 5, HistoryLimit: 100},
	)

	env := &testEnv{engine: engine, db: service, payment: payment, key: key, app: app, user: user}
	return env, func() { db.Close() }
}

func genTestKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, string(pubPEM)
}

func seedOffer(t *testing.T, env *testEnv, id string, offerType models.OrderType, amount int64, content *models.OfferContent) *models.Offer {
	t.Helper()
	offer := &models.Offer{
		Id:     id,
		AppId:  env.app.Id,
		Type:   offerType,
		Amount: amount,
		Cap:    models.OfferCap{Total: 100, PerUser: 2},
		Meta: models.OfferMeta{
			Title:     "offer " + id,
			OrderMeta: models.OrderMeta{Title: "order title", Description: "order description"},
		},
		BlockchainData: models.BlockchainData{RecipientAddress: "GOFFER"},
	}
	require.NoError(t, env.db.CreateOffer(context.Background(), offer, content))
	return offer
}

func signExternalOrder(t *testing.T, env *testEnv, subject, offerId string, amount int64, sender, recipient map[string]any) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   env.app.Id,
		"sub":   subject,
		"iat":   time.Now().Unix(),
		"offer": map[string]any{"id": offerId, "amount": amount},
	}
	if sender != nil {
		claims["sender"] = sender
	}
	if recipient != nil {
		claims["recipient"] = recipient
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(env.key)
	require.NoError(t, err)
	return token
}

func TestCreateMarketplaceOrder_EarnAndReuse(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeEarn, 500, nil)

	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOpened, order.Status)
	assert.Equal(t, models.OriginMarketplace, order.Origin)
	assert.Equal(t, "GOUR", order.BlockchainData.SenderAddress)
	assert.Equal(t, "GALICE", order.BlockchainData.RecipientAddress)
	assert.Equal(t, "order title", order.Meta.Title)
	require.NotNil(t, order.ExpirationDate)

	// a second create returns the existing open order, not a new one
	again, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)
	assert.Equal(t, order.Id, again.Id)

	// earn orders are gateway-initiated, nothing to watch
	assert.Empty(t, env.payment.watched)
}

func TestCreateMarketplaceOrder_JoinedWalletOnLowBalance(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	env.payment.balance = decimal.NewFromInt(100)

	seedOffer(t, env, "offer1", models.OrderTypeEarn, 500, nil)

	order, err := env.engine.CreateMarketplaceOrder(context.Background(), "offer1", env.user)
	require.NoError(t, err)
	assert.Equal(t, "GJOINED", order.BlockchainData.SenderAddress)
}

func TestCreateMarketplaceOrder_SpendWatchesRecipient(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()

	seedOffer(t, env, "offer1", models.OrderTypeSpend, 300, nil)

	order, err := env.engine.CreateMarketplaceOrder(context.Background(), "offer1", env.user)
	require.NoError(t, err)
	assert.Equal(t, "GALICE", order.BlockchainData.SenderAddress)
	assert.Equal(t, "GOFFER", order.BlockchainData.RecipientAddress)
	assert.Equal(t, []string{order.Id}, env.payment.watched)
}

func TestCreateMarketplaceOrder_WatcherFailureCreatesNothing(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeSpend, 300, nil)
	env.payment.watchErr = errors.New("gateway down")

	_, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.Error(t, err)

	// no watcherless order was left behind for a retry to reuse
	env.payment.watchErr = nil
	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)
	assert.Equal(t, []string{order.Id}, env.payment.watched)
}

func TestCreateMarketplaceOrder_ConcurrentCreates(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeEarn, 500, nil)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
			if err != nil {
				t.Errorf("concurrent create %d failed: %v", i, err)
				return
			}
			ids[i] = order.Id
		}(i)
	}
	wg.Wait()

	// every caller got the same single opened order
	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestCreateMarketplaceOrder_CapReached(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	offer := &models.Offer{
		Id:     "offer1",
		AppId:  env.app.Id,
		Type:   models.OrderTypeSpend,
		Amount: 300,
		Cap:    models.OfferCap{Total: 100, PerUser: 1},
		Meta:   models.OfferMeta{Title: "capped offer"},
	}
	require.NoError(t, env.db.CreateOffer(ctx, offer, nil))

	completed := &models.Order{
		Id: "Tdone", Origin: models.OriginMarketplace, Type: models.OrderTypeSpend,
		OfferId: "offer1", Amount: 300, UserId: env.user.Id, CreatedDate: time.Now().UTC(),
	}
	completed.SetStatus(models.OrderStatusCompleted)
	require.NoError(t, env.db.Create(ctx, completed))

	_, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4045, apiErr.Code)
}

func TestCreateMarketplaceOrder_DailyEarnCap(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()
	env.engine.cfg.MaxDailyEarnOffers = 1

	seedOffer(t, env, "offer1", models.OrderTypeEarn, 100, nil)
	seedOffer(t, env, "offer2", models.OrderTypeEarn, 100, nil)

	_, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)

	_, err = env.engine.CreateMarketplaceOrder(ctx, "offer2", env.user)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4045, apiErr.Code)
}

func TestSubmitOrder_Poll(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	content := &models.OfferContent{
		ContentType: models.ContentTypePoll,
		Content:     `{"pages":[{"question":{"id":"q1","text":"favorite color?"},"answers":["red","green","blue"]}]}`,
	}
	seedOffer(t, env, "offer1", models.OrderTypeEarn, 500, content)

	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)

	_, err = env.engine.SubmitOrder(ctx, order.Id, env.user.Id, `{"q1":9}`)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4003, apiErr.Code)

	submitted, err := env.engine.SubmitOrder(ctx, order.Id, env.user.Id, `{"q1":2}`)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, submitted.Status)

	require.Len(t, env.payment.calls, 1)
	call := env.payment.calls[0]
	assert.Equal(t, order.Id, call.orderId)
	assert.Equal(t, int64(500), call.amount)
	assert.Equal(t, "GALICE", call.recipient)
	assert.False(t, call.external)
}

func TestSubmitOrder_QuizReward(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	content := &models.OfferContent{
		ContentType: models.ContentTypeQuiz,
		Content: `{"pages":[
			{"question":{"id":"q1"},"answers":["a","b"],"right_answer":1,"amount":30},
			{"question":{"id":"q2"},"answers":["a","b"],"right_answer":2,"amount":70}]}`,
	}
	seedOffer(t, env, "offer1", models.OrderTypeEarn, 100, content)

	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)

	// one of two questions right pays that question's reward
	submitted, err := env.engine.SubmitOrder(ctx, order.Id, env.user.Id, `{"q1":1,"q2":1}`)
	require.NoError(t, err)
	assert.Equal(t, int64(30), submitted.Amount)
}

func TestSubmitOrder_QuizFloor(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	content := &models.OfferContent{
		ContentType: models.ContentTypeQuiz,
		Content:     `{"pages":[{"question":{"id":"q1"},"answers":["a","b"],"right_answer":1,"amount":30}]}`,
	}
	seedOffer(t, env, "offer1", models.OrderTypeEarn, 100, content)

	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)

	// all answers wrong still pays one unit
	submitted, err := env.engine.SubmitOrder(ctx, order.Id, env.user.Id, `{"q1":2}`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), submitted.Amount)
}

func TestSubmitOrder_Idempotent(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeEarn, 500, nil)
	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)

	first, err := env.engine.SubmitOrder(ctx, order.Id, env.user.Id, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, first.Status)

	second, err := env.engine.SubmitOrder(ctx, order.Id, env.user.Id, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, second.Status)
	assert.Len(t, env.payment.calls, 1)
}

func TestSubmitOrder_RefreshesBlockchainVersion(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeEarn, 500, nil)
	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)
	assert.Equal(t, "2", order.BlockchainData.BlockchainVersion)

	// the app migrates ledgers while the order sits open
	env.app.BlockchainVersion = "3"
	require.NoError(t, env.db.InsertApp(ctx, env.app))

	submitted, err := env.engine.SubmitOrder(ctx, order.Id, env.user.Id, "")
	require.NoError(t, err)
	assert.Equal(t, "3", submitted.BlockchainData.BlockchainVersion)

	stored, err := env.db.Get(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, "3", stored.BlockchainData.BlockchainVersion)
}

func TestSubmitOrder_Expired(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	order := &models.Order{
		Id: "Texpired", Origin: models.OriginMarketplace, Type: models.OrderTypeEarn,
		OfferId: "offer1", Amount: 100, UserId: env.user.Id, CreatedDate: time.Now().UTC(),
	}
	order.Status = models.OrderStatusOpened
	order.CurrentStatusDate = time.Now().UTC().Add(-time.Hour)
	exp := time.Now().UTC().Add(-time.Minute)
	order.ExpirationDate = &exp
	require.NoError(t, env.db.Create(ctx, order))

	_, err := env.engine.SubmitOrder(ctx, "Texpired", env.user.Id, "")
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4081, apiErr.Code)
}

func TestGetOrder_LazyExpiration(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	order := &models.Order{
		Id: "Tpending", Origin: models.OriginMarketplace, Type: models.OrderTypeEarn,
		OfferId: "offer1", Amount: 100, UserId: env.user.Id, CreatedDate: time.Now().UTC(),
	}
	order.Status = models.OrderStatusPending
	order.CurrentStatusDate = time.Now().UTC().Add(-time.Minute)
	exp := time.Now().UTC().Add(-time.Second)
	order.ExpirationDate = &exp
	require.NoError(t, env.db.Create(ctx, order))

	got, err := env.engine.GetOrder(ctx, "Tpending", env.user.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, 7006, got.Error.Code)

	// the transition is persisted, not just a view
	stored, err := env.db.Get(ctx, "Tpending")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
}

func TestGetOrder_OpenedNotAddressable(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeEarn, 100, nil)
	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)

	_, err = env.engine.GetOrder(ctx, order.Id, env.user.Id)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4043, apiErr.Code)
}

func TestGetOrder_ForeignOrderHidden(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	order := &models.Order{
		Id: "Tother", Origin: models.OriginMarketplace, Type: models.OrderTypeEarn,
		OfferId: "offer1", Amount: 100, UserId: "someone-else", CreatedDate: time.Now().UTC(),
	}
	order.SetStatus(models.OrderStatusPending)
	require.NoError(t, env.db.Create(ctx, order))

	_, err := env.engine.GetOrder(ctx, "Tother", env.user.Id)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4043, apiErr.Code)
}

func TestCancelOrder(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeEarn, 100, nil)
	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)

	require.NoError(t, env.engine.CancelOrder(ctx, order.Id, env.user.Id))

	_, err = env.db.Get(ctx, order.Id)
	assert.Error(t, err)
}

func TestCancelOrder_NotOpened(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeEarn, 100, nil)
	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)
	_, err = env.engine.SubmitOrder(ctx, order.Id, env.user.Id, "")
	require.NoError(t, err)

	err = env.engine.CancelOrder(ctx, order.Id, env.user.Id)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4043, apiErr.Code)
}

func TestChangeOrder(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeSpend, 100, nil)
	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)
	_, err = env.engine.SubmitOrder(ctx, order.Id, env.user.Id, "")
	require.NoError(t, err)

	failed, err := env.engine.ChangeOrder(ctx, order.Id, env.user.Id,
		&models.OrderError{Code: 4041, Error: "wallet_error", Message: "tx could not be built"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, failed.Status)
}

func TestChangeOrder_OpenedNotAddressable(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeSpend, 100, nil)
	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)

	// opened orders are cancelled, never failed through the patch API
	_, err = env.engine.ChangeOrder(ctx, order.Id, env.user.Id,
		&models.OrderError{Code: 4041, Error: "wallet_error", Message: "tx could not be built"})
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4043, apiErr.Code)

	stored, err := env.db.Get(ctx, order.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOpened, stored.Status)
}

func TestChangeOrder_CompletedIsTerminal(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	order := &models.Order{
		Id: "Tdone", Origin: models.OriginMarketplace, Type: models.OrderTypeEarn,
		OfferId: "offer1", Amount: 100, UserId: env.user.Id, CreatedDate: time.Now().UTC(),
	}
	order.SetStatus(models.OrderStatusCompleted)
	require.NoError(t, env.db.Create(ctx, order))

	_, err := env.engine.ChangeOrder(ctx, "Tdone", env.user.Id, &models.OrderError{Code: 1, Error: "x"})
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4093, apiErr.Code)
}

func TestGetOrderHistory(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	for i, status := range []models.OrderStatus{models.OrderStatusOpened, models.OrderStatusPending, models.OrderStatusCompleted} {
		order := &models.Order{
			Id: "Thist" + string(rune('a'+i)), Origin: models.OriginMarketplace, Type: models.OrderTypeEarn,
			OfferId: "offer1", Amount: 100, UserId: env.user.Id, CreatedDate: time.Now().UTC(),
		}
		order.SetStatus(status)
		require.NoError(t, env.db.Create(ctx, order))
	}

	orders, err := env.engine.GetOrderHistory(ctx, env.user.Id, store.OrderFilters{})
	require.NoError(t, err)
	// opened orders never show up in history
	require.Len(t, orders, 2)
	for _, order := range orders {
		assert.NotEqual(t, models.OrderStatusOpened, order.Status)
	}
}

func TestCreateExternalOrder_Spend(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	token := signExternalOrder(t, env, "spend", "ext-offer-1", 250,
		map[string]any{"title": "Buy a thing", "description": "one thing"}, nil)

	order, err := env.engine.CreateExternalOrder(ctx, token, env.user)
	require.NoError(t, err)
	assert.Equal(t, models.OriginExternal, order.Origin)
	assert.Equal(t, models.OrderTypeSpend, order.Type)
	assert.Equal(t, int64(250), order.Amount)
	assert.Equal(t, "GALICE", order.BlockchainData.SenderAddress)
	assert.Equal(t, "GAPP", order.BlockchainData.RecipientAddress)
	assert.Equal(t, "Buy a thing", order.Meta.Title)
	assert.Equal(t, []string{order.Id}, env.payment.watched)

	// same token again reuses the open order
	again, err := env.engine.CreateExternalOrder(ctx, token, env.user)
	require.NoError(t, err)
	assert.Equal(t, order.Id, again.Id)
}

func TestCreateExternalOrder_AlreadyCompleted(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	done := &models.Order{
		Id: "Tdone", Origin: models.OriginExternal, Type: models.OrderTypeSpend,
		OfferId: "ext-offer-1", Amount: 250, UserId: env.user.Id, CreatedDate: time.Now().UTC(),
	}
	done.SetStatus(models.OrderStatusCompleted)
	require.NoError(t, env.db.Create(ctx, done))

	token := signExternalOrder(t, env, "spend", "ext-offer-1", 250,
		map[string]any{"title": "Buy a thing"}, nil)
	_, err := env.engine.CreateExternalOrder(ctx, token, env.user)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4091, apiErr.Code)
	assert.Contains(t, apiErr.Message, "Tdone")
}

func TestCreateExternalOrder_FailedAllowsRetry(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	failed := &models.Order{
		Id: "Tfailed", Origin: models.OriginExternal, Type: models.OrderTypeSpend,
		OfferId: "ext-offer-1", Amount: 250, UserId: env.user.Id, CreatedDate: time.Now().UTC(),
	}
	failed.SetStatus(models.OrderStatusFailed)
	require.NoError(t, env.db.Create(ctx, failed))

	token := signExternalOrder(t, env, "spend", "ext-offer-1", 250,
		map[string]any{"title": "Buy a thing"}, nil)
	order, err := env.engine.CreateExternalOrder(ctx, token, env.user)
	require.NoError(t, err)
	assert.NotEqual(t, "Tfailed", order.Id)
	assert.Equal(t, models.OrderStatusOpened, order.Status)
}

func TestCreateExternalOrder_P2P(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	recipient := &models.User{Id: "user2", AppId: "app1", AppUserId: "bob", WalletAddress: "GBOB", Activated: true}
	require.NoError(t, env.db.InsertUser(ctx, recipient))

	token := signExternalOrder(t, env, "pay_to_user", "p2p-offer-1", 50,
		map[string]any{"title": "Sent Kin", "description": "to bob"},
		map[string]any{"title": "Received Kin", "description": "from alice", "user_id": "bob"})

	order, err := env.engine.CreateExternalOrder(ctx, token, env.user)
	require.NoError(t, err)
	assert.Equal(t, models.OriginP2P, order.Origin)
	assert.Equal(t, "user2", order.RecipientId)
	assert.Equal(t, "GBOB", order.BlockchainData.RecipientAddress)
	require.NotNil(t, order.RecipientMeta)
	assert.Equal(t, "Received Kin", order.RecipientMeta.Title)

	// the recipient can read the order too
	_, err = env.engine.SubmitOrder(ctx, order.Id, env.user.Id, "")
	require.NoError(t, err)
	got, err := env.engine.GetOrder(ctx, order.Id, "user2")
	require.NoError(t, err)
	assert.Equal(t, order.Id, got.Id)
}

func TestCreateExternalOrder_P2PUnknownRecipient(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()

	token := signExternalOrder(t, env, "pay_to_user", "p2p-offer-1", 50,
		map[string]any{"title": "Sent Kin"},
		map[string]any{"title": "Received Kin", "user_id": "nobody"})

	_, err := env.engine.CreateExternalOrder(context.Background(), token, env.user)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4046, apiErr.Code)
}

func TestCreateExternalOrder_BadSubject(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()

	token := signExternalOrder(t, env, "sideways", "ext-offer-1", 250, nil, nil)
	_, err := env.engine.CreateExternalOrder(context.Background(), token, env.user)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4004, apiErr.Code)
}

func TestCreateExternalOrder_WrongKeyRejected(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()

	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	claims := jwt.MapClaims{
		"iss":   env.app.Id,
		"sub":   "spend",
		"offer": map[string]any{"id": "ext-offer-1", "amount": 250},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(otherKey)
	require.NoError(t, err)

	_, err = env.engine.CreateExternalOrder(context.Background(), token, env.user)
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4004, apiErr.Code)
}

func TestWhitelistOrder(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	seedOffer(t, env, "offer1", models.OrderTypeSpend, 100, nil)
	order, err := env.engine.CreateMarketplaceOrder(ctx, "offer1", env.user)
	require.NoError(t, err)

	signed, err := env.engine.WhitelistOrder(ctx, order.Id, env.user.Id, "testnet", "raw-envelope")
	require.NoError(t, err)
	assert.Equal(t, "signed:raw-envelope", signed)
}

func TestWhitelistOrder_AnyStatus(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	order := &models.Order{
		Id: "Tdone", Origin: models.OriginMarketplace, Type: models.OrderTypeSpend,
		OfferId: "offer1", Amount: 100, UserId: env.user.Id, CreatedDate: time.Now().UTC(),
	}
	order.SetStatus(models.OrderStatusCompleted)
	require.NoError(t, env.db.Create(ctx, order))

	signed, err := env.engine.WhitelistOrder(ctx, "Tdone", env.user.Id, "testnet", "late-envelope")
	require.NoError(t, err)
	assert.Equal(t, "signed:late-envelope", signed)
}

func TestQuizReward_MalformedForm(t *testing.T) {
	_, err := quizReward(`{"pages":[]}`, "not json")
	apiErr := apierr.FromError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, 4003, apiErr.Code)
}
