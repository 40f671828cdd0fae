package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marketplace-server-go/internal/auth"
	"marketplace-server-go/internal/database"
	"marketplace-server-go/internal/lock"
	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/order"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

type stubPayment struct{}

func (stubPayment) PayTo(context.Context, string, string, string, string, int64, string, bool) error {
	return nil
}

func (stubPayment) GetWalletData(_ context.Context, _, address string) (*models.Wallet, error) {
	return &models.Wallet{WalletAddress: address, KinBalance: decimal.NewFromInt(100000)}, nil
}

func (stubPayment) AddWatcherEndpoint(_ context.Context, _ string, addresses []string, orderId string) (*models.Watcher, error) {
	return &models.Watcher{WalletAddresses: addresses, OrderId: orderId}, nil
}

func (stubPayment) RemoveWatcherEndpoint(context.Context, string, string, string) error {
	return nil
}

func (stubPayment) WhitelistTransaction(_ context.Context, _ *models.Order, _, txEnvelope, _ string) (string, error) {
	return txEnvelope, nil
}

func setupServer(t *testing.T) (*httptest.Server, *database.Service, func()) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	service := database.NewServiceWithDB(db)
	if err := service.InitSchema(); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	ctx := context.Background()
	app := &models.App{Id: "app1", Name: "Test App", SenderAddresses: []string{"GOUR"}, RecipientAddress: "GAPP", BlockchainVersion: "2"}
	if err := service.InsertApp(ctx, app); err != nil {
		t.Fatalf("Failed to insert app: %v", err)
	}
	user := &models.User{Id: "user1", AppId: "app1", AppUserId: "alice", WalletAddress: "GALICE", Activated: true}
	if err := service.InsertUser(ctx, user); err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}
	offer := &models.Offer{
		Id: "offer1", AppId: "app1", Type: models.OrderTypeEarn, Amount: 500,
		Cap:  models.OfferCap{Total: 10, PerUser: 2},
		Meta: models.OfferMeta{Title: "Answer a poll", OrderMeta: models.OrderMeta{Title: "Poll reward"}},
	}
	if err := service.CreateOffer(ctx, offer, nil); err != nil {
		t.Fatalf("Failed to insert offer: %v", err)
	}

	engine := order.NewEngine(
		service, service.OfferStore(), service, service.UserStore(),
		lock.NewLocal(), stubPayment{}, auth.NewVerifier(service.UserStore()),
		models.OrdersConfig{MaxDailyEarnOffers: 5, HistoryLimit: 100})

	handler := NewPublicHandler(engine, service.UserStore())
	server := httptest.NewServer(handler.Router())
	return server, service, func() {
		server.Close()
		db.Close()
	}
}

func doRequest(t *testing.T, method, url, userId, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if userId != "" {
		req.Header.Set("X-USER-ID", userId)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestPublicAPI_Unauthorized(t *testing.T) {
	server, _, cleanup := setupServer(t)
	defer cleanup()

	resp, _ := doRequest(t, http.MethodGet, server.URL+"/v1/offers", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodGet, server.URL+"/v1/offers", "nobody", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown user, got %d", resp.StatusCode)
	}
}

func TestPublicAPI_OrderFlow(t *testing.T) {
	server, _, cleanup := setupServer(t)
	defer cleanup()

	resp, body := doRequest(t, http.MethodPost, server.URL+"/v1/offers/offer1/orders", "user1", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	orderId, _ := body["id"].(string)
	if orderId == "" {
		t.Fatal("Expected an order id")
	}
	if body["status"] != "opened" {
		t.Errorf("Expected opened, got %v", body["status"])
	}
	if body["title"] != "Poll reward" {
		t.Errorf("Expected offer order meta title, got %v", body["title"])
	}

	// opened orders are invisible to GET
	resp, _ = doRequest(t, http.MethodGet, server.URL+"/v1/orders/"+orderId, "user1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for opened order, got %d", resp.StatusCode)
	}

	resp, body = doRequest(t, http.MethodPost, server.URL+"/v1/orders/"+orderId, "user1", "{}")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on submit, got %d", resp.StatusCode)
	}
	if body["status"] != "pending" {
		t.Errorf("Expected pending, got %v", body["status"])
	}

	resp, body = doRequest(t, http.MethodGet, server.URL+"/v1/orders/"+orderId, "user1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	resp, body = doRequest(t, http.MethodGet, server.URL+"/v1/orders/", "user1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on history, got %d", resp.StatusCode)
	}
	orders, _ := body["orders"].([]any)
	if len(orders) != 1 {
		t.Errorf("Expected 1 order in history, got %d", len(orders))
	}
}

func TestPublicAPI_CancelOrder(t *testing.T) {
	server, _, cleanup := setupServer(t)
	defer cleanup()

	resp, body := doRequest(t, http.MethodPost, server.URL+"/v1/offers/offer1/orders", "user1", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	orderId := body["id"].(string)

	resp, _ = doRequest(t, http.MethodDelete, server.URL+"/v1/orders/"+orderId, "user1", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodDelete, server.URL+"/v1/orders/"+orderId, "user1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 on second cancel, got %d", resp.StatusCode)
	}
}

func TestPublicAPI_ListOffers(t *testing.T) {
	server, _, cleanup := setupServer(t)
	defer cleanup()

	resp, body := doRequest(t, http.MethodGet, server.URL+"/v1/offers?type=earn", "user1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	offers, _ := body["offers"].([]any)
	if len(offers) != 1 {
		t.Fatalf("Expected 1 offer, got %d", len(offers))
	}
	first := offers[0].(map[string]any)
	if first["id"] != "offer1" {
		t.Errorf("Expected offer1, got %v", first["id"])
	}
}

func TestPublicAPI_ChangeOrderErrors(t *testing.T) {
	server, _, cleanup := setupServer(t)
	defer cleanup()

	resp, _ := doRequest(t, http.MethodPatch, server.URL+"/v1/orders/Tmissing", "user1",
		`{"error":{"code":4041,"error":"wallet_error","message":"boom"}}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodPatch, server.URL+"/v1/orders/Tmissing", "user1", "{}")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without error payload, got %d", resp.StatusCode)
	}
}
