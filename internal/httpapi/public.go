package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/order"
	"marketplace-server-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PublicHandler serves the user-facing marketplace API.
type PublicHandler struct {
	engine *order.Engine
	users  store.Users
}

func NewPublicHandler(engine *order.Engine, users store.Users) *PublicHandler {
	return &PublicHandler{engine: engine, users: users}
}

func (h *PublicHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Use(withUser(h.users))

		r.Get("/offers", h.ListOffers)
		r.Post("/offers/{offer_id}/orders", h.CreateMarketplaceOrder)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateExternalOrder)
			r.Get("/", h.OrderHistory)
			r.Get("/{order_id}", h.GetOrder)
			r.Post("/{order_id}", h.SubmitOrder)
			r.Delete("/{order_id}", h.CancelOrder)
			r.Patch("/{order_id}", h.ChangeOrder)
			r.Post("/{order_id}/whitelist", h.WhitelistOrder)
		})
	})
	return r
}

func (h *PublicHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	offerType := models.OrderType(r.URL.Query().Get("type"))
	if offerType == "" {
		offerType = models.OrderTypeEarn
	}

	offers, err := h.engine.ListOffers(r.Context(), user, offerType)
	if err != nil {
		writeError(w, err)
		return
	}
	rendered := make([]*offerResponse, 0, len(offers))
	for _, offer := range offers {
		rendered = append(rendered, renderOffer(offer))
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": rendered})
}

func (h *PublicHandler) CreateMarketplaceOrder(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	offerId := chi.URLParam(r, "offer_id")

	created, err := h.engine.CreateMarketplaceOrder(r.Context(), offerId, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderOrder(created, user.Id))
}

type createExternalOrderRequest struct {
	JWT string `json:"jwt"`
}

func (h *PublicHandler) CreateExternalOrder(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req createExternalOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: 4001, Error: "Bad Request", Message: "malformed body"})
		return
	}

	created, err := h.engine.CreateExternalOrder(r.Context(), req.JWT, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderOrder(created, user.Id))
}

func (h *PublicHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	got, err := h.engine.GetOrder(r.Context(), chi.URLParam(r, "order_id"), user.Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOrder(got, user.Id))
}

type submitOrderRequest struct {
	Content string `json:"content"`
}

func (h *PublicHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req submitOrderRequest
	if r.Body != nil {
		// an empty body is a valid submission for tutorials and spend orders
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	submitted, err := h.engine.SubmitOrder(r.Context(), chi.URLParam(r, "order_id"), user.Id, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOrder(submitted, user.Id))
}

func (h *PublicHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if err := h.engine.CancelOrder(r.Context(), chi.URLParam(r, "order_id"), user.Id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changeOrderRequest struct {
	Error *models.OrderError `json:"error"`
}

func (h *PublicHandler) ChangeOrder(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req changeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Error == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: 4001, Error: "Bad Request", Message: "missing error payload"})
		return
	}

	changed, err := h.engine.ChangeOrder(r.Context(), chi.URLParam(r, "order_id"), user.Id, req.Error)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOrder(changed, user.Id))
}

type whitelistRequest struct {
	NetworkId  string `json:"network_id"`
	TxEnvelope string `json:"tx_envelope"`
}

func (h *PublicHandler) WhitelistOrder(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: 4001, Error: "Bad Request", Message: "malformed body"})
		return
	}

	signed, err := h.engine.WhitelistOrder(r.Context(), chi.URLParam(r, "order_id"), user.Id, req.NetworkId, req.TxEnvelope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tx_envelope": signed})
}

func (h *PublicHandler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	filters := store.OrderFilters{
		Origin:  r.URL.Query().Get("origin"),
		OfferId: r.URL.Query().Get("offer_id"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filters.Limit = n
		}
	}

	orders, err := h.engine.GetOrderHistory(r.Context(), user.Id, filters)
	if err != nil {
		writeError(w, err)
		return
	}
	rendered := make([]*orderResponse, 0, len(orders))
	for _, o := range orders {
		rendered = append(rendered, renderOrder(o, user.Id))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": rendered})
}
