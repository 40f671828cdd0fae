package httpapi

import (
	"encoding/json"
	"net/http"

	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// InternalHandler serves the gateway-facing callback API. It is bound to an
// internal-only listen address and carries no user auth.
type InternalHandler struct {
	webhooks *webhook.Service
}

func NewInternalHandler(webhooks *webhook.Service) *InternalHandler {
	return &InternalHandler{webhooks: webhooks}
}

func (h *InternalHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1/internal", func(r chi.Router) {
		r.Post("/payments", h.PaymentComplete)
		r.Post("/failed-payments", h.PaymentFailed)
		r.Post("/wallets", h.WalletCreated)
		r.Post("/failed-wallets", h.WalletCreationFailed)
	})
	return r
}

func (h *InternalHandler) PaymentComplete(w http.ResponseWriter, r *http.Request) {
	var payment models.CompletedPayment
	if err := json.NewDecoder(r.Body).Decode(&payment); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: 4001, Error: "Bad Request", Message: "malformed payment"})
		return
	}
	if err := h.webhooks.PaymentComplete(r.Context(), &payment); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InternalHandler) PaymentFailed(w http.ResponseWriter, r *http.Request) {
	var payment models.FailedPayment
	if err := json.NewDecoder(r.Body).Decode(&payment); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: 4001, Error: "Bad Request", Message: "malformed payment"})
		return
	}
	if err := h.webhooks.PaymentFailed(r.Context(), &payment); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InternalHandler) WalletCreated(w http.ResponseWriter, r *http.Request) {
	var event models.WalletCreationSuccess
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: 4001, Error: "Bad Request", Message: "malformed event"})
		return
	}
	if err := h.webhooks.WalletCreated(r.Context(), &event); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InternalHandler) WalletCreationFailed(w http.ResponseWriter, r *http.Request) {
	var event models.WalletCreationFailure
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: 4001, Error: "Bad Request", Message: "malformed event"})
		return
	}
	if err := h.webhooks.WalletCreationFailed(r.Context(), &event); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
