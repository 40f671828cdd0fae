package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"marketplace-server-go/internal/apierr"
	"marketplace-server-go/internal/models"

	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			zap.L().Error("unable to encode response", zap.Error(err))
		}
	}
}

type errorBody struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	if apiErr := apierr.FromError(err); apiErr != nil {
		status := apiErr.Status
		// transaction failures have no HTTP status class of their own
		if status == 700 {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorBody{Code: apiErr.Code, Error: apiErr.Title, Message: apiErr.Message})
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{
		Code:    5001,
		Error:   "Internal Server Error",
		Message: "something went wrong",
	})
}

type orderResponse struct {
	Id             string                 `json:"id"`
	Origin         models.OrderOrigin     `json:"origin"`
	Type           models.OrderType       `json:"offer_type"`
	Status         models.OrderStatus     `json:"status"`
	OfferId        string                 `json:"offer_id"`
	Amount         int64                  `json:"amount"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	CallToAction   string                 `json:"call_to_action,omitempty"`
	Content        string                 `json:"content,omitempty"`
	BlockchainData models.BlockchainData  `json:"blockchain_data"`
	Result         *models.OrderValue     `json:"result,omitempty"`
	Error          *models.OrderError     `json:"error,omitempty"`
	CreatedDate    time.Time              `json:"created_date"`
	CompletionDate time.Time              `json:"completion_date"`
	ExpirationDate *time.Time             `json:"expiration_date,omitempty"`
}

// renderOrder shapes the order for a specific viewer: the p2p recipient sees
// the recipient-side metadata instead of the sender's.
func renderOrder(order *models.Order, viewerUserId string) *orderResponse {
	meta := order.Meta
	if viewerUserId == order.RecipientId && order.RecipientMeta != nil {
		meta = *order.RecipientMeta
	}
	return &orderResponse{
		Id:             order.Id,
		Origin:         order.Origin,
		Type:           order.Type,
		Status:         order.Status,
		OfferId:        order.OfferId,
		Amount:         order.Amount,
		Title:          meta.Title,
		Description:    meta.Description,
		CallToAction:   meta.CallToAction,
		Content:        meta.Content,
		BlockchainData: order.BlockchainData,
		Result:         order.Value,
		Error:          order.Error,
		CreatedDate:    order.CreatedDate,
		CompletionDate: order.CurrentStatusDate,
		ExpirationDate: order.ExpirationDate,
	}
}

type offerResponse struct {
	Id          string           `json:"id"`
	Type        models.OrderType `json:"offer_type"`
	Amount      int64            `json:"amount"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Image       string           `json:"image"`
}

func renderOffer(offer *models.Offer) *offerResponse {
	return &offerResponse{
		Id:          offer.Id,
		Type:        offer.Type,
		Amount:      offer.Amount,
		Title:       offer.Meta.Title,
		Description: offer.Meta.Description,
		Image:       offer.Meta.Image,
	}
}
