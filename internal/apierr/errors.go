package apierr

import (
	"errors"
	"fmt"

	"marketplace-server-go/internal/models"
)

// Error is a marketplace domain error. Code is the stable numeric code clients
// can branch on: the HTTP status class concatenated with a sub-index, e.g.
// NoSuchOrder is 4043 and WrongAmount is 7003. Status 700 is reserved for
// payment-specific transaction failures.
type Error struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Title   string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Title, e.Code, e.Message)
}

// AsOrderError renders the error in its persisted form.
func (e *Error) AsOrderError() *models.OrderError {
	return &models.OrderError{Code: e.Code, Error: e.Title, Message: e.Message}
}

// FromError extracts a domain error, or nil if err is not one.
func FromError(err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return nil
}

func newError(status, index int, title, message string) *Error {
	code := status*10 + index
	if index >= 10 {
		code = status*100 + index
	}
	return &Error{Status: status, Code: code, Title: title, Message: message}
}

// Sub-indexes per status class.
const (
	codeNoSuchApp         = 1
	codeNoSuchOffer       = 2
	codeNoSuchOrder       = 3
	codeOfferCapReached   = 5
	codeNoSuchUser        = 6

	codeOpenOrderExpired = 1

	codeExternalOrderAlreadyCompleted     = 1
	codeCompletedOrderCantTransitionToFailed = 3
	codeTransactionMismatch               = 5

	codeInvalidPollAnswers      = 3
	codeInvalidExternalOrderJWT = 4
	codeInvalidWalletAddress    = 7

	codeWrongSender        = 1
	codeWrongRecipient     = 2
	codeWrongAmount        = 3
	codeAssetUnavailable   = 4
	codeBlockchainError    = 5
	codeTransactionTimeout = 6
)

func notFound(index int, message string) *Error {
	return newError(404, index, "Not Found", message)
}

func conflict(index int, message string) *Error {
	return newError(409, index, "Conflict", message)
}

func badRequest(index int, message string) *Error {
	return newError(400, index, "Bad Request", message)
}

// transactionFailed errors use the 700 class reserved for payment failures.
func transactionFailed(index int, message string) *Error {
	return newError(700, index, "Transaction Failed", message)
}

func NoSuchApp(id string) *Error {
	return notFound(codeNoSuchApp, fmt.Sprintf("no such app: %s", id))
}

func NoSuchOffer(id string) *Error {
	return notFound(codeNoSuchOffer, fmt.Sprintf("no such offer: %s", id))
}

func NoSuchOrder(id string) *Error {
	return notFound(codeNoSuchOrder, fmt.Sprintf("no such order: %s", id))
}

func NoSuchUser(appId, appUserId string) *Error {
	return notFound(codeNoSuchUser, fmt.Sprintf("user %q not found for app %q", appUserId, appId))
}

func OfferCapReached(id string) *Error {
	return notFound(codeOfferCapReached, fmt.Sprintf("cap reached for offer: %s", id))
}

func OpenOrderExpired(orderId string) *Error {
	return newError(408, codeOpenOrderExpired, "Request Timeout", fmt.Sprintf("open order %s has expired", orderId))
}

func ExternalOrderAlreadyCompleted(orderId string) *Error {
	return conflict(codeExternalOrderAlreadyCompleted,
		fmt.Sprintf("user already completed offer, existing order: %s", orderId))
}

func CompletedOrderCantTransitionToFailed() *Error {
	return conflict(codeCompletedOrderCantTransitionToFailed, "cant set an error message to a completed order")
}

func TransactionMismatch() *Error {
	return conflict(codeTransactionMismatch, "requested tx envelope did not match with the expected order")
}

func InvalidPollAnswers() *Error {
	return badRequest(codeInvalidPollAnswers, "submitted form is invalid")
}

func InvalidExternalOrderJWT(message string) *Error {
	return badRequest(codeInvalidExternalOrderJWT, message)
}

func InvalidWalletAddress(address string) *Error {
	return badRequest(codeInvalidWalletAddress, fmt.Sprintf("invalid wallet address: %s", address))
}

func WrongSender() *Error {
	return transactionFailed(codeWrongSender, "wrong_sender")
}

func WrongRecipient() *Error {
	return transactionFailed(codeWrongRecipient, "wrong_recipient")
}

func WrongAmount() *Error {
	return transactionFailed(codeWrongAmount, "wrong_amount")
}

func AssetUnavailable() *Error {
	return transactionFailed(codeAssetUnavailable, "unavailable_asset")
}

func BlockchainError(message string) *Error {
	text := "blockchain_error"
	if message != "" {
		text += ": " + message
	}
	return transactionFailed(codeBlockchainError, text)
}

func TransactionTimeout() *Error {
	return transactionFailed(codeTransactionTimeout, "transaction_timeout")
}
