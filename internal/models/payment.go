package models

import "github.com/shopspring/decimal"

// Wire shapes of the payment gateway API.

// PaymentRequest is the body of POST /payments.
type PaymentRequest struct {
	Amount           int64  `json:"amount"`
	AppId            string `json:"app_id"`
	IsExternal       bool   `json:"is_external"`
	RecipientAddress string `json:"recipient_address"`
	SenderAddress    string `json:"sender_address"`
	Id               string `json:"id"`
	Callback         string `json:"callback"`
}

// WalletRequest is the body of POST /wallets.
type WalletRequest struct {
	Id            string `json:"id"`
	WalletAddress string `json:"wallet_address"`
	AppId         string `json:"app_id"`
	Callback      string `json:"callback"`
}

// Wallet is the response of GET /wallets/{address}.
type Wallet struct {
	WalletAddress string          `json:"wallet_address"`
	KinBalance    decimal.Decimal `json:"kin_balance"`
	NativeBalance decimal.Decimal `json:"native_balance"`
}

// Watcher is the body and response of POST /watchers/{service_id}.
type Watcher struct {
	WalletAddresses []string `json:"wallet_addresses"`
	OrderId         string   `json:"order_id"`
	Callback        string   `json:"callback"`
	ServiceId       string   `json:"service_id,omitempty"`
}

// WatcherRemoval is the body of DELETE /watchers/{service_id}.
type WatcherRemoval struct {
	WalletAddress string `json:"wallet_address"`
	OrderId       string `json:"order_id"`
}

// BlockchainConfig is the response of GET /config, fetched once at startup and
// passed through the wiring (no global mutable cache).
type BlockchainConfig struct {
	HorizonURL        string `json:"horizon_url"`
	NetworkPassphrase string `json:"network_passphrase"`
	AssetIssuer       string `json:"asset_issuer"`
	AssetCode         string `json:"asset_code"`
}

// WhitelistRequest is the body of POST /whitelist.
type WhitelistRequest struct {
	OrderId     string `json:"order_id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	XDR         string `json:"xdr"`
	NetworkId   string `json:"network_id"`
	AppId       string `json:"app_id"`
}

// WhitelistResponse is the response of POST /whitelist.
type WhitelistResponse struct {
	TxEnvelope string `json:"tx_envelope"`
}

// CompletedPayment is the asynchronous completion callback delivered by the
// gateway to the internal webhook.
type CompletedPayment struct {
	Id               string `json:"id"`
	AppId            string `json:"app_id"`
	TransactionId    string `json:"transaction_id"`
	RecipientAddress string `json:"recipient_address"`
	SenderAddress    string `json:"sender_address"`
	Amount           int64  `json:"amount"`
	Timestamp        string `json:"timestamp"`
}

// FailedPayment is the asynchronous failure callback.
type FailedPayment struct {
	Id     string `json:"id"`
	Reason string `json:"reason"`
}

// WalletCreationSuccess and WalletCreationFailure are wallet lifecycle
// callbacks; the marketplace only acknowledges and records them.
type WalletCreationSuccess struct {
	Id string `json:"id"` // user id
}

type WalletCreationFailure struct {
	Id     string `json:"id"` // user id
	Reason string `json:"reason"`
}
