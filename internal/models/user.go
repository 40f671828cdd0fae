package models

import "time"

// User is the acting participant of orders. AppUserId is the id the embedding
// application knows the user by; WalletAddress is the user's kin wallet.
type User struct {
	Id            string    `db:"id"`
	AppId         string    `db:"app_id"`
	AppUserId     string    `db:"app_user_id"`
	WalletAddress string    `db:"wallet_address"`
	Activated     bool      `db:"activated"`
	CreatedDate   time.Time `db:"created_date"`
}

// App is an embedding application. SenderAddresses holds the app's candidate
// sender wallets: the primary ("our") wallet first, the secondary ("joined")
// wallet second.
type App struct {
	Id                string    `db:"id"`
	Name              string    `db:"name"`
	SenderAddresses   []string  `db:"wallet_addresses"`
	RecipientAddress  string    `db:"recipient_address"`
	BlockchainVersion string    `db:"blockchain_version"`
	JWTPublicKey      string    `db:"jwt_public_key"`
	CreatedDate       time.Time `db:"created_date"`
}

// OurWallet returns the primary sender wallet.
func (a *App) OurWallet() string {
	if len(a.SenderAddresses) == 0 {
		return ""
	}
	return a.SenderAddresses[0]
}

// JoinedWallet returns the secondary sender wallet, falling back to the
// primary when no secondary is configured.
func (a *App) JoinedWallet() string {
	if len(a.SenderAddresses) > 1 {
		return a.SenderAddresses[1]
	}
	return a.OurWallet()
}
