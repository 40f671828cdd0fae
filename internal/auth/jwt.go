package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"marketplace-server-go/internal/apierr"
	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"

	"github.com/golang-jwt/jwt/v4"
)

// blockchain tag embedded in payment confirmations
const confirmationBlockchain = "stellar-testnet"

// Participant is one side of an external order as described by its JWT.
type Participant struct {
	UserId      string `json:"user_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ExternalOrderPayload is the verified content of an external offer token.
type ExternalOrderPayload struct {
	AppId     string
	Subject   models.OrderType
	OfferId   string
	Amount    int64
	Sender    Participant
	Recipient Participant
}

type externalOrderClaims struct {
	jwt.RegisteredClaims
	Offer struct {
		Id     string `json:"id"`
		Amount int64  `json:"amount"`
	} `json:"offer"`
	Sender    *Participant `json:"sender,omitempty"`
	Recipient *Participant `json:"recipient,omitempty"`
}

// Verifier validates external order JWTs against the issuing app's public key.
type Verifier struct {
	users store.Users
}

func NewVerifier(users store.Users) *Verifier {
	return &Verifier{users: users}
}

// ValidateExternalOrderJWT verifies the token signature against the public
// key of the app named by the iss claim, and checks that the subject is a
// known order type. For earn orders the named recipient must be the acting
// user.
func (v *Verifier) ValidateExternalOrderJWT(ctx context.Context, token string, user *models.User) (*ExternalOrderPayload, error) {
	claims := &externalOrderClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		iss := claims.Issuer
		if iss == "" {
			return nil, fmt.Errorf("missing iss claim")
		}
		app, err := v.users.GetApp(ctx, iss)
		if err != nil {
			return nil, fmt.Errorf("unable to resolve app %q: %w", iss, err)
		}
		return ParsePublicKey(app.JWTPublicKey)
	})
	if err != nil {
		return nil, apierr.InvalidExternalOrderJWT(fmt.Sprintf("the JWT failed to verify: %v", err))
	}

	subject := models.OrderType(claims.Subject)
	switch subject {
	case models.OrderTypeEarn, models.OrderTypeSpend, models.OrderTypePayToUser:
	default:
		return nil, apierr.InvalidExternalOrderJWT(`subject can be either "earn", "spend" or "pay_to_user"`)
	}

	payload := &ExternalOrderPayload{
		AppId:   claims.Issuer,
		Subject: subject,
		OfferId: claims.Offer.Id,
		Amount:  claims.Offer.Amount,
	}
	if claims.Sender != nil {
		payload.Sender = *claims.Sender
	}
	if claims.Recipient != nil {
		payload.Recipient = *claims.Recipient
	}

	if subject == models.OrderTypeEarn && payload.Recipient.UserId != "" && payload.Recipient.UserId != user.AppUserId {
		return nil, apierr.InvalidExternalOrderJWT(
			fmt.Sprintf("pay to user (%s) is not the logged in user (%s)", payload.Recipient.UserId, user.AppUserId))
	}

	return payload, nil
}

// Signer produces payment-confirmation credentials for completed external
// orders.
type Signer struct {
	key    *ecdsa.PrivateKey
	keyId  string
	issuer string
}

func NewSigner(cfg models.JWTConfig) (*Signer, error) {
	key, err := ParsePrivateKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("unable to parse signing key: %w", err)
	}
	return &Signer{key: key, keyId: cfg.KeyId, issuer: cfg.Issuer}, nil
}

type paymentConfirmationClaims struct {
	jwt.RegisteredClaims
	OfferId         string `json:"offer_id"`
	SenderUserId    string `json:"sender_user_id,omitempty"`
	RecipientUserId string `json:"recipient_user_id,omitempty"`
	Payment         struct {
		Blockchain    string `json:"blockchain"`
		TransactionId string `json:"transaction_id"`
	} `json:"payment"`
}

// SignPaymentConfirmation names the appropriate counterparty for the order
// type: the user receives on earn, sends otherwise.
func (s *Signer) SignPaymentConfirmation(order *models.Order, appUserId string) (string, error) {
	now := time.Now().UTC()
	claims := &paymentConfirmationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   "payment_confirmation",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
		OfferId: order.OfferId,
	}
	if order.Type == models.OrderTypeEarn {
		claims.RecipientUserId = appUserId
	} else {
		claims.SenderUserId = appUserId
	}
	claims.Payment.Blockchain = confirmationBlockchain
	claims.Payment.TransactionId = order.BlockchainData.TransactionId

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	if s.keyId != "" {
		token.Header["kid"] = s.keyId
	}
	return token.SignedString(s.key)
}

// ParsePrivateKey reads a PEM encoded ECDSA private key.
func ParsePrivateKey(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an ECDSA private key")
	}
	return key, nil
}

// ParsePublicKey reads a PEM encoded ECDSA public key.
func ParsePublicKey(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unable to parse public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an ECDSA public key")
	}
	return key, nil
}
