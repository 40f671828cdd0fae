package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"
)

type userStore struct {
	*Service
}

// UserStore returns the store.Users view of the service.
func (s *Service) UserStore() store.Users {
	return userStore{s}
}

func (v userStore) Get(ctx context.Context, userId string) (*models.User, error) {
	return v.Service.GetUser(ctx, userId)
}

func (s *Service) GetUser(ctx context.Context, userId string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, queryGetUser, userId))
}

func (s *Service) FindByAppUserId(ctx context.Context, appId, appUserId string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, queryFindUserByAppUserId, appId, appUserId))
}

func (s *Service) GetApp(ctx context.Context, appId string) (*models.App, error) {
	var (
		app       models.App
		addresses string
	)
	err := s.db.QueryRowContext(ctx, queryGetApp, appId).Scan(
		&app.Id, &app.Name, &addresses, &app.RecipientAddress,
		&app.BlockchainVersion, &app.JWTPublicKey, &app.CreatedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to scan app: %w", err)
	}
	// candidate sender wallets: "our,joined"
	for _, addr := range strings.Split(addresses, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			app.SenderAddresses = append(app.SenderAddresses, addr)
		}
	}
	return &app, nil
}

// InsertUser and InsertApp exist for the seed tool and tests.
func (s *Service) InsertUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users (id, app_id, app_user_id, wallet_address, activated) VALUES (?, ?, ?, ?, ?)`,
		user.Id, user.AppId, user.AppUserId, user.WalletAddress, user.Activated)
	if err != nil {
		return fmt.Errorf("unable to insert user: %w", err)
	}
	return nil
}

func (s *Service) InsertApp(ctx context.Context, app *models.App) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO apps (id, name, wallet_addresses, recipient_address, blockchain_version, jwt_public_key) VALUES (?, ?, ?, ?, ?, ?)`,
		app.Id, app.Name, strings.Join(app.SenderAddresses, ","), app.RecipientAddress,
		app.BlockchainVersion, app.JWTPublicKey)
	if err != nil {
		return fmt.Errorf("unable to insert app: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.Id, &user.AppId, &user.AppUserId, &user.WalletAddress, &user.Activated, &user.CreatedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to scan user: %w", err)
	}
	return &user, nil
}
