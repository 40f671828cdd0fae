package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"

	"go.uber.org/zap"
)

// Opened orders with less than this much lifetime left are not reused; the
// client needs time to actually complete them.
const minReusableLifetime = 2 * time.Minute

func (s *Service) Create(ctx context.Context, order *models.Order) error {
	blockchainData, err := json.Marshal(order.BlockchainData)
	if err != nil {
		return fmt.Errorf("unable to marshal blockchain data: %w", err)
	}
	value, err := marshalNullable(order.Value)
	if err != nil {
		return fmt.Errorf("unable to marshal order value: %w", err)
	}
	orderErr, err := marshalNullable(order.Error)
	if err != nil {
		return fmt.Errorf("unable to marshal order error: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, queryInsertOrder,
		order.Id, order.Origin, order.Type, order.Status, order.OfferId, order.Amount,
		string(blockchainData), value, orderErr,
		order.CreatedDate, order.CurrentStatusDate, nullableTime(order.ExpirationDate))
	if err != nil {
		return fmt.Errorf("unable to insert order: %w", err)
	}

	for _, c := range order.Contexts() {
		meta, err := json.Marshal(c.Meta)
		if err != nil {
			return fmt.Errorf("unable to marshal context meta: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryInsertOrderContext, c.OrderId, c.UserId, c.Role, string(meta)); err != nil {
			return fmt.Errorf("unable to insert order context: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit order: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, orderId string) (*models.Order, error) {
	order, err := s.scanOrder(s.db.QueryRowContext(ctx, queryGetOrder, orderId))
	if err != nil {
		return nil, err
	}
	if err := s.loadContexts(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) GetOpenOrder(ctx context.Context, offerId, userId string) (*models.Order, error) {
	latestExpiration := time.Now().UTC().Add(minReusableLifetime)

	var id string
	err := s.db.QueryRowContext(ctx, queryGetOpenOrder, offerId, userId, latestExpiration).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query open order: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *Service) GetLatest(ctx context.Context, offerId, userId string) (*models.Order, error) {
	var id string
	err := s.db.QueryRowContext(ctx, queryGetLatestOrder, offerId, userId).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query latest order: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *Service) HasCompleted(ctx context.Context, offerId, userId string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, queryHasCompletedOrder, offerId, userId).Scan(&count); err != nil {
		return false, fmt.Errorf("unable to count completed orders: %w", err)
	}
	return count > 0, nil
}

// Update writes the order's mutable fields with an optimistic check against the
// status the caller read. Concurrent transitions on the same order lose the
// race and surface ErrConcurrentModification instead of overwriting.
func (s *Service) Update(ctx context.Context, order *models.Order, expectedStatus models.OrderStatus) error {
	blockchainData, err := json.Marshal(order.BlockchainData)
	if err != nil {
		return fmt.Errorf("unable to marshal blockchain data: %w", err)
	}
	value, err := marshalNullable(order.Value)
	if err != nil {
		return fmt.Errorf("unable to marshal order value: %w", err)
	}
	orderErr, err := marshalNullable(order.Error)
	if err != nil {
		return fmt.Errorf("unable to marshal order error: %w", err)
	}

	res, err := s.db.ExecContext(ctx, queryUpdateOrder,
		order.Status, order.Amount, string(blockchainData), value, orderErr,
		order.CurrentStatusDate, nullableTime(order.ExpirationDate),
		order.Id, expectedStatus)
	if err != nil {
		return fmt.Errorf("unable to update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to read update result: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or someone transitioned it first.
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, order.Id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("unable to check order existence: %w", err)
		}
		return store.ErrConcurrentModification
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, orderId string, expectedStatus models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx, queryDeleteOrder, orderId, expectedStatus)
	if err != nil {
		return fmt.Errorf("unable to delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to read delete result: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, queryDeleteOrderContexts, orderId); err != nil {
		zap.L().Warn("Failed to delete order contexts", zap.String("order_id", orderId), zap.Error(err))
	}
	return nil
}

func (s *Service) CountByOffer(ctx context.Context, offerId, userId string) (int, error) {
	now := time.Now().UTC()
	var count int
	var err error
	if userId == "" {
		err = s.db.QueryRowContext(ctx, queryCountByOffer, offerId, now).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, queryCountByOfferUser, offerId, userId, now).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("unable to count orders by offer: %w", err)
	}
	return count, nil
}

func (s *Service) CountByUserSince(ctx context.Context, userId string, origin models.OrderOrigin, since time.Time) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, queryCountByUserSince, userId, origin, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("unable to count user orders: %w", err)
	}
	return count, nil
}

func (s *Service) List(ctx context.Context, filters store.OrderFilters) ([]*models.Order, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT DISTINCT o.id, o.current_status_date
		FROM orders o
		JOIN orders_contexts c ON c.order_id = o.id
		WHERE c.user_id = ?`)
	args := []any{filters.UserId}

	appendFilter(&query, &args, "o.status", filters.Status)
	appendFilter(&query, &args, "o.origin", filters.Origin)
	appendFilter(&query, &args, "o.offer_id", filters.OfferId)

	query.WriteString(" ORDER BY o.current_status_date DESC, o.id DESC")
	if filters.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filters.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to list orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var statusDate time.Time
		if err := rows.Scan(&id, &statusDate); err != nil {
			return nil, fmt.Errorf("unable to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to iterate orders: %w", err)
	}

	orders := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		order, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// appendFilter adds an equality condition; a leading "!" negates it.
func appendFilter(query *strings.Builder, args *[]any, column, value string) {
	if value == "" {
		return
	}
	if strings.HasPrefix(value, "!") {
		query.WriteString(" AND " + column + " != ?")
		*args = append(*args, value[1:])
	} else {
		query.WriteString(" AND " + column + " = ?")
		*args = append(*args, value)
	}
}

func (s *Service) scanOrder(row *sql.Row) (*models.Order, error) {
	var (
		order          models.Order
		blockchainData string
		value          sql.NullString
		orderErr       sql.NullString
		expiration     sql.NullTime
	)
	err := row.Scan(&order.Id, &order.Origin, &order.Type, &order.Status, &order.OfferId,
		&order.Amount, &blockchainData, &value, &orderErr,
		&order.CreatedDate, &order.CurrentStatusDate, &expiration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to scan order: %w", err)
	}

	if err := json.Unmarshal([]byte(blockchainData), &order.BlockchainData); err != nil {
		return nil, fmt.Errorf("unable to unmarshal blockchain data: %w", err)
	}
	if value.Valid {
		order.Value = &models.OrderValue{}
		if err := json.Unmarshal([]byte(value.String), order.Value); err != nil {
			return nil, fmt.Errorf("unable to unmarshal order value: %w", err)
		}
	}
	if orderErr.Valid {
		order.Error = &models.OrderError{}
		if err := json.Unmarshal([]byte(orderErr.String), order.Error); err != nil {
			return nil, fmt.Errorf("unable to unmarshal order error: %w", err)
		}
	}
	if expiration.Valid {
		t := expiration.Time.UTC()
		order.ExpirationDate = &t
	}
	return &order, nil
}

func (s *Service) loadContexts(ctx context.Context, order *models.Order) error {
	rows, err := s.db.QueryContext(ctx, queryGetOrderContexts, order.Id)
	if err != nil {
		return fmt.Errorf("unable to query order contexts: %w", err)
	}
	defer rows.Close()

	var contexts []models.OrderContext
	for rows.Next() {
		var c models.OrderContext
		var meta string
		if err := rows.Scan(&c.OrderId, &c.UserId, &c.Role, &meta); err != nil {
			return fmt.Errorf("unable to scan order context: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Meta); err != nil {
			return fmt.Errorf("unable to unmarshal context meta: %w", err)
		}
		contexts = append(contexts, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("unable to iterate order contexts: %w", err)
	}

	// A single context belongs to the acting user whatever its role; with two
	// contexts the sender is the acting user and the recipient the second
	// participant (p2p).
	switch len(contexts) {
	case 1:
		order.UserId = contexts[0].UserId
		order.Meta = contexts[0].Meta
	case 2:
		for _, c := range contexts {
			if c.Role == models.RoleSender {
				order.UserId = c.UserId
				order.Meta = c.Meta
			} else {
				order.RecipientId = c.UserId
				meta := c.Meta
				order.RecipientMeta = &meta
			}
		}
	}
	return nil
}

func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case *models.OrderValue:
		if t == nil {
			return nil, nil
		}
	case *models.OrderError:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
