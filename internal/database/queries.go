/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	// Order queries
	queryInsertOrder = `
		INSERT INTO orders (
			id, origin, type, status, offer_id, amount, blockchain_data,
			value, error, created_date, current_status_date, expiration_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertOrderContext = `
		INSERT INTO orders_contexts (order_id, user_id, role, meta)
		VALUES (?, ?, ?, ?)`

	queryGetOrder = `
		SELECT id, origin, type, status, offer_id, amount, blockchain_data,
		       value, error, created_date, current_status_date, expiration_date
		FROM orders
		WHERE id = ?`

	queryGetOrderContexts = `
		SELECT order_id, user_id, role, meta
		FROM orders_contexts
		WHERE order_id = ?
		ORDER BY role DESC` // sender before recipient

	queryGetOpenOrder = `
		SELECT o.id
		FROM orders o
		JOIN orders_contexts c ON c.order_id = o.id
		WHERE o.offer_id = ? AND c.user_id = ?
		  AND o.status = 'opened' AND o.expiration_date > ?
		ORDER BY o.expiration_date DESC
		LIMIT 1`

	queryGetLatestOrder = `
		SELECT o.id
		FROM orders o
		JOIN orders_contexts c ON c.order_id = o.id
		WHERE o.offer_id = ? AND c.user_id = ?
		ORDER BY o.created_date DESC, o.id DESC
		LIMIT 1`

	queryHasCompletedOrder = `
		SELECT COUNT(1)
		FROM orders o
		JOIN orders_contexts c ON c.order_id = o.id
		WHERE o.offer_id = ? AND c.user_id = ? AND o.status = 'completed'`

	// Optimistic write: only applies while the stored status is unchanged
	queryUpdateOrder = `
		UPDATE orders
		SET status = ?, amount = ?, blockchain_data = ?, value = ?, error = ?,
		    current_status_date = ?, expiration_date = ?
		WHERE id = ? AND status = ?`

	queryDeleteOrder = `
		DELETE FROM orders WHERE id = ? AND status = ?`

	queryDeleteOrderContexts = `
		DELETE FROM orders_contexts WHERE order_id = ?`

	// Cap accounting: completed orders plus still-live opened/pending ones
	queryCountByOffer = `
		SELECT COUNT(1)
		FROM orders o
		WHERE o.offer_id = ?
		  AND (o.status = 'completed'
		       OR (o.status IN ('opened', 'pending') AND o.expiration_date > ?))`

	queryCountByOfferUser = `
		SELECT COUNT(1)
		FROM orders o
		JOIN orders_contexts c ON c.order_id = o.id
		WHERE o.offer_id = ? AND c.user_id = ?
		  AND (o.status = 'completed'
		       OR (o.status IN ('opened', 'pending') AND o.expiration_date > ?))`

	queryCountByUserSince = `
		SELECT COUNT(1)
		FROM orders o
		JOIN orders_contexts c ON c.order_id = o.id
		WHERE c.user_id = ? AND o.origin = ? AND o.created_date >= ?`

	// Offer queries
	queryGetOffer = `
		SELECT id, app_id, type, amount, cap, meta, blockchain_data, created_date
		FROM offers
		WHERE id = ?`

	queryGetOfferContent = `
		SELECT offer_id, content_type, content
		FROM offer_contents
		WHERE offer_id = ?`

	queryListOffersByApp = `
		SELECT id, app_id, type, amount, cap, meta, blockchain_data, created_date
		FROM offers
		WHERE app_id = ? AND type = ?`

	queryInsertOffer = `
		INSERT OR REPLACE INTO offers (id, app_id, type, amount, cap, meta, blockchain_data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryInsertOfferContent = `
		INSERT OR REPLACE INTO offer_contents (offer_id, content_type, content)
		VALUES (?, ?, ?)`

	queryInsertPollAnswers = `
		INSERT OR REPLACE INTO poll_answers (order_id, user_id, offer_id, content)
		VALUES (?, ?, ?, ?)`

	// Asset queries. The claim is a single conditional update so concurrent
	// completions can never be handed the same asset.
	queryClaimAsset = `
		UPDATE assets
		SET owner_id = ?
		WHERE id = (
			SELECT id FROM assets
			WHERE offer_id = ? AND owner_id = ''
			ORDER BY created_date, id
			LIMIT 1
		)
		RETURNING id, offer_id, owner_id, coupon_code, created_date`

	queryCountAvailableAssets = `
		SELECT COUNT(1) FROM assets WHERE offer_id = ? AND owner_id = ''`

	queryInsertAsset = `
		INSERT OR IGNORE INTO assets (id, offer_id, owner_id, coupon_code)
		VALUES (?, ?, '', ?)`

	// User queries
	queryGetUser = `
		SELECT id, app_id, app_user_id, wallet_address, activated, created_date
		FROM users
		WHERE id = ?`

	queryFindUserByAppUserId = `
		SELECT id, app_id, app_user_id, wallet_address, activated, created_date
		FROM users
		WHERE app_id = ? AND app_user_id = ?`

	queryGetApp = `
		SELECT id, name, wallet_addresses, recipient_address, blockchain_version, jwt_public_key, created_date
		FROM apps
		WHERE id = ?`
)
