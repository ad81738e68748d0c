package store

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// InsertSignal persists a published signal.
func (s *Store) InsertSignal(ctx context.Context, r SignalRow) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals (id, seq, symbol, strategy_id, direction, confidence, emitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Seq, r.Symbol, r.StrategyID, r.Direction, r.Confidence, r.EmittedAt)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// UpsertOrder writes the current view of an order.
func (s *Store) UpsertOrder(ctx context.Context, r OrderRow) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO orders (idempotency_key, order_id, signal_id, strategy_id, symbol, side, qty,
		                    state, filled_qty, avg_fill_price, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			order_id = excluded.order_id,
			state = excluded.state,
			filled_qty = excluded.filled_qty,
			avg_fill_price = excluded.avg_fill_price,
			reason = excluded.reason,
			updated_at = CURRENT_TIMESTAMP
	`, r.IdempotencyKey, r.OrderID, r.SignalID, r.StrategyID, r.Symbol, r.Side, r.Qty,
		r.State, r.FilledQty, r.AvgFillPrice, r.Reason)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// InsertTransition appends one lifecycle state change.
func (s *Store) InsertTransition(ctx context.Context, r TransitionRow) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO order_transitions (idempotency_key, from_state, to_state, reason)
		VALUES (?, ?, ?, ?)
	`, r.IdempotencyKey, r.FromState, r.ToState, r.Reason)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// InsertTrade appends a committed fill. Re-inserting the same
// (order_id, fill_seq) is a no-op so replays stay idempotent.
func (s *Store) InsertTrade(ctx context.Context, r TradeRow) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (order_id, fill_seq, symbol, side, qty, price, strategy_id, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.OrderID, r.FillSeq, r.Symbol, r.Side, r.Qty, r.Price, r.StrategyID, r.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertDrop records a dropped signal with its rejection reason.
func (s *Store) InsertDrop(ctx context.Context, r DropRow) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO drops (signal_id, reason, detail)
		VALUES (?, ?, ?)
	`, r.SignalID, r.Reason, r.Detail)
	if err != nil {
		return fmt.Errorf("insert drop: %w", err)
	}
	return nil
}

// UpsertPosition mirrors the in-memory position for a symbol. A zero qty
// deletes the row.
func (s *Store) UpsertPosition(ctx context.Context, r PositionRow) error {
	if r.Qty == 0 {
		_, err := s.DB.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, r.Symbol)
		if err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, qty, avg_cost, last_price, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_cost = excluded.avg_cost,
			last_price = excluded.last_price,
			updated_at = CURRENT_TIMESTAMP
	`, r.Symbol, r.Qty, r.AvgCost, r.LastPrice)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// ListTrades returns the most recent trades, newest first.
func (s *Store) ListTrades(ctx context.Context, limit int) ([]TradeRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT order_id, fill_seq, symbol, side, qty, price, COALESCE(strategy_id, ''), executed_at
		FROM trades
		ORDER BY executed_at DESC, fill_seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.OrderID, &t.FillSeq, &t.Symbol, &t.Side, &t.Qty, &t.Price, &t.StrategyID, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListAllTrades returns every trade in execution order, for replay.
func (s *Store) ListAllTrades(ctx context.Context) ([]TradeRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT order_id, fill_seq, symbol, side, qty, price, COALESCE(strategy_id, ''), executed_at
		FROM trades
		ORDER BY executed_at ASC, fill_seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.OrderID, &t.FillSeq, &t.Symbol, &t.Side, &t.Qty, &t.Price, &t.StrategyID, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListOrders returns the most recently updated orders.
func (s *Store) ListOrders(ctx context.Context, limit int) ([]OrderRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT idempotency_key, COALESCE(order_id, ''), COALESCE(signal_id, ''), COALESCE(strategy_id, ''),
		       symbol, side, qty, state, COALESCE(filled_qty, 0), COALESCE(avg_fill_price, 0),
		       COALESCE(reason, ''), updated_at
		FROM orders
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []OrderRow
	for rows.Next() {
		var o OrderRow
		if err := rows.Scan(&o.IdempotencyKey, &o.OrderID, &o.SignalID, &o.StrategyID,
			&o.Symbol, &o.Side, &o.Qty, &o.State, &o.FilledQty, &o.AvgFillPrice,
			&o.Reason, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListTransitions returns the lifecycle history for one order.
func (s *Store) ListTransitions(ctx context.Context, idempotencyKey string) ([]TransitionRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT idempotency_key, from_state, to_state, COALESCE(reason, ''), created_at
		FROM order_transitions
		WHERE idempotency_key = ?
		ORDER BY id ASC
	`, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var ts []TransitionRow
	for rows.Next() {
		var t TransitionRow
		if err := rows.Scan(&t.IdempotencyKey, &t.FromState, &t.ToState, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		ts = append(ts, t)
	}
	return ts, rows.Err()
}

// ListPositions returns the mirrored position snapshots.
func (s *Store) ListPositions(ctx context.Context) ([]PositionRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT symbol, qty, avg_cost, COALESCE(last_price, 0), updated_at
		FROM positions
		ORDER BY symbol ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var ps []PositionRow
	for rows.Next() {
		var p PositionRow
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.AvgCost, &p.LastPrice, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}
