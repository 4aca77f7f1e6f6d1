package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/grid_ledger/internal/domain"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS lots (
			level INTEGER PRIMARY KEY,
			shares INTEGER NOT NULL,
			cost_basis REAL NOT NULL,
			buy_price REAL NOT NULL,
			sell_target REAL NOT NULL,
			status TEXT NOT NULL,
			order_ref TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id TEXT NOT NULL UNIQUE,
			broker_order_id TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL,
			side TEXT NOT NULL,
			qty INTEGER NOT NULL,
			price REAL NOT NULL,
			status TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			val TEXT NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: columns added after the first release.
	// We ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE lots ADD COLUMN order_side TEXT NOT NULL DEFAULT ''`)
	_, _ = s.db.Exec(`ALTER TABLE lots ADD COLUMN updated_at DATETIME`)

	return nil
}

const lotColumns = `level, shares, cost_basis, buy_price, sell_target, status, order_ref, order_side, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (*domain.Lot, error) {
	var (
		l       domain.Lot
		updated sql.NullTime
	)
	if err := row.Scan(&l.Level, &l.Shares, &l.CostBasis, &l.BuyPrice, &l.SellTarget, &l.Status,
		&l.OrderRef, &l.OrderSide, &l.CreatedAt, &updated); err != nil {
		return nil, err
	}
	if updated.Valid {
		l.UpdatedAt = updated.Time
	} else {
		l.UpdatedAt = l.CreatedAt
	}
	return &l, nil
}

// LotRepository Implementation

func (s *SQLiteStore) ListLots(ctx context.Context) ([]*domain.Lot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+lotColumns+` FROM lots ORDER BY level ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []*domain.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (s *SQLiteStore) GetLot(ctx context.Context, level int) (*domain.Lot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE level = ?`, level)
	l, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("level %d: %w", level, domain.ErrLotNotFound)
	}
	return l, err
}

func (s *SQLiteStore) InsertLot(ctx context.Context, lot *domain.Lot) error {
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = s.now()
	}
	lot.UpdatedAt = lot.CreatedAt
	query := `INSERT INTO lots (` + lotColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		lot.Level, lot.Shares, lot.CostBasis, lot.BuyPrice, lot.SellTarget, lot.Status,
		lot.OrderRef, lot.OrderSide, lot.CreatedAt, lot.UpdatedAt)
	return err
}

func (s *SQLiteStore) TransitionLot(ctx context.Context, t domain.LotTransition) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.transition(ctx, tx, t); err != nil {
			return err
		}
		if t.OrderRef != "" && t.OrderStatus != "" {
			return s.updateOrder(ctx, tx, t.OrderRef, "", t.OrderStatus, "")
		}
		return nil
	})
}

func (s *SQLiteStore) BeginOrder(ctx context.Context, t domain.LotTransition, order *domain.Order) error {
	if t.To != domain.LotOrderSent || t.OrderRef == "" {
		return fmt.Errorf("begin order on level %d: %w", t.Level, domain.ErrInvalidTransition)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.transition(ctx, tx, t); err != nil {
			return err
		}
		now := s.now()
		order.CreatedAt, order.UpdatedAt = now, now
		if order.Status == "" {
			order.Status = domain.OrderSubmitting
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO orders (client_order_id, broker_order_id, level, side, qty, price, status, note, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ClientOrderID, order.BrokerOrderID, order.Level, order.Side, order.Qty, order.Price,
			order.Status, order.Note, order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		order.ID, _ = res.LastInsertId()
		return nil
	})
}

func (s *SQLiteStore) AbortOrder(ctx context.Context, t domain.LotTransition, note string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.transition(ctx, tx, t); err != nil {
			return err
		}
		return s.updateOrder(ctx, tx, t.OrderRef, "", domain.OrderFailed, note)
	})
}

// transition is a compare-and-set on (status, order_ref).
func (s *SQLiteStore) transition(ctx context.Context, tx *sql.Tx, t domain.LotTransition) error {
	if !domain.CanTransition(t.From, t.To, t.OrderSide) {
		return fmt.Errorf("level %d %s->%s (%s): %w", t.Level, t.From, t.To, t.OrderSide, domain.ErrInvalidTransition)
	}

	newRef, newSide := "", domain.OrderSide("")
	if t.To == domain.LotOrderSent {
		newRef, newSide = t.OrderRef, t.OrderSide
	}

	query := `UPDATE lots SET status = ?, order_ref = ?, order_side = ?, updated_at = ? WHERE level = ? AND status = ?`
	args := []any{t.To, newRef, newSide, s.now(), t.Level, t.From}
	if t.From == domain.LotOrderSent {
		query += ` AND order_ref = ?`
		args = append(args, t.OrderRef)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("level %d is not %s: %w", t.Level, t.From, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// OrderRepository Implementation

func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	query := `SELECT id, client_order_id, broker_order_id, level, side, qty, price, status, note, created_at, updated_at
			  FROM orders ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.ClientOrderID, &o.BrokerOrderID, &o.Level, &o.Side, &o.Qty, &o.Price,
			&o.Status, &o.Note, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) UpdateOrder(ctx context.Context, clientOrderID, brokerOrderID string, status domain.OrderStatus, note string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.updateOrder(ctx, tx, clientOrderID, brokerOrderID, status, note)
	})
}

func (s *SQLiteStore) updateOrder(ctx context.Context, tx *sql.Tx, clientOrderID, brokerOrderID string, status domain.OrderStatus, note string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET
			status = ?,
			broker_order_id = CASE WHEN ? = '' THEN broker_order_id ELSE ? END,
			note = CASE WHEN ? = '' THEN note ELSE ? END,
			updated_at = ?
		 WHERE client_order_id = ?`,
		status, brokerOrderID, brokerOrderID, note, note, s.now(), clientOrderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("client order %s: %w", clientOrderID, domain.ErrOrderNotFound)
	}
	return nil
}

// MetaRepository Implementation

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := s.db.QueryRowContext(ctx, `SELECT val FROM meta WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, val) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET val = excluded.val`, key, value)
	return err
}

// Season and wipe

func (s *SQLiteStore) ResetSeason(ctx context.Context, r domain.SeasonReset) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM lots`); err != nil {
			return fmt.Errorf("delete lots: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, note = 'season reset', updated_at = ?
			 WHERE status NOT IN (?, ?, ?, ?, ?)`,
			domain.OrderCanceled, s.now(),
			domain.OrderFilled, domain.OrderCanceled, domain.OrderRejected, domain.OrderExpired, domain.OrderFailed); err != nil {
			return fmt.Errorf("close orders: %w", err)
		}
		values := map[string]string{
			domain.MetaStartingEquity: strconv.FormatFloat(r.StartingEquity, 'f', -1, 64),
			domain.MetaBankedPL:       strconv.FormatFloat(r.BankedPL, 'f', -1, 64),
			domain.MetaSeason:         strconv.Itoa(r.Season),
		}
		for k, v := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO meta (key, val) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET val = excluded.val`, k, v); err != nil {
				return fmt.Errorf("write meta %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) WipeAll(ctx context.Context, keep map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"lots", "orders", "meta"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("wipe %s: %w", table, err)
			}
		}
		for k, v := range keep {
			if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, val) VALUES (?, ?)`, k, v); err != nil {
				return fmt.Errorf("write meta %s: %w", k, err)
			}
		}
		return nil
	})
}
