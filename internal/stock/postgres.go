package stock

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/shopspring/decimal"
)

// PostgresStore is the durable replica of stock records.
type PostgresStore struct{ DB postgres.DB }

func (p *PostgresStore) Find(ctx context.Context, productID string) (Stock, bool, error) {
	var s Stock
	var price string
	err := p.DB.QueryRow(ctx, `
		SELECT product_id, product_name, unit_price::text, total_quantity, reserved_quantity, created_at, updated_at
		FROM stocks WHERE product_id = $1`, productID).
		Scan(&s.ProductID, &s.ProductName, &price, &s.TotalQuantity, &s.ReservedQuantity, &s.CreatedAt, &s.UpdatedAt)
	if postgres.NoRows(err) {
		return Stock{}, false, nil
	}
	if err != nil {
		return Stock{}, false, err
	}
	if s.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return Stock{}, false, fmt.Errorf("stock %s unit_price: %w", productID, err)
	}
	return s, true, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, s Stock) error {
	_, err := p.DB.Exec(ctx, `
		INSERT INTO stocks (product_id, product_name, unit_price, total_quantity, reserved_quantity, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		ON CONFLICT (product_id) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			unit_price = EXCLUDED.unit_price,
			total_quantity = EXCLUDED.total_quantity,
			reserved_quantity = EXCLUDED.reserved_quantity,
			updated_at = EXCLUDED.updated_at`,
		s.ProductID, s.ProductName, s.UnitPrice.String(), s.TotalQuantity, s.ReservedQuantity, s.CreatedAt, s.UpdatedAt)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, productID string) error {
	_, err := p.DB.Exec(ctx, `DELETE FROM stocks WHERE product_id = $1`, productID)
	return err
}

// TxStore is the append-only durable ledger. Entries are keyed by entry id,
// so replaying a sync event never duplicates a line.
type TxStore struct{ DB postgres.DB }

func (t *TxStore) Find(ctx context.Context, orderID string) (TxLog, bool, error) {
	rows, err := t.DB.Query(ctx, `
		SELECT entry_id, order_id, product_id, operation_type, status, quantity, unit_price::text,
		       COALESCE(error_message, ''), created_at, updated_at
		FROM stock_transactions WHERE order_id = $1 ORDER BY created_at, entry_id`, orderID)
	if err != nil {
		return TxLog{}, false, err
	}
	defer rows.Close()

	l := TxLog{OrderID: orderID}
	for rows.Next() {
		var e TxEntry
		var op, status, price string
		if err := rows.Scan(&e.EntryID, &e.OrderID, &e.ProductID, &op, &status, &e.Quantity, &price,
			&e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return TxLog{}, false, err
		}
		e.OperationType, e.Status = Operation(op), TxStatus(status)
		if e.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return TxLog{}, false, fmt.Errorf("entry %s unit_price: %w", e.EntryID, err)
		}
		l.Entries = append(l.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return TxLog{}, false, err
	}
	return l, len(l.Entries) > 0, nil
}

func (t *TxStore) Upsert(ctx context.Context, l TxLog) error {
	tx, err := t.DB.Begin(ctx)
	if err != nil {
		return err
	}
	for _, e := range l.Entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_transactions
				(entry_id, order_id, product_id, operation_type, status, quantity, unit_price, error_message, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, NULLIF($8, ''), $9, $10)
			ON CONFLICT (entry_id) DO NOTHING`,
			e.EntryID, e.OrderID, e.ProductID, string(e.OperationType), string(e.Status), e.Quantity, e.UnitPrice.String(),
			e.ErrorMessage, e.CreatedAt, e.UpdatedAt); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	return tx.Commit(ctx)
}

// Delete is a no-op: ledger lines are never removed.
func (t *TxStore) Delete(context.Context, string) error { return nil }
