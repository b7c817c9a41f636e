package orders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/shopspring/decimal"
)

// PostgresStore is the durable replica of orders. Items are kept as JSONB.
type PostgresStore struct{ DB postgres.DB }

func (p *PostgresStore) Find(ctx context.Context, orderID string) (Order, bool, error) {
	var o Order
	var items, status, total string
	err := p.DB.QueryRow(ctx, `
		SELECT order_id, customer_id, items::text, status, total_amount::text,
		       COALESCE(payment_link, ''), COALESCE(note, ''), created_at, updated_at
		FROM orders WHERE order_id = $1`, orderID).
		Scan(&o.OrderID, &o.CustomerID, &items, &status, &total, &o.PaymentLink, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	if postgres.NoRows(err) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return Order{}, false, fmt.Errorf("order %s items: %w", orderID, err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Order{}, false, fmt.Errorf("order %s total_amount: %w", orderID, err)
	}
	o.Status = Status(status)
	return o, true, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, o Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = p.DB.Exec(ctx, `
		INSERT INTO orders (order_id, customer_id, items, status, total_amount, payment_link, note, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5::numeric, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
		ON CONFLICT (order_id) DO UPDATE SET
			items = EXCLUDED.items,
			status = EXCLUDED.status,
			total_amount = EXCLUDED.total_amount,
			payment_link = EXCLUDED.payment_link,
			note = EXCLUDED.note,
			updated_at = EXCLUDED.updated_at`,
		o.OrderID, o.CustomerID, string(items), string(o.Status), o.TotalAmount.String(), o.PaymentLink, o.Note, o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, orderID string) error {
	_, err := p.DB.Exec(ctx, `DELETE FROM orders WHERE order_id = $1`, orderID)
	return err
}
