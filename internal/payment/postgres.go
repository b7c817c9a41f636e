package payment

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/shopspring/decimal"
)

const paymentColumns = `transaction_id, order_id, COALESCE(channel_transaction_id, ''), amount::text,
	transaction_type, transaction_status, COALESCE(error_code, ''), COALESCE(error_msg, ''), created_at, updated_at`

// PostgresStore is the durable replica of payments.
type PostgresStore struct{ DB postgres.DB }

func (p *PostgresStore) Find(ctx context.Context, transactionID string) (Payment, bool, error) {
	return p.scan(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
}

// FindByOrderID backs the duplicate check once the cache index has expired.
func (p *PostgresStore) FindByOrderID(ctx context.Context, orderID string) (Payment, bool, error) {
	return p.scan(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
}

func (p *PostgresStore) scan(ctx context.Context, q, arg string) (Payment, bool, error) {
	var r Payment
	var amount, typ, status string
	err := p.DB.QueryRow(ctx, q, arg).Scan(&r.TransactionID, &r.OrderID, &r.ChannelTransactionID, &amount,
		&typ, &status, &r.ErrorCode, &r.ErrorMsg, &r.CreatedAt, &r.UpdatedAt)
	if postgres.NoRows(err) {
		return Payment{}, false, nil
	}
	if err != nil {
		return Payment{}, false, err
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return Payment{}, false, fmt.Errorf("payment %s amount: %w", r.TransactionID, err)
	}
	r.TransactionType, r.TransactionStatus = Type(typ), Status(status)
	return r, true, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, r Payment) error {
	_, err := p.DB.Exec(ctx, `
		INSERT INTO payments (transaction_id, order_id, channel_transaction_id, amount, transaction_type,
			transaction_status, error_code, error_msg, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4::numeric, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		ON CONFLICT (transaction_id) DO UPDATE SET
			channel_transaction_id = EXCLUDED.channel_transaction_id,
			amount = EXCLUDED.amount,
			transaction_status = EXCLUDED.transaction_status,
			error_code = EXCLUDED.error_code,
			error_msg = EXCLUDED.error_msg,
			updated_at = EXCLUDED.updated_at`,
		r.TransactionID, r.OrderID, r.ChannelTransactionID, r.Amount.String(), string(r.TransactionType),
		string(r.TransactionStatus), r.ErrorCode, r.ErrorMsg, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, transactionID string) error {
	_, err := p.DB.Exec(ctx, `DELETE FROM payments WHERE transaction_id = $1`, transactionID)
	return err
}
