package payment

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymentRowCols = []string{"transaction_id", "order_id", "channel_transaction_id", "amount", "transaction_type",
	"transaction_status", "error_code", "error_msg", "created_at", "updated_at"}

func TestPostgresStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	now := time.Now().UTC()
	p := Payment{TransactionID: "T1", OrderID: "O1", Amount: decimal.RequireFromString("200.00"), TransactionType: TypePay,
		TransactionStatus: StatusFailed, ErrorCode: "TRADE_CLOSED", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(`INSERT INTO payments`).
		WithArgs("T1", "O1", "", "200", "PAY", "FAILED", "TRADE_CLOSED", "", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM payments WHERE order_id`).
		WithArgs("O1").
		WillReturnRows(pgxmock.NewRows(paymentRowCols).
			AddRow("T1", "O1", "", "200.00", "PAY", "FAILED", "TRADE_CLOSED", "", now, now))
	mock.ExpectQuery(`FROM payments WHERE transaction_id`).
		WithArgs("T9").
		WillReturnRows(pgxmock.NewRows(paymentRowCols))
	mock.ExpectExec(`DELETE FROM payments`).
		WithArgs("T1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	s := &PostgresStore{DB: mock}
	require.NoError(t, s.Upsert(context.Background(), p))

	got, ok, err := s.FindByOrderID(context.Background(), "O1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.TransactionStatus)
	assert.True(t, got.Amount.Equal(p.Amount))

	_, ok, err = s.Find(context.Background(), "T9")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Delete(context.Background(), "T1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
