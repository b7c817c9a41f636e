package stock

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateStockCreatesWithDefaultName(t *testing.T) {
	f := newLedger(t)
	st, err := f.svc.UpdateStock(context.Background(), UpdateCmd{ProductID: "P7", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, "Product P7", st.ProductName)
	assert.EqualValues(t, 3, st.Available())
	assert.False(t, st.CreatedAt.IsZero())
}

func TestUpdateStockRejections(t *testing.T) {
	ctx := context.Background()
	f := newLedger(t)
	f.seed(t, "P1", 10)
	require.NoError(t, f.svc.Reserve(ctx, "O1", []Item{{ProductID: "P1", Quantity: 6}}))

	_, err := f.svc.UpdateStock(ctx, UpdateCmd{ProductID: "P1", Quantity: 5})
	assert.ErrorIs(t, err, apperr.ErrConflict, "total below reserved")
	_, err = f.svc.UpdateStock(ctx, UpdateCmd{ProductID: "P1", Quantity: -1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.UpdateStock(ctx, UpdateCmd{Quantity: 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	st, err := f.svc.UpdateStock(ctx, UpdateCmd{ProductID: "P1", Quantity: 6})
	require.NoError(t, err)
	assert.Zero(t, st.Available())
	assert.Equal(t, "Product P1", st.ProductName, "name kept when not supplied")
}

func TestDeleteStock(t *testing.T) {
	ctx := context.Background()
	f := newLedger(t)
	f.seed(t, "P1", 10)
	require.NoError(t, f.svc.Reserve(ctx, "O1", []Item{{ProductID: "P1", Quantity: 1}}))

	assert.ErrorIs(t, f.svc.DeleteStock(ctx, "P1"), apperr.ErrConflict)
	assert.ErrorIs(t, f.svc.DeleteStock(ctx, "nope"), apperr.ErrNotFound)

	require.NoError(t, f.svc.Release(ctx, "O1", []Item{{ProductID: "P1", Quantity: 1}}))
	require.NoError(t, f.svc.DeleteStock(ctx, "P1"))
	_, err := f.svc.GetStock(ctx, "P1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
