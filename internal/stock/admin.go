package stock

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/syncer"
	"github.com/shopspring/decimal"
)

type UpdateCmd struct {
	ProductID   string           `json:"productId"`
	Quantity    int64            `json:"quantity"`
	ProductName string           `json:"productName,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unitPrice,omitempty"`
}

// UpdateStock sets the total quantity, creating the record when missing.
// A total below the current reservation is rejected.
func (s *Service) UpdateStock(ctx context.Context, cmd UpdateCmd) (Stock, error) {
	if cmd.ProductID == "" {
		return Stock{}, apperr.Validation("productId is required")
	}
	if cmd.Quantity < 0 {
		return Stock{}, apperr.Validation("quantity must be >= 0")
	}
	if cmd.UnitPrice != nil && cmd.UnitPrice.IsNegative() {
		return Stock{}, apperr.Validation("unitPrice must be >= 0")
	}

	var out Stock
	err := s.stocks.WithLock(ctx, cmd.ProductID, func(ctx context.Context) error {
		st, ok, err := s.stocks.Load(ctx, cmd.ProductID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		op := syncer.OpUpdate
		if !ok {
			op = syncer.OpCreate
			st = Stock{
				ProductID:   cmd.ProductID,
				ProductName: fmt.Sprintf("Product %s", cmd.ProductID),
				CreatedAt:   now,
			}
		} else if cmd.Quantity < st.ReservedQuantity {
			return apperr.Conflict("product %s: total %d below reserved %d", cmd.ProductID, cmd.Quantity, st.ReservedQuantity)
		}
		st.TotalQuantity = cmd.Quantity
		if cmd.ProductName != "" {
			st.ProductName = cmd.ProductName
		}
		if cmd.UnitPrice != nil {
			st.UnitPrice = *cmd.UnitPrice
		}
		st.UpdatedAt = now
		if err := s.stocks.Save(ctx, st, op); err != nil {
			return err
		}
		out = st
		return nil
	})
	if err == nil {
		s.log.Info().Str("productId", out.ProductID).Int64("total", out.TotalQuantity).Msg("stock updated")
	}
	return out, err
}

// DeleteStock removes a record. Records with outstanding reservations are
// kept, since deleting them would orphan the reservation.
func (s *Service) DeleteStock(ctx context.Context, productID string) error {
	if productID == "" {
		return apperr.Validation("productId is required")
	}
	return s.stocks.WithLock(ctx, productID, func(ctx context.Context) error {
		st, ok, err := s.stocks.Load(ctx, productID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("product %s not found", productID)
		}
		if st.ReservedQuantity > 0 {
			return apperr.Conflict("product %s has %d reserved", productID, st.ReservedQuantity)
		}
		_, err = s.stocks.Remove(ctx, productID)
		return err
	})
}

func (s *Service) GetStock(ctx context.Context, productID string) (Stock, error) {
	st, ok, err := s.stocks.Get(ctx, productID)
	if err != nil {
		return Stock{}, err
	}
	if !ok {
		return Stock{}, apperr.NotFound("product %s not found", productID)
	}
	return st, nil
}

func (s *Service) Quantities(ctx context.Context, productID string) (Quantities, error) {
	st, err := s.GetStock(ctx, productID)
	if err != nil {
		return Quantities{}, err
	}
	return Quantities{ProductID: productID, Total: st.TotalQuantity, Available: st.Available(), Reserved: st.ReservedQuantity}, nil
}

// TxLog returns the ledger entries recorded for orderID.
func (s *Service) TxLog(ctx context.Context, orderID string) (TxLog, error) {
	l, ok, err := s.txlog.Get(ctx, orderID)
	if err != nil {
		return TxLog{}, err
	}
	if !ok {
		return TxLog{OrderID: orderID}, nil
	}
	return l, nil
}
