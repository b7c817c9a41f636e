package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Namespaces double as cache key prefixes and sync dataTypes.
	Namespace   = "stock"
	TxNamespace = "stocktx"

	TTLStock = 24 * time.Hour
	TTLTxLog = 7 * 24 * time.Hour
)

type Stock struct {
	ProductID        string          `json:"productId"`
	ProductName      string          `json:"productName"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	TotalQuantity    int64           `json:"totalQuantity"`
	ReservedQuantity int64           `json:"reservedQuantity"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (s Stock) Available() int64 { return s.TotalQuantity - s.ReservedQuantity }

// Item is one product-quantity pair of a reserve/release request.
type Item struct {
	ProductID string          `json:"productId"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type Operation string

const (
	OpReserve Operation = "RESERVE"
	OpRelease Operation = "RELEASE"
)

type TxStatus string

const (
	TxSuccess TxStatus = "SUCCESS"
	TxFailed  TxStatus = "FAILED"
)

// TxEntry is one append-only ledger line: one per product per attempt.
type TxEntry struct {
	EntryID       string          `json:"entryId"`
	OrderID       string          `json:"orderId"`
	ProductID     string          `json:"productId"`
	OperationType Operation       `json:"operationType"`
	Status        TxStatus        `json:"status"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TxLog groups the entries of one order; it is the idempotency record
// for (orderId, operationType).
type TxLog struct {
	OrderID string    `json:"orderId"`
	Entries []TxEntry `json:"entries"`
}

func (l TxLog) Has(op Operation, st TxStatus) bool {
	for _, e := range l.Entries {
		if e.OperationType == op && e.Status == st {
			return true
		}
	}
	return false
}

// Quantities is the query view of one stock record.
type Quantities struct {
	ProductID string `json:"productId"`
	Total     int64  `json:"totalQuantity"`
	Available int64  `json:"availableQuantity"`
	Reserved  int64  `json:"reservedQuantity"`
}
