package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	Namespace = "payment"
	// index of orderId -> transactionId, cache only
	IndexNamespace = "paymentidx"

	TTLTransient = 30 * time.Minute
	TTLTerminal  = 60 * time.Minute
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRefunded Status = "REFUNDED"
)

type Type string

const (
	TypePay    Type = "PAY"
	TypeRefund Type = "REFUND"
)

type Payment struct {
	TransactionID        string          `json:"transactionId"`
	OrderID              string          `json:"orderId"`
	ChannelTransactionID string          `json:"channelTransactionId,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	TransactionType      Type            `json:"transactionType"`
	TransactionStatus    Status          `json:"transactionStatus"`
	ErrorCode            string          `json:"errorCode,omitempty"`
	ErrorMsg             string          `json:"errorMsg,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

var validNext = map[Status]map[Status]bool{
	StatusPending:  {StatusSuccess: true, StatusFailed: true},
	StatusSuccess:  {StatusRefunded: true},
	StatusFailed:   {},
	StatusRefunded: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func ttlFor(p Payment) time.Duration {
	if p.TransactionStatus == StatusPending {
		return TTLTransient
	}
	return TTLTerminal
}
