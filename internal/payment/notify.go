package payment

import (
	"context"
	"errors"
	"net/url"

	"github.com/shopspring/decimal"
)

// Webhook reply sentinels.
const (
	ReplySuccess = "success" // stop retrying
	ReplyFailure = "failure" // gateway retries later
)

type TradeStatus string

const (
	TradeSuccess      TradeStatus = "TRADE_SUCCESS"
	TradeFinished     TradeStatus = "TRADE_FINISHED"
	TradeClosed       TradeStatus = "TRADE_CLOSED"
	TradeWaitBuyerPay TradeStatus = "WAIT_BUYER_PAY"
)

// Notify is the gateway callback.
type Notify struct {
	AppID         string
	TradeNo       string
	OutTradeNo    string
	BuyerID       string
	TradeStatus   TradeStatus
	TotalAmount   string
	ReceiptAmount string
	NotifyTime    string
	NotifyType    string
	NotifyID      string
}

func ParseNotify(form url.Values) Notify {
	return Notify{
		AppID:         form.Get("app_id"),
		TradeNo:       form.Get("trade_no"),
		OutTradeNo:    form.Get("out_trade_no"),
		BuyerID:       form.Get("buyer_id"),
		TradeStatus:   TradeStatus(form.Get("trade_status")),
		TotalAmount:   form.Get("total_amount"),
		ReceiptAmount: form.Get("receipt_amount"),
		NotifyTime:    form.Get("notify_time"),
		NotifyType:    form.Get("notify_type"),
		NotifyID:      form.Get("notify_id"),
	}
}

// Amount parses total_amount; an absent amount is zero.
func (n Notify) Amount() (decimal.Decimal, error) {
	if n.TotalAmount == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.TotalAmount)
}

// Verifier checks the signature of a callback.
type Verifier interface {
	Verify(ctx context.Context, form url.Values) error
}

var ErrBadSignature = errors.New("notify signature mismatch")
